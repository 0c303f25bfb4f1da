package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format selects the decoder for a definition payload.
type Format int

const (
	FormatYAML Format = iota
	// FormatJSONC is JSON with comments and trailing commas; plain JSON is a
	// subset of it.
	FormatJSONC
)

// FormatForPath picks a decoder from a file extension. Unknown extensions are
// reported with ok=false.
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json", ".jsonc":
		return FormatJSONC, true
	default:
		return FormatYAML, false
	}
}

// Parse decodes and normalizes a definition.
func Parse(data []byte, format Format) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, Configf("", "", "definition payload is empty")
	}
	var def Definition
	switch format {
	case FormatJSONC:
		if err := json.Unmarshal(jsonc.ToJSON(data), &def); err != nil {
			return Definition{}, Configf("", "", "decode definition: %v", err)
		}
	default:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return Definition{}, Configf("", "", "decode definition: %v", err)
		}
	}
	return def.Normalized()
}

// LoadFile loads a definition from an explicit path.
func LoadFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	format, _ := FormatForPath(path)
	def, err := Parse(content, format)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) && cfgErr.Pipeline == "" {
			cfgErr.Pipeline = path
		}
		return Definition{}, err
	}
	def.Source = path
	return def, nil
}

// LoadDir loads every definition file directly inside dir, sorted by ID. A
// missing directory yields no definitions. Two files declaring the same ID is
// a configuration error.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("pipeline: read dir %s: %w", dir, err)
	}
	var defs []Definition
	sources := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, ok := FormatForPath(path); !ok {
			continue
		}
		def, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if other, dup := sources[def.ID]; dup {
			return nil, Configf(def.ID, "id", "declared in both %s and %s", other, path)
		}
		sources[def.ID] = path
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// Find returns the definition with the given ID.
func Find(defs []Definition, id string) (Definition, bool) {
	for _, def := range defs {
		if def.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}
