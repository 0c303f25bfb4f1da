package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"
)

// goDefinitionFunc is the function a Go tool file must declare:
//
//	func ToolDefinitions() ([]map[string]any, error)
const goDefinitionFunc = "ToolDefinitions"

// DefinitionFile pairs a parsed tool definition with where it came from.
// Go files may declare several tools; their Path carries a #N suffix.
type DefinitionFile struct {
	Definition ToolDefinition
	Path       string
}

// ParseDefinitionYAML decodes and validates one tool definition.
func ParseDefinitionYAML(data []byte) (ToolDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return ToolDefinition{}, fmt.Errorf("plugin: definition is empty")
	}
	var def ToolDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return ToolDefinition{}, fmt.Errorf("plugin: decode definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return ToolDefinition{}, err
	}
	return def.Normalized(), nil
}

// LoadDir reads every tool definition in dir: *.yaml and *.yml files hold
// one definition each, *.go files are interpreted and must declare
// ToolDefinitions. A missing directory yields nothing.
func LoadDir(dir string) ([]DefinitionFile, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", dir, err)
	}
	var files []DefinitionFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("plugin: read %s: %w", path, err)
			}
			def, err := ParseDefinitionYAML(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			files = append(files, DefinitionFile{Definition: def, Path: filepath.Clean(path)})
		case ".go":
			defs, err := loadGoFile(path)
			if err != nil {
				return nil, err
			}
			files = append(files, defs...)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func loadGoFile(path string) ([]DefinitionFile, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(code)) == 0 {
		return nil, fmt.Errorf("plugin: %s is empty", path)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugin: load stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}
	fn, err := i.Eval(goDefinitionFunc)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s must declare %s() ([]map[string]any, error): %w", path, goDefinitionFunc, err)
	}
	raw, err := callDefinitions(fn)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	files := make([]DefinitionFile, 0, len(raw))
	for idx, entry := range raw {
		// round-trip through YAML so Go and YAML tools share one schema
		payload, err := yaml.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s tool[%d]: %w", path, idx, err)
		}
		def, err := ParseDefinitionYAML(payload)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s tool[%d]: %w", path, idx, err)
		}
		files = append(files, DefinitionFile{Definition: def, Path: fmt.Sprintf("%s#%d", filepath.Clean(path), idx+1)})
	}
	return files, nil
}

func callDefinitions(fn reflect.Value) ([]map[string]any, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", goDefinitionFunc)
	}
	if fn.Type().NumIn() != 0 {
		return nil, fmt.Errorf("%s must take no arguments", goDefinitionFunc)
	}
	results := fn.Call(nil)
	if len(results) == 0 || len(results) > 2 {
		return nil, fmt.Errorf("%s must return ([]map[string]any, error)", goDefinitionFunc)
	}
	if len(results) == 2 && !results[1].IsNil() {
		if e, ok := results[1].Interface().(error); ok {
			return nil, e
		}
		return nil, fmt.Errorf("%s returned a non-error second value", goDefinitionFunc)
	}
	list := results[0]
	if defs, ok := list.Interface().([]map[string]any); ok {
		return defs, nil
	}
	if list.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must return []map[string]any", goDefinitionFunc)
	}
	defs := make([]map[string]any, list.Len())
	for i := 0; i < list.Len(); i++ {
		m, ok := list.Index(i).Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not a map[string]any", goDefinitionFunc, i)
		}
		defs[i] = m
	}
	return defs, nil
}
