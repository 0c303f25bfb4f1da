package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// ParseFrontMatter extracts the metadata block and body from a document that
// starts with `---` YAML fences.
func ParseFrontMatter(content []byte) (Metadata, []byte, error) {
	if len(content) == 0 {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Metadata{}, nil, ErrMalformedFrontMatter
	}
	var env envelope
	if err := yaml.Unmarshal(parts[0], &env); err != nil {
		return Metadata{}, nil, fmt.Errorf("artifact: parse frontmatter: %w", err)
	}
	meta, err := env.toMetadata()
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, bytes.TrimPrefix(parts[1], []byte("\n")), nil
}

// WriteFrontMatter renders metadata + body with YAML fences.
func WriteFrontMatter(meta Metadata, body []byte) ([]byte, error) {
	if meta.ArtifactID == "" {
		return nil, fmt.Errorf("artifact: metadata missing artifact id")
	}
	env := envelope{}
	env.fromMetadata(meta)
	data, err := yaml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type envelope struct {
	Tollgate metadataBlock `yaml:"tollgate" json:"tollgate"`
}

type metadataBlock struct {
	Artifact string            `yaml:"artifact" json:"artifact"`
	Run      string            `yaml:"run" json:"run"`
	Pipeline string            `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
	Version  string            `yaml:"version,omitempty" json:"version,omitempty"`
	Ref      string            `yaml:"ref,omitempty" json:"ref,omitempty"`
	Created  string            `yaml:"created" json:"created"`
	Checksum string            `yaml:"checksum,omitempty" json:"checksum,omitempty"`
	Notes    map[string]string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

func (e envelope) toMetadata() (Metadata, error) {
	return e.Tollgate.toMetadata()
}

func (b metadataBlock) toMetadata() (Metadata, error) {
	if b.Artifact == "" || b.Run == "" {
		return Metadata{}, ErrMalformedFrontMatter
	}
	created, err := parseTime(b.Created)
	if err != nil {
		return Metadata{}, fmt.Errorf("artifact: parse created timestamp: %w", err)
	}
	return Metadata{
		ArtifactID: b.Artifact,
		RunID:      b.Run,
		Pipeline:   b.Pipeline,
		Version:    b.Version,
		Ref:        b.Ref,
		CreatedAt:  created,
		Checksum:   b.Checksum,
		Notes:      cloneNotes(b.Notes),
	}, nil
}

func (e *envelope) fromMetadata(meta Metadata) {
	e.Tollgate = blockFromMetadata(meta)
}

func blockFromMetadata(meta Metadata) metadataBlock {
	return metadataBlock{
		Artifact: meta.ArtifactID,
		Run:      meta.RunID,
		Pipeline: meta.Pipeline,
		Version:  meta.Version,
		Ref:      meta.Ref,
		Created:  meta.CreatedAt.UTC().Format(timeLayout),
		Checksum: meta.Checksum,
		Notes:    cloneNotes(meta.Notes),
	}
}

func cloneNotes(notes map[string]string) map[string]string {
	if len(notes) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(notes))
	for k, v := range notes {
		cloned[k] = v
	}
	return cloned
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func parseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("artifact: empty created timestamp")
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
