package artifact

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

const metadataKey = "_tollgate"

// Store manages artifact IO rooted at one run directory.
type Store struct {
	runDir string
	now    func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for metadata timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore builds a store for a run directory.
func NewStore(runDir string, opts ...StoreOption) *Store {
	store := &Store{runDir: runDir, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Dir returns the run directory.
func (s *Store) Dir() string {
	return s.runDir
}

// Checksum returns the content digest recorded in metadata.
func Checksum(body []byte) string {
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// Check inspects the artifact on disk and returns its status and metadata.
func (s *Store) Check(ref ArtifactRef) (CheckResult, error) {
	path := ref.Path(s.runDir)
	if path == "" {
		err := fmt.Errorf("artifact: %s path could not be resolved", ref.ID)
		return CheckResult{Ref: ref, Path: path, State: StateError, Err: err}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CheckResult{Ref: ref, Path: path, State: StateMissing}, nil
		}
		return CheckResult{Ref: ref, Path: path, State: StateError, Err: err}, err
	}
	if info.IsDir() {
		return invalidResult(ref, path, fmt.Errorf("artifact: expected file got directory"))
	}
	if ref.Kind == KindText {
		return CheckResult{Ref: ref, Path: path, State: StateReady}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CheckResult{Ref: ref, Path: path, State: StateError, Err: err}, err
	}
	meta, body, err := decode(ref, data)
	if err != nil {
		return invalidResult(ref, path, err)
	}
	if meta.ArtifactID != ref.ID {
		return invalidResult(ref, path, fmt.Errorf("artifact: metadata id %s does not match %s", meta.ArtifactID, ref.ID))
	}
	if ref.Kind == KindDocument && meta.Checksum != "" && meta.Checksum != Checksum(body) {
		return invalidResult(ref, path, fmt.Errorf("artifact: %s checksum mismatch", ref.ID))
	}
	return CheckResult{Ref: ref, Path: path, State: StateReady, Metadata: &meta}, nil
}

// Read returns an artifact's body and, for kinds that carry it, its metadata.
// JSON artifacts are returned whole; decoders ignore the metadata block.
func (s *Store) Read(ref ArtifactRef) ([]byte, *Metadata, error) {
	path := ref.Path(s.runDir)
	if path == "" {
		return nil, nil, fmt.Errorf("artifact: %s path could not be resolved", ref.ID)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if ref.Kind == KindText {
		return data, nil, nil
	}
	meta, body, err := decode(ref, data)
	if err != nil {
		return nil, nil, err
	}
	if ref.Kind == KindJSON {
		return data, &meta, nil
	}
	return body, &meta, nil
}

// Write persists the artifact contents and metadata based on its kind.
func (s *Store) Write(ref ArtifactRef, body []byte, meta Metadata) error {
	path := ref.Path(s.runDir)
	if path == "" {
		return fmt.Errorf("artifact: %s path could not be resolved", ref.ID)
	}
	switch ref.Kind {
	case KindText:
		return writeFile(path, body)
	case KindJSON:
		return s.writeJSON(path, ref, body, meta)
	default:
		return s.writeDocument(path, ref, body, meta)
	}
}

func (s *Store) writeDocument(path string, ref ArtifactRef, body []byte, meta Metadata) error {
	if body == nil {
		body = []byte{}
	}
	prepared := meta.WithDefaults(ref, s.now())
	if err := prepared.ValidateFor(ref); err != nil {
		return err
	}
	if prepared.Checksum == "" {
		prepared.Checksum = Checksum(body)
	}
	content, err := WriteFrontMatter(prepared, body)
	if err != nil {
		return err
	}
	return writeFile(path, content)
}

func (s *Store) writeJSON(path string, ref ArtifactRef, body []byte, meta Metadata) error {
	if body == nil {
		body = []byte("{}")
	}
	prepared := meta.WithDefaults(ref, s.now())
	if err := prepared.ValidateFor(ref); err != nil {
		return err
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("artifact: invalid json body for %s: %w", ref.ID, err)
	}
	if payload == nil {
		payload = map[string]json.RawMessage{}
	}
	block, err := json.Marshal(blockFromMetadata(prepared))
	if err != nil {
		return fmt.Errorf("artifact: encode metadata for %s: %w", ref.ID, err)
	}
	payload[metadataKey] = block
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode json for %s: %w", ref.ID, err)
	}
	return writeFile(path, append(encoded, '\n'))
}

func decode(ref ArtifactRef, data []byte) (Metadata, []byte, error) {
	if ref.Kind == KindJSON {
		meta, err := parseJSONMetadata(data)
		return meta, data, err
	}
	return ParseFrontMatter(data)
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

func invalidResult(ref ArtifactRef, path string, err error) (CheckResult, error) {
	return CheckResult{Ref: ref, Path: path, State: StateInvalid, Err: err}, err
}

func parseJSONMetadata(data []byte) (Metadata, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return Metadata{}, fmt.Errorf("artifact: parse json metadata: %w", err)
	}
	raw, ok := payload[metadataKey]
	if !ok {
		return Metadata{}, fmt.Errorf("artifact: missing %s metadata", metadataKey)
	}
	var block metadataBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return Metadata{}, fmt.Errorf("artifact: invalid %s metadata structure: %w", metadataKey, err)
	}
	return block.toMetadata()
}
