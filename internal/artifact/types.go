// Package artifact defines the files a pipeline run leaves behind. Each
// artifact has a stable identifier, a kind, and a resolver that maps it to a
// path inside the run directory (.tollgate/runs/<run-id>/).
package artifact

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Kind captures the storage shape and serialization format for an artifact.
type Kind string

const (
	// KindDocument is a markdown document with YAML frontmatter.
	KindDocument Kind = "document"
	// KindJSON is a JSON object enriched with a _tollgate metadata block.
	KindJSON Kind = "json"
	// KindText is a plain file without embedded metadata.
	KindText Kind = "text"
)

// PathResolver returns the path of an artifact relative to a run directory.
type PathResolver func(runDir string) string

// ArtifactRef declares a stable identifier and metadata for an artifact.
type ArtifactRef struct {
	ID          string
	Name        string
	Description string
	Kind        Kind
	path        PathResolver
}

// Path resolves the artifact path for the provided run directory.
func (r ArtifactRef) Path(runDir string) string {
	if runDir == "" || r.path == nil {
		return ""
	}
	return filepath.Clean(r.path(runDir))
}

// Validate ensures the reference is well-formed.
func (r ArtifactRef) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("artifact: id is required")
	}
	if r.Kind == "" {
		return fmt.Errorf("artifact: kind is required for %s", r.ID)
	}
	if r.path == nil {
		return fmt.Errorf("artifact: path resolver missing for %s", r.ID)
	}
	return nil
}

// Metadata captures provenance stored inside frontmatter or metadata blocks.
type Metadata struct {
	ArtifactID string
	RunID      string
	Pipeline   string
	// Version is the release version the artifact describes, if any.
	Version   string
	Ref       string
	CreatedAt time.Time
	Checksum  string
	Notes     map[string]string
}

// WithDefaults ensures metadata carries the artifact ID and timestamps.
func (m Metadata) WithDefaults(ref ArtifactRef, now time.Time) Metadata {
	clone := m
	if clone.ArtifactID == "" {
		clone.ArtifactID = ref.ID
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now.UTC()
	} else {
		clone.CreatedAt = clone.CreatedAt.UTC()
	}
	return clone
}

// ValidateFor ensures metadata matches the artifact contract.
func (m Metadata) ValidateFor(ref ArtifactRef) error {
	if m.ArtifactID != ref.ID {
		return fmt.Errorf("artifact: metadata id %s does not match ref %s", m.ArtifactID, ref.ID)
	}
	if m.RunID == "" {
		return fmt.Errorf("artifact: run id is required for %s", ref.ID)
	}
	return nil
}

// State captures the readiness of an artifact on disk.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateInvalid State = "invalid"
	StateError   State = "error"
)

// CheckResult captures Store.Check results.
type CheckResult struct {
	Ref      ArtifactRef
	Path     string
	State    State
	Metadata *Metadata
	Err      error
}

var refs = map[string]ArtifactRef{}

func register(ref ArtifactRef) ArtifactRef {
	refs[ref.ID] = ref
	return ref
}

// Lookup returns a registered artifact reference by ID.
func Lookup(id string) (ArtifactRef, bool) {
	ref, ok := refs[id]
	return ref, ok
}

func newRef(kind Kind, id, name, desc, file string) ArtifactRef {
	return ArtifactRef{
		ID:          id,
		Name:        name,
		Description: desc,
		Kind:        kind,
		path:        func(runDir string) string { return filepath.Join(runDir, file) },
	}
}

// Canonical per-run artifacts.
var (
	ReportJSON   = register(newRef(KindJSON, "report", "Pipeline Report", "report.json with every job outcome and the release verdict", "report.json"))
	VersionText  = register(newRef(KindText, "version", "Computed Version", "version.txt holding the next release version", "version.txt"))
	ChangelogDoc = register(newRef(KindDocument, "changelog", "Changelog", "CHANGELOG.md release notes for the computed version", "CHANGELOG.md"))
	JournalText  = register(newRef(KindText, "journal", "Run Journal", "journal.log written while the run executes", "journal.log"))
)

// JobLog returns the reference for one job instance's captured output. The
// file name carries a digest of the ID because SafeName is lossy.
func JobLog(instanceID string) ArtifactRef {
	sum := blake3.Sum256([]byte(instanceID))
	file := SafeName(instanceID) + "-" + hex.EncodeToString(sum[:4]) + ".log"
	return ArtifactRef{
		ID:          "job-log:" + instanceID,
		Name:        "Job Log",
		Description: "captured output of " + instanceID,
		Kind:        KindText,
		path:        func(runDir string) string { return filepath.Join(runDir, "jobs", file) },
	}
}

// SafeName maps an instance ID such as "test (A, X)" to a file name.
func SafeName(id string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.TrimSpace(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	name := strings.TrimRight(b.String(), "-")
	if name == "" {
		return "job"
	}
	return name
}
