package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
}

func TestDocumentRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir(), WithClock(fixedClock))
	body := []byte("## v1.3.0\n\n* add flag\n")
	meta := Metadata{RunID: "run-1", Pipeline: "ci", Version: "1.3.0", Notes: map[string]string{"bump": "MINOR"}}
	if err := store.Write(ChangelogDoc, body, meta); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, err := store.Check(ChangelogDoc)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.State != StateReady || result.Metadata == nil {
		t.Fatalf("expected ready document, got %+v", result)
	}
	if result.Metadata.Version != "1.3.0" || result.Metadata.Notes["bump"] != "MINOR" {
		t.Fatalf("unexpected metadata %+v", result.Metadata)
	}
	if !result.Metadata.CreatedAt.Equal(fixedClock()) {
		t.Fatalf("expected fixed timestamp, got %s", result.Metadata.CreatedAt)
	}
	got, _, err := store.Read(ChangelogDoc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("body mismatch: %q", got)
	}
}

func TestDocumentChecksumMismatchIsInvalid(t *testing.T) {
	store := NewStore(t.TempDir(), WithClock(fixedClock))
	if err := store.Write(ChangelogDoc, []byte("original\n"), Metadata{RunID: "run-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	path := ChangelogDoc.Path(store.Dir())
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), "original", "tampered", 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}
	result, err := store.Check(ChangelogDoc)
	if err == nil || result.State != StateInvalid {
		t.Fatalf("expected checksum mismatch, got %+v", result)
	}
}

func TestJSONArtifactKeepsPayload(t *testing.T) {
	store := NewStore(t.TempDir(), WithClock(fixedClock))
	body := []byte(`{"status":"PASS","run_id":"run-1"}`)
	if err := store.Write(ReportJSON, body, Metadata{RunID: "run-1", Pipeline: "ci"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, meta, err := store.Read(ReportJSON)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if meta.Pipeline != "ci" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	var decoded struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Status != "PASS" {
		t.Fatalf("expected payload to survive, got %q", decoded.Status)
	}
}

func TestJobLogNamesDoNotCollide(t *testing.T) {
	runDir := t.TempDir()
	ids := []string{"test (linux)", "test-linux", "build (a/b)", "build (a-b)"}
	seen := map[string]string{}
	for _, id := range ids {
		path := JobLog(id).Path(runDir)
		if other, dup := seen[path]; dup {
			t.Fatalf("%q and %q share log file %s", other, id, path)
		}
		seen[path] = id
	}
	if JobLog("lint").Path(runDir) != JobLog("lint").Path(runDir) {
		t.Fatalf("expected a stable file name")
	}
}

func TestWriteRequiresRunID(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Write(ReportJSON, []byte(`{}`), Metadata{}); err == nil {
		t.Fatalf("expected missing run id to fail")
	}
}

func TestTextArtifacts(t *testing.T) {
	store := NewStore(t.TempDir())
	ref := JobLog("test (A, X)")
	if err := store.Write(ref, []byte("ok\n"), Metadata{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	path := ref.Path(store.Dir())
	if filepath.Dir(path) != filepath.Join(store.Dir(), "jobs") || !strings.HasPrefix(filepath.Base(path), "test-A-X-") || !strings.HasSuffix(path, ".log") {
		t.Fatalf("unexpected path %s", path)
	}
	result, err := store.Check(ref)
	if err != nil || result.State != StateReady {
		t.Fatalf("expected ready log, got %+v (%v)", result, err)
	}
	missing, err := store.Check(VersionText)
	if err != nil || missing.State != StateMissing {
		t.Fatalf("expected missing version, got %+v", missing)
	}
}

func TestLookupAndSafeName(t *testing.T) {
	if _, ok := Lookup("changelog"); !ok {
		t.Fatalf("expected changelog ref to be registered")
	}
	cases := map[string]string{
		"test (ubuntu-latest, stable)": "test-ubuntu-latest-stable",
		"lint":                         "lint",
		"  ":                           "job",
		"../../etc":                    "..-..-etc",
	}
	for in, want := range cases {
		if got := SafeName(in); got != want {
			t.Fatalf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}
