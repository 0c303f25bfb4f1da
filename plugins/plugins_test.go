package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/tollgate/internal/pipeline/runner"
	"github.com/kingrea/tollgate/internal/release"
)

const lintTool = `id: Lint
description: shell lint wrapper
command: ["sh", "-c"]
env:
  LINT_LEVEL: strict
`

const goToolSource = `package main

func ToolDefinitions() ([]map[string]any, error) {
	return []map[string]any{
		{
			"id":       "apicompat",
			"command":  []string{"sh", "-c"},
			"api_diff": true,
		},
	}, nil
}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(lintTool))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.ID != "lint" || def.Command[0] != "sh" || def.Env["LINT_LEVEL"] != "strict" {
		t.Fatalf("unexpected definition: %+v", def)
	}
}

func TestDefinitionValidateFailures(t *testing.T) {
	tests := []struct {
		name string
		def  ToolDefinition
		msg  string
	}{
		{"missing id", ToolDefinition{Command: []string{"true"}}, "id is required"},
		{"path in id", ToolDefinition{ID: "a/b", Command: []string{"true"}}, "path separators"},
		{"missing command", ToolDefinition{ID: "x"}, "command is required"},
		{"blank command", ToolDefinition{ID: "x", Command: []string{"  "}}, "command is required"},
	}
	for _, tc := range tests {
		err := tc.def.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.msg) {
			t.Fatalf("%s: expected %q, got %v", tc.name, tc.msg, err)
		}
	}
	if _, err := ParseDefinitionYAML([]byte("  ")); err == nil {
		t.Fatalf("expected empty payload to fail")
	}
}

func TestLoadDirReadsYAMLAndGo(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "lint.yaml", lintTool)
	goPath := writeFile(t, dir, "compat.go", goToolSource)
	writeFile(t, dir, "README.md", "ignored")

	files, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(files))
	}
	if files[0].Path != goPath+"#1" || files[0].Definition.ID != "apicompat" || !files[0].Definition.APIDiff {
		t.Fatalf("unexpected go tool: %+v", files[0])
	}
	if files[1].Path != yamlPath || files[1].Definition.ID != "lint" {
		t.Fatalf("unexpected yaml tool: %+v", files[1])
	}
}

func TestLoadDirMissing(t *testing.T) {
	files, err := LoadDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil || files != nil {
		t.Fatalf("expected nothing for a missing dir, got %v (%v)", files, err)
	}
}

func TestLoadDirGoFileWithoutDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.go", "package main\n")
	if _, err := LoadDir(dir); err == nil {
		t.Fatalf("expected error for missing ToolDefinitions")
	}
}

func TestRegisterInstallsRunnableTools(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lint.yaml", lintTool)
	writeFile(t, dir, "compat.go", goToolSource)

	reg := runner.NewRegistry(runner.ToolOptions{ProjectDir: t.TempDir()})
	runner.RegisterBuiltins(reg)
	ids, err := Register(reg, dir)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}

	lint, err := reg.Resolve("lint")
	if err != nil {
		t.Fatalf("resolve lint: %v", err)
	}
	res, err := lint.Check(context.Background(), runner.Invocation{
		Command: []string{`echo "$LINT_LEVEL $JOB"`},
		Env:     []string{"JOB=unit"},
	})
	if err != nil || !res.Passed {
		t.Fatalf("expected lint to pass, got %+v (%v)", res, err)
	}
	if strings.TrimSpace(res.Log) != "strict unit" {
		t.Fatalf("unexpected log %q", res.Log)
	}

	compat, err := reg.Resolve("apicompat")
	if err != nil {
		t.Fatalf("resolve apicompat: %v", err)
	}
	res, err = compat.Check(context.Background(), runner.Invocation{Command: []string{"echo api-diff: additive"}})
	if err != nil || !res.Passed || res.APIDiff != release.APIDiffAdditive {
		t.Fatalf("expected additive classification, got %+v (%v)", res, err)
	}
}

func TestRegisterRejectsShadowingBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "exec.yaml", "id: exec\ncommand: [\"true\"]\n")
	reg := runner.NewRegistry(runner.ToolOptions{})
	runner.RegisterBuiltins(reg)
	if _, err := Register(reg, dir); err == nil {
		t.Fatalf("expected a tool named exec to be rejected")
	}
}
