package plugins

import (
	"context"
	"fmt"
	"sort"

	"github.com/kingrea/tollgate/internal/pipeline/runner"
)

// commandTool runs a definition's command with the job's command appended.
type commandTool struct {
	def  ToolDefinition
	exec runner.Tool
}

func newCommandTool(def ToolDefinition, opts runner.ToolOptions) *commandTool {
	exec := runner.ExecTool{ProjectDir: opts.ProjectDir}
	if def.APIDiff {
		return &commandTool{def: def, exec: &runner.APICheckTool{Exec: exec}}
	}
	return &commandTool{def: def, exec: &exec}
}

// Check implements runner.Tool.
func (t *commandTool) Check(ctx context.Context, inv runner.Invocation) (runner.Result, error) {
	inv.Command = append(append([]string(nil), t.def.Command...), inv.Command...)
	if inv.WorkingDir == "" {
		inv.WorkingDir = t.def.WorkingDir
	}
	// job env comes last so a job can override the tool's defaults
	inv.Env = append(t.env(), inv.Env...)
	return t.exec.Check(ctx, inv)
}

func (t *commandTool) env() []string {
	keys := make([]string, 0, len(t.def.Env))
	for key := range t.def.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+t.def.Env[key])
	}
	return env
}

// Register loads the tools in dir and installs them in reg. It returns the
// registered IDs. Two files declaring one ID, or a tool shadowing a
// built-in, is an error.
func Register(reg *runner.Registry, dir string) ([]string, error) {
	if reg == nil {
		return nil, nil
	}
	files, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]string, len(files))
	ids := make([]string, 0, len(files))
	for _, file := range files {
		def := file.Definition
		if existing, ok := seen[def.ID]; ok {
			return nil, fmt.Errorf("plugin: duplicate tool id %s (%s and %s)", def.ID, existing, file.Path)
		}
		seen[def.ID] = file.Path
		if err := reg.Register(def.ID, func(opts runner.ToolOptions) (runner.Tool, error) {
			return newCommandTool(def, opts), nil
		}); err != nil {
			return nil, fmt.Errorf("plugin: register %s from %s: %w", def.ID, file.Path, err)
		}
		ids = append(ids, def.ID)
	}
	return ids, nil
}
