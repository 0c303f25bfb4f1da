package plugins

import (
	"fmt"
	"strings"
)

// ToolDefinition describes a project check tool loaded from
// .tollgate/tools. Jobs select it with `tool: <id>`; the job's command is
// appended to Command as arguments.
type ToolDefinition struct {
	ID          string            `json:"id" yaml:"id"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Command     []string          `json:"command" yaml:"command"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	WorkingDir  string            `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	// APIDiff makes the tool an API-compatibility checker: its output is
	// scanned for a classification like the built-in api-check tool.
	APIDiff bool `json:"api_diff,omitempty" yaml:"api_diff,omitempty"`
}

// Normalized returns a trimmed copy. IDs are lower-cased to match how
// pipeline jobs spell tool names.
func (def ToolDefinition) Normalized() ToolDefinition {
	clone := ToolDefinition{
		ID:          strings.ToLower(strings.TrimSpace(def.ID)),
		Description: strings.TrimSpace(def.Description),
		WorkingDir:  strings.TrimSpace(def.WorkingDir),
		APIDiff:     def.APIDiff,
	}
	if len(def.Command) > 0 {
		clone.Command = append([]string(nil), def.Command...)
		clone.Command[0] = strings.TrimSpace(clone.Command[0])
	}
	if len(def.Env) > 0 {
		clone.Env = make(map[string]string, len(def.Env))
		for key, value := range def.Env {
			trimmed := strings.TrimSpace(key)
			if trimmed == "" {
				continue
			}
			clone.Env[trimmed] = value
		}
	}
	return clone
}

// Validate ensures the definition can be registered and executed.
func (def ToolDefinition) Validate() error {
	normalized := def.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("plugin: id is required")
	}
	if strings.ContainsAny(normalized.ID, " \t/\\") {
		return fmt.Errorf("plugin %s: id must not contain spaces or path separators", normalized.ID)
	}
	if len(normalized.Command) == 0 || normalized.Command[0] == "" {
		return fmt.Errorf("plugin %s: command is required", normalized.ID)
	}
	for key := range def.Env {
		if strings.Contains(key, "=") {
			return fmt.Errorf("plugin %s: env key %q contains '='", normalized.ID, key)
		}
	}
	return nil
}
