package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/tollgate/internal/pipeline/matrix"
	"github.com/kingrea/tollgate/internal/release"
)

// ErrToolUnavailable marks a check tool that could not be invoked at all.
var ErrToolUnavailable = errors.New("check tool unavailable")

// Invocation is a fully resolved request to a check tool.
type Invocation struct {
	InstanceID string
	Template   string
	Command    []string
	// Env holds KEY=VALUE pairs added on top of the process environment.
	Env        []string
	WorkingDir string
	Assignment matrix.Assignment
}

// Result is the uniform check-tool answer.
type Result struct {
	Passed bool
	Log    string
	// APIDiff is only set by API-compatibility checkers.
	APIDiff release.APIDiff
}

// Tool runs one check. A returned error means the tool could not produce a
// verdict; wrap ErrToolUnavailable when it could not be started.
type Tool interface {
	Check(ctx context.Context, inv Invocation) (Result, error)
}

// ToolFunc adapts a function into a Tool.
type ToolFunc func(ctx context.Context, inv Invocation) (Result, error)

// Check executes f.
func (f ToolFunc) Check(ctx context.Context, inv Invocation) (Result, error) {
	if f == nil {
		return Result{}, fmt.Errorf("%w: nil tool", ErrToolUnavailable)
	}
	return f(ctx, inv)
}

// ToolOptions carries process-wide settings into tool factories.
type ToolOptions struct {
	ProjectDir string
}

// Factory constructs a tool.
type Factory func(ToolOptions) (Tool, error)

// Registry maintains known tool factories by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	options   ToolOptions
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ToolOptions) *Registry {
	return &Registry{factories: map[string]Factory{}, options: opts}
}

// Register installs a tool factory. Returns an error if the name exists.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("runner: tool name is required")
	}
	if factory == nil {
		return fmt.Errorf("runner: factory is required for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("runner: tool %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs a tool by name. Unknown names wrap ErrToolUnavailable.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	opts := r.options
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q", ErrToolUnavailable, name)
	}
	tool, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, name, err)
	}
	return tool, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins installs the exec and api-check tools.
func RegisterBuiltins(reg *Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(ExecToolName, func(opts ToolOptions) (Tool, error) {
		return &ExecTool{ProjectDir: opts.ProjectDir}, nil
	})
	reg.MustRegister(APICheckToolName, func(opts ToolOptions) (Tool, error) {
		return &APICheckTool{Exec: ExecTool{ProjectDir: opts.ProjectDir}}, nil
	})
}
