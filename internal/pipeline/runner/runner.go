package runner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/matrix"
)

// DefaultTimeout bounds an instance when neither the template nor the
// pipeline sets one.
const DefaultTimeout = 30 * time.Minute

// Runner executes job instances.
type Runner struct {
	registry *Registry
	timeout  time.Duration
	clock    func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithDefaultTimeout sets the deadline for instances whose template has none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock injects a deterministic clock (tests).
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New wires a runner to a tool registry.
func New(registry *Registry, opts ...Option) (*Runner, error) {
	if registry == nil {
		return nil, fmt.Errorf("runner: tool registry is required")
	}
	r := &Runner{registry: registry, timeout: DefaultTimeout, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Timeout returns the deadline applied to inst.
func (r *Runner) Timeout(inst matrix.Instance) time.Duration {
	if d := inst.Job.Timeout.Std(); d > 0 {
		return d
	}
	return r.timeout
}

// Run executes one instance and returns its terminal outcome.
func (r *Runner) Run(ctx context.Context, inst matrix.Instance) (outcome Outcome) {
	outcome = Pending(inst)
	outcome.StartedAt = r.clock()
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome.Status = StatusFailed
			outcome.Failure = FailureExecution
			outcome.Error = fmt.Sprintf("check tool panicked: %v", recovered)
			outcome.FinishedAt = r.clock()
		}
	}()

	name := inst.Job.Tool
	if name == "" {
		name = pipeline.DefaultTool
	}
	tool, err := r.registry.Resolve(name)
	if err != nil {
		return r.finish(outcome, Result{}, err, nil)
	}
	timeout := r.Timeout(inst)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := tool.Check(runCtx, Resolve(inst))
	switch {
	case ctx.Err() != nil:
		return r.finish(outcome, result, err, &interruption{kind: FailureCancelled, err: ctx.Err()})
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return r.finish(outcome, result, err, &interruption{
			kind: FailureTimeout,
			err:  fmt.Errorf("exceeded deadline of %s", timeout),
		})
	}
	return r.finish(outcome, result, err, nil)
}

type interruption struct {
	kind FailureKind
	err  error
}

func (r *Runner) finish(outcome Outcome, result Result, err error, stop *interruption) Outcome {
	outcome.FinishedAt = r.clock()
	outcome.Log = result.Log
	outcome.APIDiff = result.APIDiff
	switch {
	case stop != nil:
		outcome.Status = StatusFailed
		outcome.Failure = stop.kind
		outcome.Error = stop.err.Error()
	case err != nil && errors.Is(err, ErrToolUnavailable):
		outcome.Status = StatusFailed
		outcome.Failure = FailureToolUnavailable
		outcome.Error = err.Error()
	case err != nil:
		outcome.Status = StatusFailed
		outcome.Failure = FailureExecution
		outcome.Error = err.Error()
	case result.Passed:
		outcome.Status = StatusPassed
	default:
		outcome.Status = StatusFailed
		outcome.Failure = FailureExecution
	}
	if outcome.Error != "" {
		outcome.Log = appendLogLine(outcome.Log, "tollgate: "+outcome.Error)
	}
	return outcome
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)

// Resolve builds the tool invocation for an instance: ${axis} references in
// the command, env values and working dir are replaced with the assigned
// values, and every axis is exported as TOLLGATE_AXIS_<NAME>. Unknown
// references are left untouched for the tool's own shell.
func Resolve(inst matrix.Instance) Invocation {
	values := inst.Assignment.Map()
	expand := func(s string) string {
		return placeholder.ReplaceAllStringFunc(s, func(ref string) string {
			name := ref[2 : len(ref)-1]
			if v, ok := values[name]; ok {
				return v
			}
			return ref
		})
	}
	inv := Invocation{
		InstanceID: inst.ID,
		Template:   inst.Template,
		WorkingDir: expand(inst.Job.WorkingDir),
		Assignment: inst.Assignment,
	}
	for _, arg := range inst.Job.Command {
		inv.Command = append(inv.Command, expand(arg))
	}
	keys := make([]string, 0, len(inst.Job.Env))
	for key := range inst.Job.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		inv.Env = append(inv.Env, key+"="+expand(inst.Job.Env[key]))
	}
	for _, b := range inst.Assignment {
		inv.Env = append(inv.Env, AxisEnvName(b.Axis)+"="+b.Value)
	}
	return inv
}

// AxisEnvName maps an axis name to its exported variable name.
func AxisEnvName(axis string) string {
	var b strings.Builder
	b.WriteString("TOLLGATE_AXIS_")
	for _, r := range strings.ToUpper(axis) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func appendLogLine(log, line string) string {
	if log != "" && !strings.HasSuffix(log, "\n") {
		log += "\n"
	}
	return log + line + "\n"
}
