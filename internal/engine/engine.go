package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/kingrea/tollgate/internal/gitlog"
	"github.com/kingrea/tollgate/internal/logbook"
	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/matrix"
	"github.com/kingrea/tollgate/internal/pipeline/runner"
	"github.com/kingrea/tollgate/internal/pipeline/scheduler"
	"github.com/kingrea/tollgate/internal/release"
	"github.com/kingrea/tollgate/internal/report"
)

// ErrSuperseded is returned when a run's context is cancelled before it could
// produce a report. Nothing of the run is persisted.
var ErrSuperseded = errors.New("engine: run superseded")

// Engine executes pipeline runs.
type Engine struct {
	runner      *runner.Runner
	repo        RunStore
	clock       func() time.Time
	logger      *slog.Logger
	observer    Observer
	commits     gitlog.CommitSource
	arbiter     *release.Arbiter
	gate        *release.Gate
	tagPrefix   string
	maxParallel int
	keepRuns    int
	newID       func() string
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger routes engine diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers progress callbacks.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

// WithCommitSource sets where release history is read from. Without one,
// releasing pipelines report the history as unavailable and block.
func WithCommitSource(src gitlog.CommitSource) Option {
	return func(e *Engine) {
		e.commits = src
	}
}

// WithReleasePolicy configures the arbiter and gate.
func WithReleasePolicy(policy release.Policy, gate release.GatePolicy) Option {
	return func(e *Engine) {
		e.arbiter = release.NewArbiter(policy)
		e.gate = release.NewGate(gate)
	}
}

// WithTagPrefix sets the release tag prefix ("v" by default).
func WithTagPrefix(prefix string) Option {
	return func(e *Engine) {
		e.tagPrefix = prefix
	}
}

// WithMaxParallel caps concurrent job instances across every pipeline this
// engine runs. Zero means unbounded; a pipeline's own limit still applies.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxParallel = n
		}
	}
}

// WithKeepRuns prunes persisted runs beyond the newest n after each run.
func WithKeepRuns(n int) Option {
	return func(e *Engine) {
		e.keepRuns = n
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// New wires an engine to a job runner and a run store.
func New(r *runner.Runner, repo RunStore, opts ...Option) (*Engine, error) {
	if r == nil {
		return nil, fmt.Errorf("engine: job runner is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("engine: run store is required")
	}
	e := &Engine{
		runner:    r,
		repo:      repo,
		clock:     time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer:  NopObserver{},
		arbiter:   release.NewArbiter(release.DefaultPolicy()),
		gate:      release.NewGate(release.DefaultGatePolicy()),
		tagPrefix: "v",
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Request describes one run.
type Request struct {
	Definition pipeline.Definition
	Event      pipeline.Event
	// Targets narrows the run to these job templates.
	Targets []string
	// APIDiff is the classification fed to the gate when the pipeline does
	// not name an api_check job.
	APIDiff release.APIDiff
	// RunID is generated when empty.
	RunID string
}

// Run executes a pipeline for one event and returns the persisted report.
// Configuration problems abort before anything runs and are returned as
// *pipeline.ConfigurationError. A cancelled ctx yields ErrSuperseded.
func (e *Engine) Run(ctx context.Context, req Request) (report.Report, error) {
	def, err := req.Definition.Normalized()
	if err != nil {
		return report.Report{}, err
	}
	event := req.Event
	event.Normalize()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = e.now()
	}
	if err := event.Validate(); err != nil {
		return report.Report{}, fmt.Errorf("engine: %w", err)
	}
	instances, err := matrix.ExpandAll(def)
	if err != nil {
		return report.Report{}, err
	}
	sched, err := scheduler.New(def, instances)
	if err != nil {
		return report.Report{}, err
	}
	batch, err := sched.Runnable(scheduler.RunnableRequest{Event: event, Targets: req.Targets})
	if err != nil {
		return report.Report{}, err
	}
	if def.Runtime.JobTimeout > 0 {
		for i := range batch.Instances {
			if batch.Instances[i].Job.Timeout == 0 {
				batch.Instances[i].Job.Timeout = def.Runtime.JobTimeout
			}
		}
	}

	runID := req.RunID
	if runID == "" {
		runID = e.newID()
	}
	journal, err := e.repo.Journal(runID)
	if err != nil {
		return report.Report{}, fmt.Errorf("engine: open journal: %w", err)
	}
	startedAt := e.now()
	log := e.logger.With("run", runID, "pipeline", def.ID)
	log.Info("run started", "event", event.Kind, "ref", event.Ref, "instances", len(batch.Instances), "skipped", len(batch.Skipped))
	journal.For("run").Info("%s triggered by %s %s: %d instances, %d skipped", def.ID, event.Kind, eventSubject(event), len(batch.Instances), len(batch.Skipped))
	e.observer.RunStarted(RunInfo{
		RunID:      runID,
		PipelineID: def.ID,
		Event:      event,
		Instances:  batch.Instances,
		Skipped:    batch.Skipped,
		Release:    def.Release.Enabled,
	})

	state := &runState{
		runID:     runID,
		instances: batch.Instances,
		outcomes:  make([]runner.Outcome, len(batch.Instances)),
		journal:   journal,
	}
	for _, inst := range batch.Instances {
		if isAPISource(def, inst) {
			state.apiPending.Add(1)
		}
	}

	var rel *report.Release
	var wg conc.WaitGroup
	wg.Go(func() {
		e.runJobs(ctx, def, state)
	})
	if def.Release.Enabled {
		wg.Go(func() {
			decided := e.decideRelease(ctx, def, event, req.APIDiff, state, batch.Skipped)
			rel = &decided
		})
	}
	wg.Wait()

	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if discardErr := e.repo.Discard(runID); discardErr != nil {
			log.Warn("discard superseded run", "error", discardErr)
		}
		log.Info("run aborted", "cause", cause)
		e.observer.RunAborted(runID, cause)
		if errors.Is(cause, ErrSuperseded) {
			return report.Report{}, cause
		}
		return report.Report{}, fmt.Errorf("%w: %w", ErrSuperseded, cause)
	}

	rep, err := report.Aggregate(report.Input{
		RunID:      runID,
		PipelineID: def.ID,
		Event:      event,
		Outcomes:   state.outcomes,
		Skipped:    batch.Skipped,
		Release:    rel,
		StartedAt:  startedAt,
		FinishedAt: e.now(),
	})
	if err != nil {
		return report.Report{}, fmt.Errorf("engine: %w", err)
	}
	for _, line := range rep.Warnings {
		journal.For("run").Warn("%s", line)
	}
	for _, line := range rep.Failures {
		journal.For("run").Error("%s", line)
	}
	journal.For("run").Info("finished: %s", rep.Status)

	record := RunRecord{Report: rep, Logs: make(map[string]string, len(state.outcomes))}
	for _, outcome := range state.outcomes {
		record.Logs[outcome.InstanceID] = outcome.Log
	}
	if rel != nil && rel.Error == "" {
		record.Notes = release.RenderNotes(rel.Decision, e.tagPrefix, rep.FinishedAt)
	}
	if err := e.repo.Save(record); err != nil {
		return rep, fmt.Errorf("engine: persist run %s: %w", runID, err)
	}
	if removed, err := e.repo.Prune(e.keepRuns); err != nil {
		log.Warn("prune runs", "error", err)
	} else if len(removed) > 0 {
		log.Debug("pruned runs", "removed", removed)
	}
	log.Info("run finished", "status", rep.Status, "duration", rep.Duration())
	e.observer.RunFinished(rep)
	return rep, nil
}

// runState is shared by the job and release branches of one run. Each
// outcome slot is written by exactly one job goroutine; apiPending lets the
// release branch wait for the API-check instances only.
type runState struct {
	runID      string
	instances  []matrix.Instance
	outcomes   []runner.Outcome
	journal    *logbook.Logbook
	apiPending sync.WaitGroup
}

func (e *Engine) runJobs(ctx context.Context, def pipeline.Definition, state *runState) {
	p := pool.New()
	if limit := e.parallelism(def); limit > 0 {
		p = p.WithMaxGoroutines(limit)
	}
	for i, inst := range state.instances {
		api := isAPISource(def, inst)
		p.Go(func() {
			if api {
				defer state.apiPending.Done()
			}
			state.outcomes[i] = e.runInstance(ctx, state, inst)
		})
	}
	p.Wait()
}

func (e *Engine) runInstance(ctx context.Context, state *runState, inst matrix.Instance) runner.Outcome {
	if ctx.Err() != nil {
		outcome := runner.Pending(inst)
		outcome.Status = runner.StatusFailed
		outcome.Failure = runner.FailureCancelled
		outcome.Error = "cancelled before start"
		return outcome
	}
	e.observer.JobStarted(state.runID, inst)
	scope := state.journal.For(inst.ID)
	scope.Info("started")
	outcome := e.runner.Run(ctx, inst)
	switch {
	case outcome.Status == runner.StatusPassed:
		scope.Info("passed in %s", outcome.Duration().Round(time.Millisecond))
	case outcome.Tolerant:
		scope.Warn("failed (%s, tolerated): %s", outcome.Failure, outcome.Error)
	default:
		scope.Error("failed (%s): %s", outcome.Failure, outcome.Error)
	}
	e.logger.Debug("job finished", "run", state.runID, "instance", inst.ID, "status", outcome.Status, "failure", outcome.Failure)
	e.observer.JobFinished(state.runID, outcome)
	return outcome
}

// parallelism is the tighter of the engine-wide and pipeline limits; zero
// means unbounded.
func (e *Engine) parallelism(def pipeline.Definition) int {
	limit := def.Runtime.MaxParallel
	if e.maxParallel > 0 && (limit == 0 || e.maxParallel < limit) {
		limit = e.maxParallel
	}
	return limit
}

func isAPISource(def pipeline.Definition, inst matrix.Instance) bool {
	return def.Release.Enabled && def.Release.APIDiffFrom != "" && inst.Template == def.Release.APIDiffFrom
}

func eventSubject(event pipeline.Event) string {
	switch event.Kind {
	case pipeline.EventSchedule:
		return fmt.Sprintf("%q", event.Schedule)
	case pipeline.EventPullRequest:
		return event.Ref + " -> " + event.BaseRef
	default:
		return event.Ref
	}
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
