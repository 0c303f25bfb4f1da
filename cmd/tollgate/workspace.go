package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/kingrea/tollgate/internal/config"
	"github.com/kingrea/tollgate/internal/engine"
	"github.com/kingrea/tollgate/internal/gitlog"
	"github.com/kingrea/tollgate/internal/logging"
	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/runner"
	"github.com/kingrea/tollgate/internal/release"
	"github.com/kingrea/tollgate/internal/report"
	"github.com/kingrea/tollgate/internal/trigger"
	"github.com/kingrea/tollgate/plugins"
)

// workspace is the state every command shares: configuration, the process
// log, the pipeline catalog and the run history of one project directory.
type workspace struct {
	cfg     *config.Config
	log     *logging.Logger
	catalog *trigger.Catalog
	repo    *engine.Repository
	git     *gitlog.Repository
}

func openWorkspace(projectDir string) (*workspace, error) {
	if err := config.InitDir(projectDir); err != nil {
		return nil, fmt.Errorf("init %s: %w", config.Dir, err)
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, &exitError{code: report.ExitConfiguration, err: err}
	}
	log, err := logging.New(cfg.ProjectDir)
	if err != nil {
		return nil, err
	}
	ws := &workspace{
		cfg:     cfg,
		log:     log,
		catalog: trigger.NewCatalog(cfg.PipelinesDir(), log.Slog()),
		repo:    engine.NewRepository(cfg.RunsDir()),
		git:     gitlog.NewRepository(cfg.ProjectDir),
	}
	return ws, nil
}

func (w *workspace) Close() {
	if w == nil {
		return
	}
	_ = w.log.Close()
}

// newEngine wires the runner and release settings from the project config.
func (w *workspace) newEngine(opts ...engine.Option) (*engine.Engine, error) {
	reg := runner.NewRegistry(runner.ToolOptions{ProjectDir: w.cfg.ProjectDir})
	runner.RegisterBuiltins(reg)
	if _, err := plugins.Register(reg, w.cfg.ToolsDir()); err != nil {
		return nil, configError(err)
	}
	r, err := runner.New(reg, runner.WithDefaultTimeout(w.cfg.JobTimeout()))
	if err != nil {
		return nil, err
	}
	base := []engine.Option{
		engine.WithLogger(w.log.Slog()),
		engine.WithCommitSource(w.git),
		engine.WithReleasePolicy(w.cfg.ArbiterPolicy(), w.cfg.GatePolicy()),
		engine.WithTagPrefix(w.cfg.TagPrefix()),
		engine.WithMaxParallel(w.cfg.MaxParallel()),
		engine.WithKeepRuns(w.cfg.KeepRuns()),
	}
	return engine.New(r, w.repo, append(base, opts...)...)
}

// definitions resolves what a command should act on: an explicit file, a
// catalog entry by ID, or every catalog pipeline the event triggers.
func (w *workspace) definitions(file, pipelineID string, event pipeline.Event) ([]pipeline.Definition, error) {
	if file != "" {
		def, err := pipeline.LoadFile(file)
		if err != nil {
			return nil, err
		}
		return []pipeline.Definition{def}, nil
	}
	if err := w.catalog.Reload(); err != nil {
		return nil, err
	}
	if pipelineID != "" {
		def, ok := w.catalog.Find(pipelineID)
		if !ok {
			return nil, configError(fmt.Errorf("pipeline %q not found in %s", pipelineID, w.catalog.Dir()))
		}
		return []pipeline.Definition{def}, nil
	}
	return trigger.NewDispatcher(w.catalog).Dispatch(event), nil
}

func configError(err error) error {
	return &exitError{code: report.ExitConfiguration, err: err}
}

// eventFlags binds the flags describing a trigger event.
type eventFlags struct {
	kind     string
	ref      string
	baseRef  string
	schedule string
	sha      string
}

func bindEventFlags(fs *pflag.FlagSet) *eventFlags {
	ev := &eventFlags{}
	fs.StringVarP(&ev.kind, "event", "e", string(pipeline.EventPush), "event kind: push, pull_request or schedule")
	fs.StringVar(&ev.ref, "ref", "", "git ref the event targets (default: current HEAD)")
	fs.StringVar(&ev.baseRef, "base-ref", "", "target branch of a pull_request event")
	fs.StringVar(&ev.schedule, "schedule", "", "cron expression of a schedule event")
	fs.StringVar(&ev.sha, "sha", "", "commit SHA the event targets")
	return ev
}

// event builds and validates the trigger, filling Ref and SHA from the
// checkout when they were not given.
func (ev *eventFlags) event(ctx context.Context, git *gitlog.Repository) (pipeline.Event, error) {
	kind, err := pipeline.ParseEventKind(ev.kind)
	if err != nil {
		return pipeline.Event{}, configError(err)
	}
	event := pipeline.Event{
		Kind:     kind,
		Ref:      ev.ref,
		BaseRef:  ev.baseRef,
		Schedule: ev.schedule,
		SHA:      ev.sha,
	}
	event.Normalize()
	if event.Ref == "" && git != nil {
		ref, sha, err := git.Head(ctx)
		if err == nil {
			event.Ref = ref
			if event.SHA == "" {
				event.SHA = sha
			}
		}
	}
	if err := event.Validate(); err != nil {
		return pipeline.Event{}, configError(err)
	}
	return event, nil
}

func parseAPIDiff(value string) (release.APIDiff, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	diff, err := release.ParseAPIDiff(value)
	if err != nil {
		return "", configError(err)
	}
	return diff, nil
}
