package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/kingrea/tollgate/internal/config"
	"github.com/kingrea/tollgate/internal/engine"
	"github.com/kingrea/tollgate/internal/gitlog"
	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/matrix"
	"github.com/kingrea/tollgate/internal/pipeline/scheduler"
	"github.com/kingrea/tollgate/internal/release"
	"github.com/kingrea/tollgate/internal/report"
	"github.com/kingrea/tollgate/internal/tui"
)

func runCommand(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("run", stderr)
	project := fs.StringP("project", "C", ".", "project directory")
	pipelineID := fs.StringP("pipeline", "p", "", "run this pipeline instead of every triggered one")
	file := fs.StringP("file", "f", "", "run the pipeline defined in this file")
	ev := bindEventFlags(fs)
	apiDiff := fs.String("api-diff", "", "API classification for pipelines without an api_check job")
	targets := fs.StringSlice("job", nil, "run only these job templates (repeatable)")
	useTUI := fs.Bool("tui", false, "show live progress")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	ws, err := openWorkspace(*project)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	event, err := ev.event(ctx, ws.git)
	if err != nil {
		return err
	}
	diff, err := parseAPIDiff(*apiDiff)
	if err != nil {
		return err
	}
	defs, err := ws.definitions(*file, *pipelineID, event)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		fmt.Fprintf(stderr, "no pipeline in %s is triggered by %s on %s\n", ws.catalog.Dir(), event.Kind, eventTarget(event))
		return nil
	}

	worst := report.ExitPass
	for _, def := range defs {
		req := engine.Request{Definition: def, Event: event, Targets: *targets, APIDiff: diff}
		rep, err := execute(ctx, ws, req, *useTUI)
		if err != nil {
			return err
		}
		switch {
		case *asJSON:
			if err := rep.WriteJSON(stdout); err != nil {
				return err
			}
		case !*useTUI:
			fmt.Fprintln(stdout, rep.Render())
		}
		if code := rep.ExitCode(); code > worst {
			worst = code
		}
	}
	if worst != report.ExitPass {
		return silentExit(worst)
	}
	return nil
}

func execute(ctx context.Context, ws *workspace, req engine.Request, useTUI bool) (report.Report, error) {
	if !useTUI {
		eng, err := ws.newEngine()
		if err != nil {
			return report.Report{}, err
		}
		return eng.Run(ctx, req)
	}
	title := fmt.Sprintf("tollgate · %s", req.Definition.ID)
	return tui.Run(ctx, title, func(ctx context.Context, observer engine.Observer) (report.Report, error) {
		eng, err := ws.newEngine(engine.WithObserver(observer))
		if err != nil {
			return report.Report{}, err
		}
		return eng.Run(ctx, req)
	})
}

// expansion is the JSON shape of `tollgate expand`.
type expansion struct {
	Pipeline  string                          `json:"pipeline"`
	Instances []matrix.Instance               `json:"instances"`
	Skipped   map[string]scheduler.SkipReason `json:"skipped,omitempty"`
}

func expandCommand(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("expand", stderr)
	project := fs.StringP("project", "C", ".", "project directory")
	pipelineID := fs.StringP("pipeline", "p", "", "expand this pipeline instead of every triggered one")
	file := fs.StringP("file", "f", "", "expand the pipeline defined in this file")
	ev := bindEventFlags(fs)
	targets := fs.StringSlice("job", nil, "narrow to these job templates (repeatable)")
	asJSON := fs.Bool("json", false, "print JSON")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	ws, err := openWorkspace(*project)
	if err != nil {
		return err
	}
	defer ws.Close()

	event, err := ev.event(context.Background(), ws.git)
	if err != nil {
		return err
	}
	defs, err := ws.definitions(*file, *pipelineID, event)
	if err != nil {
		return err
	}
	var out []expansion
	for _, def := range defs {
		exp, err := expand(def, event, *targets)
		if err != nil {
			return err
		}
		out = append(out, exp)
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if len(out) == 0 {
		fmt.Fprintf(stdout, "no pipeline is triggered by %s on %s\n", event.Kind, eventTarget(event))
	}
	for _, exp := range out {
		printExpansion(stdout, exp)
	}
	return nil
}

func expand(def pipeline.Definition, event pipeline.Event, targets []string) (expansion, error) {
	def, err := def.Normalized()
	if err != nil {
		return expansion{}, err
	}
	instances, err := matrix.ExpandAll(def)
	if err != nil {
		return expansion{}, err
	}
	sched, err := scheduler.New(def, instances)
	if err != nil {
		return expansion{}, err
	}
	batch, err := sched.Runnable(scheduler.RunnableRequest{Event: event, Targets: targets})
	if err != nil {
		return expansion{}, err
	}
	return expansion{Pipeline: def.ID, Instances: batch.Instances, Skipped: batch.Skipped}, nil
}

func printExpansion(w io.Writer, exp expansion) {
	fmt.Fprintf(w, "%s: %d job(s)\n", exp.Pipeline, len(exp.Instances))
	for _, inst := range exp.Instances {
		suffix := ""
		if inst.Tolerant() {
			suffix = "  (tolerant)"
		}
		fmt.Fprintf(w, "  %s%s\n", inst.ID, suffix)
	}
	if len(exp.Skipped) == 0 {
		return
	}
	ids := make([]string, 0, len(exp.Skipped))
	for id := range exp.Skipped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintln(w, "  skipped:")
	for _, id := range ids {
		reason := exp.Skipped[id]
		if reason.Detail != "" {
			fmt.Fprintf(w, "    %s  %s: %s\n", id, reason.Reason, reason.Detail)
			continue
		}
		fmt.Fprintf(w, "    %s  %s\n", id, reason.Reason)
	}
}

// versionResult is the JSON shape of `tollgate version`.
type versionResult struct {
	Tag      string                  `json:"tag"`
	Decision release.VersionDecision `json:"decision"`
	Gate     *release.GateResult     `json:"gate,omitempty"`
}

func versionCommand(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("version", stderr)
	project := fs.StringP("project", "C", ".", "project directory")
	ref := fs.String("ref", "HEAD", "git ref to compute the version for")
	apiDiff := fs.String("api-diff", "", "check the bump against this API classification")
	notes := fs.Bool("notes", false, "print release notes instead of the version")
	asJSON := fs.Bool("json", false, "print JSON")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	ws, err := openWorkspace(*project)
	if err != nil {
		return err
	}
	defer ws.Close()

	diff, err := parseAPIDiff(*apiDiff)
	if err != nil {
		return err
	}
	prefix := ws.cfg.TagPrefix()
	hist, err := gitlog.Collect(context.Background(), ws.git, prefix, *ref)
	if err != nil {
		return err
	}
	decision := release.NewArbiter(ws.cfg.ArbiterPolicy()).Decide(hist.Previous, hist.Commits)
	result := versionResult{Tag: release.FormatTag(decision.ComputedVersion, prefix), Decision: decision}
	if diff != "" {
		gate := release.NewGate(ws.cfg.GatePolicy()).Check(decision, diff)
		result.Gate = &gate
	}

	switch {
	case *asJSON:
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	case *notes:
		fmt.Fprint(stdout, release.RenderNotes(decision, prefix, time.Now()))
	default:
		fmt.Fprintln(stdout, result.Tag)
	}
	if result.Gate != nil && !result.Gate.Passed {
		if !*asJSON {
			fmt.Fprintf(stderr, "release gate blocked: %s\n", result.Gate.Reason)
		}
		return silentExit(report.ExitFail)
	}
	return nil
}

const examplePipeline = `# Pipelines run when their triggers match an event.
id: ci
on:
  push:
    branches: ["main"]
  pull_request: {}
jobs:
  - name: test
    command: ["go", "test", "./..."]
`

func initCommand(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("init", stderr)
	project := fs.StringP("project", "C", ".", "project directory")
	example := fs.Bool("example", false, "write an example pipeline when none exist")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if err := config.InitDir(*project); err != nil {
		return err
	}
	cfg, err := config.NewConfig(*project)
	if err != nil {
		return configError(err)
	}
	fmt.Fprintf(stdout, "initialized %s\n", cfg.StateDir)
	if !*example {
		return nil
	}
	entries, err := os.ReadDir(cfg.PipelinesDir())
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Fprintf(stdout, "%s already has pipelines; example not written\n", cfg.PipelinesDir())
		return nil
	}
	path := filepath.Join(cfg.PipelinesDir(), "ci.yaml")
	if err := os.WriteFile(path, []byte(examplePipeline), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return nil
}

func eventTarget(event pipeline.Event) string {
	if event.Kind == pipeline.EventSchedule {
		return event.Schedule
	}
	return event.Ref
}
