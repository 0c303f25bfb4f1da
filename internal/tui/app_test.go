package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/tollgate/internal/engine"
	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/matrix"
	"github.com/kingrea/tollgate/internal/pipeline/runner"
	"github.com/kingrea/tollgate/internal/release"
	"github.com/kingrea/tollgate/internal/report"
)

func feed(t *testing.T, app *App, msgs ...tea.Msg) *App {
	t.Helper()
	for _, msg := range msgs {
		model, _ := app.Update(msg)
		next, ok := model.(*App)
		if !ok {
			t.Fatalf("unexpected model type %T", model)
		}
		app = next
	}
	return app
}

func startedRun() runStartedMsg {
	return runStartedMsg{info: engine.RunInfo{
		RunID:      "run-1",
		PipelineID: "ci",
		Event:      pipeline.Event{Kind: pipeline.EventPush, Ref: "refs/heads/main"},
		Instances: []matrix.Instance{
			{ID: "test (linux)", Template: "test"},
			{ID: "lint", Template: "lint"},
		},
		Release: true,
	}}
}

func TestAppTracksJobStates(t *testing.T) {
	app := NewApp("ci", nil)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	app = feed(t, app,
		startedRun(),
		jobStartedMsg{id: "test (linux)"},
		jobFinishedMsg{outcome: runner.Outcome{InstanceID: "lint", Status: runner.StatusFailed, Failure: runner.FailureExecution, Tolerant: true, StartedAt: start, FinishedAt: start.Add(2 * time.Second)}},
	)
	if got := app.index["test (linux)"].state; got != jobRunning {
		t.Fatalf("expected running, got %v", got)
	}
	if got := app.index["lint"].state; got != jobTolerated {
		t.Fatalf("expected tolerated, got %v", got)
	}
	view := app.View()
	for _, want := range []string{"run-1", "refs/heads/main", "test (linux)", "lint", "execution", "computing version"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestAppShowsGateVerdict(t *testing.T) {
	app := feed(t, NewApp("ci", nil), startedRun(), releaseDecidedMsg{release: report.Release{
		Tag:      "v1.1.0",
		Decision: release.VersionDecision{Bump: release.BumpMinor},
		Gate:     release.GateResult{Passed: false, Reason: "breaking API change requires MAJOR"},
	}})
	view := app.View()
	if !strings.Contains(view, "v1.1.0") || !strings.Contains(view, "gate blocked") {
		t.Fatalf("expected blocked gate in view:\n%s", view)
	}
}

func TestAppQuitCancelsRunningPipeline(t *testing.T) {
	cancelled := 0
	app := NewApp("ci", func() { cancelled++ })
	app = feed(t, app, startedRun())
	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	app = model.(*App)
	if cmd != nil {
		t.Fatalf("must not quit before the run reports")
	}
	app = feed(t, app, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cancelled != 1 || !app.interrupted {
		t.Fatalf("expected exactly one cancellation, got %d", cancelled)
	}
	if !strings.Contains(app.View(), "cancelling") {
		t.Fatalf("expected cancelling hint")
	}
}

func TestAppRendersFinalReport(t *testing.T) {
	app := NewApp("ci", nil)
	rep := report.Report{RunID: "run-9", PipelineID: "ci", Status: report.StatusPass}
	model, cmd := app.Update(runDoneMsg{report: rep})
	app = model.(*App)
	if cmd == nil {
		t.Fatalf("expected quit command once the run is done")
	}
	if !strings.Contains(app.View(), "PASS") {
		t.Fatalf("expected final report in view:\n%s", app.View())
	}

	aborted := feed(t, NewApp("ci", nil), runDoneMsg{err: engine.ErrSuperseded})
	if !strings.Contains(aborted.View(), "aborted") {
		t.Fatalf("expected aborted view, got %q", aborted.View())
	}
	failed := feed(t, NewApp("ci", nil), runDoneMsg{err: errors.New("disk full")})
	if !strings.Contains(failed.View(), "disk full") {
		t.Fatalf("expected error in view, got %q", failed.View())
	}
}

func TestObserverForwardsMessages(t *testing.T) {
	var got []tea.Msg
	obs := NewObserver(func(msg tea.Msg) { got = append(got, msg) })
	obs.RunStarted(engine.RunInfo{RunID: "r"})
	obs.JobStarted("r", matrix.Instance{ID: "a"})
	obs.JobFinished("r", runner.Outcome{InstanceID: "a"})
	obs.ReleaseDecided("r", report.Release{})
	obs.RunFinished(report.Report{})
	obs.RunAborted("r", engine.ErrSuperseded)
	if len(got) != 5 {
		t.Fatalf("expected 5 forwarded messages, got %d", len(got))
	}
	if _, ok := got[1].(jobStartedMsg); !ok {
		t.Fatalf("expected jobStartedMsg, got %T", got[1])
	}
}
