// Package tui renders a live view of one pipeline run. It uses bubbletea,
// which follows The Elm Architecture: messages from the engine observer and
// the keyboard update the model, and View renders it.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/tollgate/internal/engine"
	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/runner"
	"github.com/kingrea/tollgate/internal/report"
)

// ErrInterrupted is the cancellation cause when the user quits mid-run.
var ErrInterrupted = errors.New("interrupted by user")

var (
	labelStylePassed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	hintStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

type jobState int

const (
	jobQueued jobState = iota
	jobRunning
	jobPassed
	jobFailed
	jobTolerated
)

type jobRow struct {
	id       string
	state    jobState
	failure  runner.FailureKind
	duration time.Duration
}

// App is the bubbletea model for one run.
type App struct {
	title   string
	spinner spinner.Model
	cancel  func()

	runID     string
	event     pipeline.Event
	jobs      []*jobRow
	index     map[string]*jobRow
	skipped   int
	releasing bool
	release   *report.Release

	final       *report.Report
	err         error
	done        bool
	interrupted bool
}

// NewApp builds the model. cancel is invoked when the user asks to quit
// before the run has finished.
func NewApp(title string, cancel func()) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = labelStyleRunning
	return &App{title: title, spinner: s, cancel: cancel, index: map[string]*jobRow{}}
}

// Init starts the spinner.
func (a *App) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update handles engine and keyboard messages.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if a.done {
				return a, tea.Quit
			}
			if !a.interrupted && a.cancel != nil {
				a.interrupted = true
				a.cancel()
			}
		}
		return a, nil
	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	case runStartedMsg:
		a.runID = msg.info.RunID
		a.event = msg.info.Event
		a.skipped = len(msg.info.Skipped)
		a.releasing = msg.info.Release
		a.jobs = a.jobs[:0]
		a.index = make(map[string]*jobRow, len(msg.info.Instances))
		for _, inst := range msg.info.Instances {
			row := &jobRow{id: inst.ID}
			a.jobs = append(a.jobs, row)
			a.index[inst.ID] = row
		}
	case jobStartedMsg:
		if row := a.row(msg.id); row != nil {
			row.state = jobRunning
		}
	case jobFinishedMsg:
		row := a.row(msg.outcome.InstanceID)
		if row == nil {
			return a, nil
		}
		row.duration = msg.outcome.Duration()
		row.failure = msg.outcome.Failure
		switch {
		case msg.outcome.Status == runner.StatusPassed:
			row.state = jobPassed
		case msg.outcome.Tolerant:
			row.state = jobTolerated
		default:
			row.state = jobFailed
		}
	case releaseDecidedMsg:
		rel := msg.release
		a.release = &rel
	case runAbortedMsg:
		a.err = msg.cause
	case runDoneMsg:
		a.done = true
		if msg.err != nil {
			a.err = msg.err
		} else {
			rep := msg.report
			a.final = &rep
		}
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) row(id string) *jobRow {
	row, ok := a.index[id]
	if !ok {
		row = &jobRow{id: id}
		a.jobs = append(a.jobs, row)
		a.index[id] = row
	}
	return row
}

// View renders the live run, or the final report once the run is over.
func (a *App) View() string {
	if a.done {
		if a.final != nil {
			return a.final.Render() + "\n"
		}
		if errors.Is(a.err, engine.ErrSuperseded) {
			return labelStyleWarn.Render("run aborted") + detailTextStyle.Render(": "+a.err.Error()) + "\n"
		}
		return labelStyleFailed.Render("run failed") + detailTextStyle.Render(": "+errString(a.err)) + "\n"
	}
	var b strings.Builder
	title := a.title
	if a.runID != "" {
		title += hintStyle.Render("  run " + a.runID)
	}
	b.WriteString(titleStyle.Render(title) + "\n")
	if a.event.Kind != "" {
		b.WriteString(detailTextStyle.Render(fmt.Sprintf("%s %s", a.event.Kind, eventTarget(a.event))) + "\n")
	}
	b.WriteString("\n")
	for _, row := range a.jobs {
		b.WriteString(a.renderRow(row) + "\n")
	}
	if a.skipped > 0 {
		b.WriteString(hintStyle.Render(fmt.Sprintf("  %d skipped", a.skipped)) + "\n")
	}
	if a.releasing {
		b.WriteString("\n" + a.renderRelease() + "\n")
	}
	b.WriteString("\n")
	if a.interrupted {
		b.WriteString(hintStyle.Render("cancelling..."))
	} else {
		b.WriteString(hintStyle.Render("q: cancel run"))
	}
	return b.String()
}

func (a *App) renderRow(row *jobRow) string {
	var label string
	switch row.state {
	case jobRunning:
		label = a.spinner.View() + labelStyleRunning.Render("run ")
	case jobPassed:
		label = labelStylePassed.Render("  ok  ")
	case jobFailed:
		label = labelStyleFailed.Render("  FAIL")
	case jobTolerated:
		label = labelStyleWarn.Render("  warn")
	default:
		label = labelStyleQueued.Render("  ... ")
	}
	line := label + " " + row.id
	if row.duration > 0 {
		line += hintStyle.Render("  " + row.duration.Round(time.Millisecond).String())
	}
	if row.failure != runner.FailureNone {
		line += detailTextStyle.Render("  " + string(row.failure))
	}
	return line
}

func (a *App) renderRelease() string {
	if a.release == nil {
		return a.spinner.View() + detailTextStyle.Render("release: computing version")
	}
	if a.release.Error != "" {
		return labelStyleFailed.Render("release unavailable") + detailTextStyle.Render(": "+a.release.Error)
	}
	line := fmt.Sprintf("release %s [%s] ", a.release.Tag, a.release.Decision.Bump)
	if a.release.Gate.Passed {
		return line + labelStylePassed.Render("gate passed")
	}
	return line + labelStyleFailed.Render("gate blocked") + detailTextStyle.Render(": "+a.release.Gate.Reason)
}

func eventTarget(e pipeline.Event) string {
	switch e.Kind {
	case pipeline.EventSchedule:
		return fmt.Sprintf("%q", e.Schedule)
	case pipeline.EventPullRequest:
		return e.Ref + " -> " + e.BaseRef
	default:
		return e.Ref
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// StartFunc runs the pipeline, reporting progress to observer.
type StartFunc func(ctx context.Context, observer engine.Observer) (report.Report, error)

type runResult struct {
	report report.Report
	err    error
}

// Run executes start behind a live view and returns its result. Quitting the
// view cancels the run with ErrInterrupted.
func Run(ctx context.Context, title string, start StartFunc, opts ...tea.ProgramOption) (report.Report, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	app := NewApp(title, func() { cancel(ErrInterrupted) })
	program := tea.NewProgram(app, opts...)
	done := make(chan runResult, 1)
	go func() {
		rep, err := start(ctx, NewObserver(program.Send))
		done <- runResult{report: rep, err: err}
		program.Send(runDoneMsg{report: rep, err: err})
	}()
	if _, err := program.Run(); err != nil {
		cancel(err)
		<-done
		return report.Report{}, fmt.Errorf("tui: %w", err)
	}
	// no-op once the run has reported; stops it if the program quit early
	cancel(ErrInterrupted)
	res := <-done
	return res.report, res.err
}
