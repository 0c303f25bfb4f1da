package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/tollgate/internal/engine"
	"github.com/kingrea/tollgate/internal/pipeline/matrix"
	"github.com/kingrea/tollgate/internal/pipeline/runner"
	"github.com/kingrea/tollgate/internal/report"
)

type runStartedMsg struct {
	info engine.RunInfo
}

type jobStartedMsg struct {
	id string
}

type jobFinishedMsg struct {
	outcome runner.Outcome
}

type releaseDecidedMsg struct {
	release report.Release
}

type runAbortedMsg struct {
	cause error
}

type runDoneMsg struct {
	report report.Report
	err    error
}

// Observer forwards engine callbacks into a bubbletea program as messages.
type Observer struct {
	send func(tea.Msg)
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver wraps a message sink, usually (*tea.Program).Send.
func NewObserver(send func(tea.Msg)) *Observer {
	return &Observer{send: send}
}

func (o *Observer) RunStarted(info engine.RunInfo) {
	o.send(runStartedMsg{info: info})
}

func (o *Observer) JobStarted(_ string, inst matrix.Instance) {
	o.send(jobStartedMsg{id: inst.ID})
}

func (o *Observer) JobFinished(_ string, outcome runner.Outcome) {
	o.send(jobFinishedMsg{outcome: outcome})
}

func (o *Observer) ReleaseDecided(_ string, rel report.Release) {
	o.send(releaseDecidedMsg{release: rel})
}

// RunFinished is reported through runDoneMsg instead, which also carries
// persistence errors.
func (o *Observer) RunFinished(report.Report) {}

func (o *Observer) RunAborted(_ string, cause error) {
	o.send(runAbortedMsg{cause: cause})
}
