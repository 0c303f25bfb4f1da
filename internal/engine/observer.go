package engine

import (
	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/matrix"
	"github.com/kingrea/tollgate/internal/pipeline/runner"
	"github.com/kingrea/tollgate/internal/pipeline/scheduler"
	"github.com/kingrea/tollgate/internal/report"
)

// RunInfo describes a run once scheduling is done.
type RunInfo struct {
	RunID      string
	PipelineID string
	Event      pipeline.Event
	Instances  []matrix.Instance
	Skipped    map[string]scheduler.SkipReason
	Release    bool
}

// Observer receives progress callbacks. Job callbacks arrive from the worker
// goroutines, so implementations must be safe for concurrent use.
type Observer interface {
	RunStarted(RunInfo)
	JobStarted(runID string, inst matrix.Instance)
	JobFinished(runID string, outcome runner.Outcome)
	ReleaseDecided(runID string, rel report.Release)
	RunFinished(rep report.Report)
	RunAborted(runID string, cause error)
}

// NopObserver ignores every callback. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) RunStarted(RunInfo)                    {}
func (NopObserver) JobStarted(string, matrix.Instance)    {}
func (NopObserver) JobFinished(string, runner.Outcome)    {}
func (NopObserver) ReleaseDecided(string, report.Release) {}
func (NopObserver) RunFinished(report.Report)             {}
func (NopObserver) RunAborted(string, error)              {}
