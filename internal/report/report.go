// Package report merges job outcomes and the release gate verdict into the
// single pipeline verdict, and renders it for terminals and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/runner"
	"github.com/kingrea/tollgate/internal/pipeline/scheduler"
	"github.com/kingrea/tollgate/internal/release"
)

// Status is the overall verdict.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// Process exit codes for a finished run.
const (
	ExitPass          = 0
	ExitFail          = 1
	ExitConfiguration = 2
)

// Release is the outcome of the version arbiter and release gate.
type Release struct {
	Decision release.VersionDecision `json:"decision"`
	Gate     release.GateResult      `json:"gate"`
	Tag      string                  `json:"tag"`
	// Error is set when the commit history could not be read; the gate is
	// then blocked and Decision is empty.
	Error string `json:"error,omitempty"`
}

// Input is everything the aggregator needs. Release is nil when the pipeline
// does not release.
type Input struct {
	RunID      string
	PipelineID string
	Event      pipeline.Event
	Outcomes   []runner.Outcome
	Skipped    map[string]scheduler.SkipReason
	Release    *Release
	StartedAt  time.Time
	FinishedAt time.Time
}

// Report is the immutable result of one pipeline run.
type Report struct {
	RunID      string                          `json:"run_id"`
	PipelineID string                          `json:"pipeline_id"`
	Event      pipeline.Event                  `json:"event"`
	Status     Status                          `json:"status"`
	Outcomes   []runner.Outcome                `json:"job_outcomes"`
	Skipped    map[string]scheduler.SkipReason `json:"skipped,omitempty"`
	Release    *Release                        `json:"release,omitempty"`
	// Failures lists what made the run fail: non-tolerant job failures and
	// the gate's blocking reason.
	Failures   []string  `json:"failures,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Aggregate computes the verdict. It refuses input that is not final: every
// outcome must be terminal and none may be a cancellation.
func Aggregate(in Input) (Report, error) {
	rep := Report{
		RunID:      in.RunID,
		PipelineID: in.PipelineID,
		Event:      in.Event,
		Status:     StatusPass,
		Outcomes:   append([]runner.Outcome(nil), in.Outcomes...),
		StartedAt:  in.StartedAt,
		FinishedAt: in.FinishedAt,
	}
	if len(in.Skipped) > 0 {
		rep.Skipped = make(map[string]scheduler.SkipReason, len(in.Skipped))
		for id, reason := range in.Skipped {
			rep.Skipped[id] = reason
		}
	}
	for _, outcome := range in.Outcomes {
		switch outcome.Status {
		case runner.StatusPassed:
			continue
		case runner.StatusFailed:
		default:
			return Report{}, fmt.Errorf("report: job %s is not terminal (%s)", outcome.InstanceID, outcome.Status)
		}
		if outcome.Failure == runner.FailureCancelled {
			return Report{}, fmt.Errorf("report: job %s was cancelled", outcome.InstanceID)
		}
		line := describeFailure(outcome)
		if outcome.Tolerant {
			rep.Warnings = append(rep.Warnings, line+" (tolerated)")
			continue
		}
		rep.Failures = append(rep.Failures, line)
	}
	if in.Release != nil {
		rel := *in.Release
		rel.Decision.Changelog = append([]string{}, in.Release.Decision.Changelog...)
		rep.Release = &rel
		if !rel.Gate.Passed {
			rep.Failures = append(rep.Failures, "release gate: "+rel.Gate.Reason)
		}
	}
	if len(rep.Failures) > 0 {
		rep.Status = StatusFail
	}
	return rep, nil
}

func describeFailure(o runner.Outcome) string {
	kind := o.Failure
	if kind == runner.FailureNone {
		kind = runner.FailureExecution
	}
	if o.Error != "" {
		return fmt.Sprintf("%s failed (%s): %s", o.InstanceID, kind, o.Error)
	}
	return fmt.Sprintf("%s failed (%s)", o.InstanceID, kind)
}

// Passed reports whether the run passed.
func (r Report) Passed() bool {
	return r.Status == StatusPass
}

// ExitCode maps the verdict to a process exit code.
func (r Report) ExitCode() int {
	if r.Passed() {
		return ExitPass
	}
	return ExitFail
}

// Counts tallies outcomes by status.
func (r Report) Counts() (passed, failed, tolerated int) {
	for _, o := range r.Outcomes {
		switch {
		case o.Status == runner.StatusPassed:
			passed++
		case o.Tolerant:
			tolerated++
		default:
			failed++
		}
	}
	return passed, failed, tolerated
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// WriteJSON writes the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Decode reads a report written by WriteJSON.
func Decode(data []byte) (Report, error) {
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return Report{}, fmt.Errorf("report: decode: %w", err)
	}
	return rep, nil
}
