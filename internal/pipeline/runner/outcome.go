package runner

import (
	"time"

	"github.com/kingrea/tollgate/internal/pipeline/matrix"
	"github.com/kingrea/tollgate/internal/release"
)

// Status is a job instance's outcome.
type Status string

const (
	StatusPending Status = "pending"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
)

// FailureKind says why an instance failed.
type FailureKind string

const (
	FailureNone FailureKind = ""
	// FailureExecution is a check that ran and reported failure.
	FailureExecution FailureKind = "execution"
	// FailureTimeout is a check that exceeded its deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureToolUnavailable is a check whose tool could not be invoked.
	FailureToolUnavailable FailureKind = "tool-unavailable"
	// FailureCancelled is a check interrupted by a superseding run. Cancelled
	// outcomes never reach a report.
	FailureCancelled FailureKind = "cancelled"
)

// Outcome records one instance's terminal state. Tolerant is copied from the
// template so aggregation can apply the policy without looking anything up.
type Outcome struct {
	InstanceID string            `json:"instance_id"`
	Template   string            `json:"template"`
	Assignment matrix.Assignment `json:"assignment,omitempty"`
	Tolerant   bool              `json:"tolerant,omitempty"`
	Status     Status            `json:"status"`
	Failure    FailureKind       `json:"failure,omitempty"`
	Error      string            `json:"error,omitempty"`
	Log        string            `json:"-"`
	APIDiff    release.APIDiff   `json:"api_diff,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Pending returns the initial outcome for an instance.
func Pending(inst matrix.Instance) Outcome {
	return Outcome{
		InstanceID: inst.ID,
		Template:   inst.Template,
		Assignment: inst.Assignment,
		Tolerant:   inst.Tolerant(),
		Status:     StatusPending,
	}
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}

// Duration is the wall time the check took.
func (o Outcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
