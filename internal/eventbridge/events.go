package eventbridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/release"
	"github.com/kingrea/tollgate/internal/report"
)

const (
	// ProtocolVersion identifies the intake contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the currently supported inbound event version.
	EventSchemaVersion = 1
)

// Event is one trigger posted to /events.
type Event struct {
	Version  int                `json:"version"`
	EventID  string             `json:"event_id"`
	Kind     pipeline.EventKind `json:"kind"`
	Ref      string             `json:"ref,omitempty"`
	BaseRef  string             `json:"base_ref,omitempty"`
	Schedule string             `json:"schedule,omitempty"`
	SHA      string             `json:"sha,omitempty"`
	// Pipeline restricts dispatch to one pipeline ID.
	Pipeline string `json:"pipeline,omitempty"`
	// APIDiff supplies the gate's classification for pipelines without an
	// api_check job.
	APIDiff    string    `json:"api_diff,omitempty"`
	ClientTime time.Time `json:"client_time,omitempty"`
	ServerTime time.Time `json:"server_time"`
}

// Normalize applies defaults and canonical formatting before validation.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	e.Pipeline = strings.TrimSpace(e.Pipeline)
	e.APIDiff = strings.TrimSpace(e.APIDiff)
	trigger := e.Trigger()
	trigger.Normalize()
	e.Kind = trigger.Kind
	e.Ref = trigger.Ref
	e.BaseRef = trigger.BaseRef
	e.Schedule = trigger.Schedule
	e.SHA = trigger.SHA
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// Validate enforces baseline schema requirements for incoming events.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if err := e.Trigger().Validate(); err != nil {
		return err
	}
	if e.APIDiff != "" {
		if _, err := release.ParseAPIDiff(e.APIDiff); err != nil {
			return err
		}
	}
	return nil
}

// Trigger converts the payload into a pipeline event.
func (e Event) Trigger() pipeline.Event {
	return pipeline.Event{
		ID:         e.EventID,
		Kind:       e.Kind,
		Ref:        e.Ref,
		BaseRef:    e.BaseRef,
		Schedule:   e.Schedule,
		SHA:        e.SHA,
		ReceivedAt: e.ServerTime,
	}
}

// Classification returns the parsed API diff, or "" when none was supplied.
func (e Event) Classification() release.APIDiff {
	diff, err := release.ParseAPIDiff(e.APIDiff)
	if err != nil {
		return ""
	}
	return diff
}

// EventProcessor consumes validated events.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) error

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// RunLookup reads persisted run reports. engine.Repository implements it.
type RunLookup interface {
	List() ([]string, error)
	Load(runID string) (report.Report, error)
}

// Logger matches logging.Logger's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	ActiveRuns    []string `json:"active_runs,omitempty"`
}

type eventResponse struct {
	Status     string    `json:"status"`
	EventID    string    `json:"event_id"`
	ServerTime time.Time `json:"server_time"`
}

type runsResponse struct {
	Runs []string `json:"runs"`
}

type errorResponse struct {
	Error string `json:"error"`
}
