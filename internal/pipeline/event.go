package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// EventKind enumerates the triggers a pipeline can react to.
type EventKind string

const (
	EventPullRequest EventKind = "pull_request"
	EventPush        EventKind = "push"
	EventSchedule    EventKind = "schedule"
)

// ParseEventKind accepts the canonical names plus "pr" and "cron".
func ParseEventKind(value string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "pull_request", "pull-request", "pr":
		return EventPullRequest, nil
	case "push":
		return EventPush, nil
	case "schedule", "cron":
		return EventSchedule, nil
	default:
		return "", fmt.Errorf("pipeline: unknown event kind %q", value)
	}
}

// Event is one trigger. It is immutable once normalized.
type Event struct {
	ID      string    `json:"id,omitempty"`
	Kind    EventKind `json:"kind"`
	Ref     string    `json:"ref"`
	BaseRef string    `json:"base_ref,omitempty"`
	// Schedule is the cron expression that fired a scheduled event.
	Schedule   string    `json:"schedule,omitempty"`
	SHA        string    `json:"sha,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Normalize trims fields and canonicalizes the kind.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	e.ID = strings.TrimSpace(e.ID)
	e.Ref = strings.TrimSpace(e.Ref)
	e.BaseRef = strings.TrimSpace(e.BaseRef)
	e.Schedule = strings.Join(strings.Fields(e.Schedule), " ")
	e.SHA = strings.TrimSpace(e.SHA)
	if kind, err := ParseEventKind(string(e.Kind)); err == nil {
		e.Kind = kind
	}
}

// Validate checks that the event carries what its kind needs.
func (e Event) Validate() error {
	switch e.Kind {
	case EventPush:
		if e.Ref == "" {
			return fmt.Errorf("push event requires ref")
		}
	case EventPullRequest:
		if e.Ref == "" {
			return fmt.Errorf("pull_request event requires ref")
		}
		if e.BaseRef == "" {
			return fmt.Errorf("pull_request event requires base_ref")
		}
	case EventSchedule:
		if e.Schedule == "" {
			return fmt.Errorf("schedule event requires schedule")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// SupersedeKey groups events whose runs replace each other: a newer event on
// the same ref cancels the older run.
func (e Event) SupersedeKey() string {
	if e.Kind == EventSchedule {
		return string(EventSchedule) + ":" + e.Schedule + ":" + e.Ref
	}
	return string(e.Kind) + ":" + e.Ref
}

// BranchName strips refs/heads/ from a ref.
func BranchName(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), "refs/heads/")
}
