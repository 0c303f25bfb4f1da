// Package trigger decides which pipelines an incoming event starts.
package trigger

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kingrea/tollgate/internal/pipeline"
)

// Source lists the pipelines a dispatcher chooses from.
type Source interface {
	Definitions() []pipeline.Definition
}

// Static is a fixed set of definitions.
type Static []pipeline.Definition

// Definitions returns the set.
func (s Static) Definitions() []pipeline.Definition {
	return s
}

// Dispatcher matches events against pipeline trigger filters.
type Dispatcher struct {
	source Source
}

// NewDispatcher wires a dispatcher to its pipeline source.
func NewDispatcher(source Source) *Dispatcher {
	if source == nil {
		source = Static(nil)
	}
	return &Dispatcher{source: source}
}

// Dispatch returns the pipelines event triggers, in source order. Push events
// match on the pushed branch, pull requests on their base branch, scheduled
// events on the exact cron expression.
func (d *Dispatcher) Dispatch(event pipeline.Event) []pipeline.Definition {
	event.Normalize()
	var out []pipeline.Definition
	for _, def := range d.source.Definitions() {
		if Matches(def.On, event) {
			out = append(out, def)
		}
	}
	return out
}

// Matches reports whether triggers fire for event.
func Matches(on pipeline.Triggers, event pipeline.Event) bool {
	switch event.Kind {
	case pipeline.EventPush:
		return on.Push != nil && matchBranch(*on.Push, pipeline.BranchName(event.Ref))
	case pipeline.EventPullRequest:
		return on.PullRequest != nil && matchBranch(*on.PullRequest, pipeline.BranchName(event.BaseRef))
	case pipeline.EventSchedule:
		want := strings.Join(strings.Fields(event.Schedule), " ")
		for _, cron := range on.Schedule {
			if strings.Join(strings.Fields(cron), " ") == want {
				return true
			}
		}
	}
	return false
}

func matchBranch(filter pipeline.BranchFilter, branch string) bool {
	if branch == "" {
		return false
	}
	for _, pattern := range filter.BranchesIgnore {
		if globMatch(pattern, branch) {
			return false
		}
	}
	if len(filter.Branches) == 0 {
		return true
	}
	for _, pattern := range filter.Branches {
		if globMatch(pattern, branch) {
			return true
		}
	}
	return false
}

// globMatch treats a malformed pattern as a non-match.
func globMatch(pattern, branch string) bool {
	ok, err := doublestar.Match(strings.TrimSpace(pattern), branch)
	return err == nil && ok
}
