package scheduler

import (
	"fmt"
	"strings"

	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/matrix"
)

// Scheduler selects the runnable instances of a pipeline's expansion.
type Scheduler struct {
	def       pipeline.Definition
	instances []matrix.Instance
}

// New wires a Scheduler to a pipeline and its expansion.
func New(def pipeline.Definition, instances []matrix.Instance) (*Scheduler, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("scheduler: pipeline id is required")
	}
	copied := make([]matrix.Instance, len(instances))
	copy(copied, instances)
	return &Scheduler{def: def, instances: copied}, nil
}

// RunnableRequest captures the trigger and optional narrowing.
type RunnableRequest struct {
	Event pipeline.Event
	// Targets optionally narrows the run to a subset of job templates. When
	// empty every template is considered. The release API-check job is kept
	// whenever the pipeline releases so the gate still has its input.
	Targets []string
}

// RunnableBatch describes the scheduler's decision. Instances keep expansion
// order.
type RunnableBatch struct {
	Instances []matrix.Instance
	Skipped   map[string]SkipReason
}

// SkipReason explains why an instance was excluded from the runnable set.
type SkipReason struct {
	Reason SkipReasonCode `json:"reason"`
	Detail string         `json:"detail,omitempty"`
}

// SkipReasonCode enumerates scheduler skip reasons.
type SkipReasonCode string

const (
	SkipReasonEventFilter SkipReasonCode = "event-filter"
	SkipReasonNotTargeted SkipReasonCode = "not-targeted"
)

// Runnable returns the instances that should run for req.
func (s *Scheduler) Runnable(req RunnableRequest) (RunnableBatch, error) {
	if err := req.Event.Validate(); err != nil {
		return RunnableBatch{}, err
	}
	targets, err := s.targetSet(req.Targets)
	if err != nil {
		return RunnableBatch{}, err
	}
	result := RunnableBatch{}
	for _, inst := range s.instances {
		if !inst.Job.RunsOn(req.Event.Kind) {
			result.addSkip(inst.ID, SkipReason{
				Reason: SkipReasonEventFilter,
				Detail: fmt.Sprintf("only runs on %s", joinKinds(inst.Job.OnlyOn)),
			})
			continue
		}
		if targets != nil {
			if _, ok := targets[inst.Template]; !ok {
				result.addSkip(inst.ID, SkipReason{Reason: SkipReasonNotTargeted, Detail: "template not targeted"})
				continue
			}
		}
		result.Instances = append(result.Instances, inst)
	}
	return result, nil
}

func (s *Scheduler) targetSet(targets []string) (map[string]struct{}, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	set := make(map[string]struct{}, len(targets)+1)
	for _, name := range targets {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := s.def.Job(name); !ok {
			return nil, pipeline.Configf(s.def.ID, "targets", "unknown job %q", name)
		}
		set[name] = struct{}{}
	}
	if s.def.Release.Enabled && s.def.Release.APIDiffFrom != "" {
		set[s.def.Release.APIDiffFrom] = struct{}{}
	}
	return set, nil
}

func (b *RunnableBatch) addSkip(id string, reason SkipReason) {
	if id == "" {
		return
	}
	if b.Skipped == nil {
		b.Skipped = make(map[string]SkipReason)
	}
	b.Skipped[id] = reason
}

func joinKinds(kinds []pipeline.EventKind) string {
	parts := make([]string, len(kinds))
	for i, kind := range kinds {
		parts[i] = string(kind)
	}
	return strings.Join(parts, ", ")
}
