package scheduler

import (
	"testing"

	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/matrix"
)

func testDefinition() pipeline.Definition {
	return pipeline.Definition{
		ID: "ci",
		Jobs: []pipeline.JobTemplate{
			{
				Name:    "test",
				Tool:    "exec",
				Command: []string{"make", "test"},
				Matrix: pipeline.Axes{
					{Name: "os", Values: []string{"A", "B"}},
				},
			},
			{
				Name:    "audit",
				Tool:    "exec",
				Command: []string{"make", "audit"},
				OnlyOn:  []pipeline.EventKind{pipeline.EventSchedule},
			},
			{
				Name:     "semver",
				Tool:     "api-check",
				Command:  []string{"semver-check"},
				APICheck: true,
			},
		},
		Release: pipeline.ReleaseConfig{Enabled: true, APIDiffFrom: "semver"},
	}
}

func buildScheduler(t *testing.T, def pipeline.Definition) *Scheduler {
	t.Helper()
	instances, err := matrix.ExpandAll(def)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	sched, err := New(def, instances)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched
}

func instanceIDs(batch RunnableBatch) []string {
	ids := make([]string, len(batch.Instances))
	for i, inst := range batch.Instances {
		ids[i] = inst.ID
	}
	return ids
}

func TestSchedulerFiltersByEvent(t *testing.T) {
	sched := buildScheduler(t, testDefinition())
	batch, err := sched.Runnable(RunnableRequest{
		Event: pipeline.Event{Kind: pipeline.EventPush, Ref: "refs/heads/main"},
	})
	if err != nil {
		t.Fatalf("runnable: %v", err)
	}
	got := instanceIDs(batch)
	want := []string{"test (A)", "test (B)", "semver"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	skip, ok := batch.Skipped["audit"]
	if !ok || skip.Reason != SkipReasonEventFilter {
		t.Fatalf("expected audit to be skipped by event filter, got %+v", batch.Skipped)
	}
}

func TestSchedulerRunsScheduledOnlyJobsOnSchedule(t *testing.T) {
	sched := buildScheduler(t, testDefinition())
	batch, err := sched.Runnable(RunnableRequest{
		Event: pipeline.Event{Kind: pipeline.EventSchedule, Schedule: "0 3 * * *"},
	})
	if err != nil {
		t.Fatalf("runnable: %v", err)
	}
	if len(batch.Instances) != 4 {
		t.Fatalf("expected every instance to run, got %v", instanceIDs(batch))
	}
	if len(batch.Skipped) != 0 {
		t.Fatalf("expected nothing skipped, got %+v", batch.Skipped)
	}
}

func TestSchedulerTargetsKeepAPICheck(t *testing.T) {
	sched := buildScheduler(t, testDefinition())
	batch, err := sched.Runnable(RunnableRequest{
		Event:   pipeline.Event{Kind: pipeline.EventSchedule, Schedule: "0 3 * * *"},
		Targets: []string{"audit"},
	})
	if err != nil {
		t.Fatalf("runnable: %v", err)
	}
	got := instanceIDs(batch)
	if len(got) != 2 || got[0] != "audit" || got[1] != "semver" {
		t.Fatalf("unexpected runnable set %v", got)
	}
	if batch.Skipped["test (A)"].Reason != SkipReasonNotTargeted {
		t.Fatalf("expected test (A) to be not-targeted, got %+v", batch.Skipped)
	}
}

func TestSchedulerRejectsUnknownTarget(t *testing.T) {
	sched := buildScheduler(t, testDefinition())
	_, err := sched.Runnable(RunnableRequest{
		Event:   pipeline.Event{Kind: pipeline.EventPush, Ref: "main"},
		Targets: []string{"deploy"},
	})
	if !pipeline.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSchedulerRejectsInvalidEvent(t *testing.T) {
	sched := buildScheduler(t, testDefinition())
	if _, err := sched.Runnable(RunnableRequest{Event: pipeline.Event{Kind: pipeline.EventPullRequest, Ref: "feature"}}); err == nil {
		t.Fatalf("expected pull_request without base ref to be rejected")
	}
}
