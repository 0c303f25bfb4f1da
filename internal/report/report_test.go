package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/runner"
	"github.com/kingrea/tollgate/internal/pipeline/scheduler"
	"github.com/kingrea/tollgate/internal/release"
)

func passed(id string) runner.Outcome {
	return runner.Outcome{InstanceID: id, Template: id, Status: runner.StatusPassed}
}

func failed(id string, tolerant bool) runner.Outcome {
	return runner.Outcome{InstanceID: id, Template: id, Status: runner.StatusFailed, Failure: runner.FailureExecution, Tolerant: tolerant}
}

func releaseResult(t *testing.T, previous string, messages []string, diff release.APIDiff) *Release {
	t.Helper()
	prev := semver.MustParse(previous)
	var commits []release.CommitRecord
	for _, msg := range messages {
		commits = append(commits, release.CommitRecord{Message: msg})
	}
	decision := release.NewArbiter(release.DefaultPolicy()).Decide(&prev, commits)
	gate := release.NewGate(release.DefaultGatePolicy()).Check(decision, diff)
	return &Release{Decision: decision, Gate: gate, Tag: release.FormatTag(decision.ComputedVersion, "v")}
}

func TestAggregateAllPassed(t *testing.T) {
	rep, err := Aggregate(Input{PipelineID: "ci", Outcomes: []runner.Outcome{passed("a"), passed("b")}})
	require.NoError(t, err)
	assert.Equal(t, StatusPass, rep.Status)
	assert.Equal(t, ExitPass, rep.ExitCode())
	assert.Empty(t, rep.Warnings)
}

func TestAggregateTolerantFailureIsWarning(t *testing.T) {
	rep, err := Aggregate(Input{
		PipelineID: "ci",
		Outcomes:   []runner.Outcome{passed("test (A)"), failed("nightly", true)},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPass, rep.Status)
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], "nightly")
	assert.Empty(t, rep.Failures)

	p, f, tol := rep.Counts()
	assert.Equal(t, []int{1, 0, 1}, []int{p, f, tol})
}

func TestAggregateNonTolerantFailureFails(t *testing.T) {
	rep, err := Aggregate(Input{Outcomes: []runner.Outcome{passed("a"), failed("b", false)}})
	require.NoError(t, err)
	assert.Equal(t, StatusFail, rep.Status)
	assert.Equal(t, ExitFail, rep.ExitCode())
	require.Len(t, rep.Failures, 1)
	assert.Contains(t, rep.Failures[0], "b failed (execution)")
}

func TestAggregateGateFailureFails(t *testing.T) {
	rel := releaseResult(t, "1.2.3", []string{"fix"}, release.APIDiffBreaking)
	require.False(t, rel.Gate.Passed)

	rep, err := Aggregate(Input{Outcomes: []runner.Outcome{passed("a")}, Release: rel})
	require.NoError(t, err)
	assert.Equal(t, StatusFail, rep.Status)
	require.Len(t, rep.Failures, 1)
	assert.Contains(t, rep.Failures[0], "(MAJOR)")
}

func TestAggregateGatePassed(t *testing.T) {
	rel := releaseResult(t, "1.2.3", []string{"fix", "feat (MINOR)"}, release.APIDiffAdditive)
	rep, err := Aggregate(Input{Outcomes: []runner.Outcome{passed("a")}, Release: rel})
	require.NoError(t, err)
	assert.True(t, rep.Passed())
	assert.Equal(t, "1.3.0", rep.Release.Decision.ComputedVersion.String())
}

func TestAggregateRejectsPartialInput(t *testing.T) {
	_, err := Aggregate(Input{Outcomes: []runner.Outcome{{InstanceID: "a", Status: runner.StatusPending}}})
	assert.Error(t, err)

	cancelled := failed("b", false)
	cancelled.Failure = runner.FailureCancelled
	_, err = Aggregate(Input{Outcomes: []runner.Outcome{cancelled}})
	assert.Error(t, err)
}

func TestAggregateCopiesInput(t *testing.T) {
	outcomes := []runner.Outcome{passed("a")}
	skipped := map[string]scheduler.SkipReason{"audit": {Reason: scheduler.SkipReasonEventFilter}}
	rep, err := Aggregate(Input{Outcomes: outcomes, Skipped: skipped})
	require.NoError(t, err)
	outcomes[0].Status = runner.StatusFailed
	skipped["other"] = scheduler.SkipReason{}
	assert.Equal(t, runner.StatusPassed, rep.Outcomes[0].Status)
	assert.Len(t, rep.Skipped, 1)
}

func TestReportJSONRoundTrip(t *testing.T) {
	rel := releaseResult(t, "1.2.3", []string{"feat (MINOR)"}, release.APIDiffAdditive)
	rep, err := Aggregate(Input{
		RunID:      "run-1",
		PipelineID: "ci",
		Event:      pipeline.Event{Kind: pipeline.EventPush, Ref: "main"},
		Outcomes:   []runner.Outcome{passed("a"), failed("b", true)},
		Release:    rel,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, rep.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"bump_level": "MINOR"`)
	assert.Contains(t, buf.String(), `"computed_version": "1.3.0"`)

	decoded, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, rep.Status, decoded.Status)
	assert.Equal(t, rep.Release.Decision.ComputedVersion, decoded.Release.Decision.ComputedVersion)
	assert.Equal(t, rep.Warnings, decoded.Warnings)
}

func TestRenderMentionsVerdictAndRelease(t *testing.T) {
	rel := releaseResult(t, "1.2.3", []string{"fix"}, release.APIDiffAdditive)
	rep, err := Aggregate(Input{
		PipelineID: "ci",
		Event:      pipeline.Event{Kind: pipeline.EventPush, Ref: "main"},
		Outcomes:   []runner.Outcome{passed("test (A)")},
		Skipped:    map[string]scheduler.SkipReason{"audit": {Reason: scheduler.SkipReasonEventFilter}},
		Release:    rel,
	})
	require.NoError(t, err)
	out := rep.Render()
	for _, want := range []string{"Pipeline ci", "test (A)", "audit", "1.2.3 -> 1.2.4", "gate blocked", "FAIL", "* fix"} {
		assert.True(t, strings.Contains(out, want), "render output missing %q:\n%s", want, out)
	}
}
