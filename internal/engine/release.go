package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/kingrea/tollgate/internal/gitlog"
	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/pipeline/scheduler"
	"github.com/kingrea/tollgate/internal/release"
	"github.com/kingrea/tollgate/internal/report"
)

// decideRelease runs the arbiter while jobs execute, then waits for the
// API-check instances and evaluates the gate.
func (e *Engine) decideRelease(ctx context.Context, def pipeline.Definition, event pipeline.Event, requested release.APIDiff, state *runState, skipped map[string]scheduler.SkipReason) report.Release {
	scope := state.journal.For("release")
	var rel report.Release
	hist, err := e.history(ctx, event)
	if err != nil {
		// still wait so the gate never reports before the API check settles
		state.apiPending.Wait()
		rel.Error = err.Error()
		rel.Gate = release.GateResult{Reason: "commit history unavailable: " + err.Error()}
		scope.Error("%s", rel.Gate.Reason)
		e.observer.ReleaseDecided(state.runID, rel)
		return rel
	}
	rel.Decision = e.arbiter.Decide(hist.Previous, hist.Commits)
	rel.Tag = release.FormatTag(rel.Decision.ComputedVersion, e.tagPrefix)
	scope.Info("%d commits since %s: %s bump to %s", len(hist.Commits), describeTag(hist.Tag), rel.Decision.Bump, rel.Tag)

	state.apiPending.Wait()
	diff, detail := e.apiDiff(def, requested, state, skipped)
	if detail != "" {
		rel.Gate = release.Unverifiable(rel.Decision.Bump, detail)
	} else {
		rel.Gate = e.gate.Check(rel.Decision, diff)
	}
	if rel.Gate.Passed {
		scope.Info("gate passed: %s", rel.Gate.Reason)
	} else {
		scope.Error("gate blocked: %s", rel.Gate.Reason)
	}
	e.logger.Info("release decided", "run", state.runID, "version", rel.Tag, "bump", rel.Decision.Bump, "gate", gateLabel(rel.Gate))
	e.observer.ReleaseDecided(state.runID, rel)
	return rel
}

func (e *Engine) history(ctx context.Context, event pipeline.Event) (gitlog.History, error) {
	if e.commits == nil {
		return gitlog.History{}, fmt.Errorf("no commit source configured")
	}
	ref := event.SHA
	if ref == "" {
		ref = event.Ref
	}
	if ref == "" {
		ref = "HEAD"
	}
	return gitlog.Collect(ctx, e.commits, e.tagPrefix, ref)
}

// apiDiff resolves the classification for the gate. A non-empty detail means
// it could not be determined.
func (e *Engine) apiDiff(def pipeline.Definition, requested release.APIDiff, state *runState, skipped map[string]scheduler.SkipReason) (release.APIDiff, string) {
	from := def.Release.APIDiffFrom
	if from == "" {
		if requested == "" {
			return "", "no API classification was supplied"
		}
		return requested, ""
	}
	var worst release.APIDiff
	ran := 0
	for i, inst := range state.instances {
		if inst.Template != from {
			continue
		}
		ran++
		outcome := state.outcomes[i]
		if outcome.APIDiff == "" {
			return "", fmt.Sprintf("%s reported no classification", outcome.InstanceID)
		}
		worst = release.WorstAPIDiff(worst, outcome.APIDiff)
	}
	if ran == 0 {
		for id, reason := range skipped {
			if templateOf(id, from) {
				return "", fmt.Sprintf("%s was skipped (%s)", from, reason.Reason)
			}
		}
		return "", fmt.Sprintf("%s did not run", from)
	}
	return worst, ""
}

func templateOf(instanceID, template string) bool {
	return instanceID == template || strings.HasPrefix(instanceID, template+" (")
}

func describeTag(tag string) string {
	if tag == "" {
		return "the beginning of history"
	}
	return tag
}
