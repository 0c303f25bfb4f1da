package release

import (
	"fmt"
	"strings"
)

// APIDiff classifies how a change affects the published API.
type APIDiff string

const (
	APIDiffNoChange APIDiff = "no-change"
	APIDiffAdditive APIDiff = "additive"
	APIDiffBreaking APIDiff = "breaking"
)

// ParseAPIDiff accepts the three classifications plus a few spellings that API
// checkers commonly print.
func ParseAPIDiff(value string) (APIDiff, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "no-change", "none", "nochange", "no_change", "unchanged":
		return APIDiffNoChange, nil
	case "additive", "minor", "compatible":
		return APIDiffAdditive, nil
	case "breaking", "major", "incompatible":
		return APIDiffBreaking, nil
	default:
		return "", fmt.Errorf("release: unknown API diff classification %q", value)
	}
}

func (d APIDiff) rank() int {
	switch d {
	case APIDiffNoChange:
		return 1
	case APIDiffAdditive:
		return 2
	case APIDiffBreaking:
		return 3
	default:
		return 0
	}
}

// WorstAPIDiff returns the more severe of two classifications. An unknown or
// empty value loses to any known one.
func WorstAPIDiff(a, b APIDiff) APIDiff {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// GatePolicy configures the release gate.
type GatePolicy struct {
	// PreStableBreaking is the minimum bump a breaking change needs while the
	// previous version's major component is 0. BumpMinor tolerates breaking
	// changes under a minor release before 1.0.
	PreStableBreaking Bump
}

// DefaultGatePolicy requires MAJOR for a breaking change at any version.
func DefaultGatePolicy() GatePolicy {
	return GatePolicy{PreStableBreaking: BumpMajor}
}

// GateResult is the gate's verdict. A failed gate is a policy violation to be
// fixed by a human, not an error.
type GateResult struct {
	Passed          bool    `json:"passed"`
	Bump            Bump    `json:"bump_level"`
	APIDiff         APIDiff `json:"api_diff,omitempty"`
	RequiredMinimum Bump    `json:"required_minimum_bump"`
	PreStable       bool    `json:"pre_stable,omitempty"`
	// Remedy is the marker a commit must carry to unblock the release.
	Remedy Marker `json:"remedy,omitempty"`
	Reason string `json:"reason"`
}

// Gate compares a computed bump with the detected API change.
type Gate struct {
	policy GatePolicy
}

// NewGate builds a gate. A PreStableBreaking below MINOR is raised to MINOR:
// a breaking change never passes on a patch bump.
func NewGate(policy GatePolicy) *Gate {
	if policy.PreStableBreaking.Less(BumpMinor) {
		policy.PreStableBreaking = BumpMinor
	}
	return &Gate{policy: policy}
}

// RequiredMinimum maps an API diff to the smallest acceptable bump.
func (g *Gate) RequiredMinimum(diff APIDiff, preStable bool) Bump {
	switch diff {
	case APIDiffBreaking:
		if preStable {
			return g.policy.PreStableBreaking
		}
		return BumpMajor
	case APIDiffAdditive:
		return BumpMinor
	default:
		return BumpPatch
	}
}

// Evaluate blocks exactly when bump < RequiredMinimum(diff).
func (g *Gate) Evaluate(bump Bump, diff APIDiff, preStable bool) GateResult {
	required := g.RequiredMinimum(diff, preStable)
	result := GateResult{
		Bump:            bump,
		APIDiff:         diff,
		RequiredMinimum: required,
		PreStable:       preStable,
	}
	if bump.Less(required) {
		result.Remedy = required.Marker()
		result.Reason = fmt.Sprintf("%s API change requires at least a %s bump but the commits since the last release only justify %s; add a commit whose message contains %s to unblock the release",
			diff, required, bump, result.Remedy)
		return result
	}
	result.Passed = true
	result.Reason = fmt.Sprintf("%s bump satisfies %s API change (requires %s)", bump, diff, required)
	return result
}

// Check evaluates a decision. The release counts as pre-stable while the
// previous version's major component is 0.
func (g *Gate) Check(decision VersionDecision, diff APIDiff) GateResult {
	return g.Evaluate(decision.Bump, diff, decision.PreviousVersion.Major == 0)
}

// Unverifiable is the verdict when no API classification could be obtained.
// The gate fails closed.
func Unverifiable(bump Bump, detail string) GateResult {
	reason := "API compatibility could not be determined"
	if detail = strings.TrimSpace(detail); detail != "" {
		reason = fmt.Sprintf("%s: %s", reason, detail)
	}
	return GateResult{Bump: bump, RequiredMinimum: bump, Reason: reason}
}
