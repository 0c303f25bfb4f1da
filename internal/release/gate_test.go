package release

import (
	"fmt"
	"testing"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateAllCombinationsStable(t *testing.T) {
	gate := NewGate(DefaultGatePolicy())
	required := map[APIDiff]Bump{
		APIDiffNoChange: BumpPatch,
		APIDiffAdditive: BumpMinor,
		APIDiffBreaking: BumpMajor,
	}
	for diff, minimum := range required {
		for _, bump := range []Bump{BumpPatch, BumpMinor, BumpMajor} {
			t.Run(fmt.Sprintf("%s/%s", diff, bump), func(t *testing.T) {
				result := gate.Evaluate(bump, diff, false)
				assert.Equal(t, minimum, result.RequiredMinimum)
				assert.Equal(t, !bump.Less(minimum), result.Passed)
				if result.Passed {
					assert.Equal(t, MarkerNone, result.Remedy)
				} else {
					assert.Equal(t, minimum.Marker(), result.Remedy)
					assert.Contains(t, result.Reason, string(minimum.Marker()))
				}
			})
		}
	}
}

func TestGatePreStableBreakingPolicy(t *testing.T) {
	lenient := NewGate(GatePolicy{PreStableBreaking: BumpMinor})
	strict := NewGate(GatePolicy{PreStableBreaking: BumpMajor})

	assert.True(t, lenient.Evaluate(BumpMinor, APIDiffBreaking, true).Passed)
	assert.False(t, lenient.Evaluate(BumpPatch, APIDiffBreaking, true).Passed)
	assert.False(t, lenient.Evaluate(BumpMinor, APIDiffBreaking, false).Passed)
	assert.False(t, strict.Evaluate(BumpMinor, APIDiffBreaking, true).Passed)
	assert.True(t, strict.Evaluate(BumpMajor, APIDiffBreaking, true).Passed)
}

func TestDefaultGatePolicyRequiresMajorBeforeStable(t *testing.T) {
	gate := NewGate(DefaultGatePolicy())
	bootstrapped := VersionDecision{PreviousVersion: DefaultFloorVersion, Bump: BumpMinor}
	result := gate.Check(bootstrapped, APIDiffBreaking)
	assert.False(t, result.Passed)
	assert.True(t, result.PreStable)
	assert.Equal(t, BumpMajor, result.RequiredMinimum)
}

func TestGatePolicyNeverAllowsPatchForBreaking(t *testing.T) {
	gate := NewGate(GatePolicy{PreStableBreaking: BumpPatch})
	assert.Equal(t, BumpMinor, gate.RequiredMinimum(APIDiffBreaking, true))
}

func TestGateCheckDerivesPreStableFromPreviousVersion(t *testing.T) {
	gate := NewGate(GatePolicy{PreStableBreaking: BumpMinor})
	pre := VersionDecision{PreviousVersion: semver.MustParse("0.9.0"), Bump: BumpMinor}
	stable := VersionDecision{PreviousVersion: semver.MustParse("1.9.0"), Bump: BumpMinor}

	assert.True(t, gate.Check(pre, APIDiffBreaking).Passed)
	result := gate.Check(stable, APIDiffBreaking)
	assert.False(t, result.Passed)
	assert.Equal(t, MarkerMajor, result.Remedy)
}

func TestUnverifiableFailsClosed(t *testing.T) {
	result := Unverifiable(BumpMinor, "checker crashed")
	assert.False(t, result.Passed)
	assert.Contains(t, result.Reason, "checker crashed")
}

func TestParseAPIDiff(t *testing.T) {
	for input, want := range map[string]APIDiff{
		"no-change": APIDiffNoChange,
		"None":      APIDiffNoChange,
		"additive":  APIDiffAdditive,
		" MINOR ":   APIDiffAdditive,
		"breaking":  APIDiffBreaking,
		"major":     APIDiffBreaking,
	} {
		got, err := ParseAPIDiff(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
	_, err := ParseAPIDiff("sideways")
	assert.Error(t, err)
}

func TestWorstAPIDiff(t *testing.T) {
	assert.Equal(t, APIDiffBreaking, WorstAPIDiff(APIDiffAdditive, APIDiffBreaking))
	assert.Equal(t, APIDiffAdditive, WorstAPIDiff(APIDiffAdditive, APIDiffNoChange))
	assert.Equal(t, APIDiffNoChange, WorstAPIDiff("", APIDiffNoChange))
}
