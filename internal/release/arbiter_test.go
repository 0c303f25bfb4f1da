package release

import (
	"testing"
	"time"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commits(messages ...string) []CommitRecord {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := make([]CommitRecord, len(messages))
	for i, msg := range messages {
		out[i] = CommitRecord{SHA: string(rune('a' + i)), Message: msg, Timestamp: base.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func mustVersion(t *testing.T, v string) *semver.Version {
	t.Helper()
	parsed, err := semver.Parse(v)
	require.NoError(t, err)
	return &parsed
}

func TestDecideScenarioMinorSinceTag(t *testing.T) {
	arb := NewArbiter(DefaultPolicy())
	prev, err := ParseTag("v1.2.3", "v")
	require.NoError(t, err)

	decision := arb.Decide(&prev, commits("fix bug (IGNORE)", "add feature (MINOR)", "refactor"))

	assert.Equal(t, BumpMinor, decision.Bump)
	assert.Equal(t, "1.3.0", decision.ComputedVersion.String())
	assert.Equal(t, []string{"* add feature (MINOR)", "* refactor"}, decision.Changelog)
	assert.False(t, decision.Bootstrapped)
	assert.Equal(t, 3, decision.Commits)
}

func TestDecideBootstrapAppliesBumpToFloor(t *testing.T) {
	arb := NewArbiter(Policy{Floor: semver.MustParse("0.1.0")})

	decision := arb.Decide(nil, commits("initial (MAJOR)"))

	assert.True(t, decision.Bootstrapped)
	assert.Equal(t, "0.1.0", decision.PreviousVersion.String())
	assert.Equal(t, BumpMajor, decision.Bump)
	assert.Equal(t, "1.0.0", decision.ComputedVersion.String())
	assert.Equal(t, []string{"* initial (MAJOR)"}, decision.Changelog)
}

func TestDecideEmptyRange(t *testing.T) {
	arb := NewArbiter(DefaultPolicy())
	decision := arb.Decide(mustVersion(t, "2.0.9"), nil)

	assert.Equal(t, BumpPatch, decision.Bump)
	assert.Equal(t, "2.0.10", decision.ComputedVersion.String())
	assert.Empty(t, decision.Changelog)
	assert.NotNil(t, decision.Changelog)
}

func TestBumpLevelProperties(t *testing.T) {
	cases := []struct {
		name     string
		messages []string
		want     Bump
	}{
		{"no markers", []string{"a", "b", "c"}, BumpPatch},
		{"minor only", []string{"a", "b (MINOR)", "c"}, BumpMinor},
		{"minor twice", []string{"(MINOR) a", "b (MINOR)"}, BumpMinor},
		{"major first", []string{"x (MAJOR)", "y (MINOR)", "z"}, BumpMajor},
		{"major last", []string{"y (MINOR)", "z", "x (MAJOR)"}, BumpMajor},
		{"major and minor same commit", []string{"x (MINOR) (MAJOR)"}, BumpMajor},
		{"major ignored still counts", []string{"x (MAJOR) (IGNORE)"}, BumpMajor},
		{"lowercase is not a marker", []string{"x (major)", "y (minor)"}, BumpPatch},
		{"empty", nil, BumpPatch},
	}
	arb := NewArbiter(DefaultPolicy())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Fold(tc.messages))
			decision := arb.Decide(mustVersion(t, "1.0.0"), commits(tc.messages...))
			assert.Equal(t, tc.want, decision.Bump)
		})
	}
}

func TestFoldIsOrderIndependent(t *testing.T) {
	messages := []string{"a", "b (MINOR)", "c (IGNORE)", "d (MAJOR)", "e"}
	want := Fold(messages)
	// every rotation must agree
	for shift := range messages {
		rotated := append(append([]string{}, messages[shift:]...), messages[:shift]...)
		assert.Equal(t, want, Fold(rotated), "rotation %d", shift)
	}
}

func TestChangelogExcludesIgnoredAndKeepsOrder(t *testing.T) {
	arb := NewArbiter(DefaultPolicy())
	decision := arb.Decide(mustVersion(t, "0.4.0"), commits(
		"one",
		"two (IGNORE)",
		"three (MAJOR)",
		"four (MINOR) (IGNORE)",
		"five",
	))
	assert.Equal(t, []string{"* one", "* three (MAJOR)", "* five"}, decision.Changelog)
	assert.Equal(t, "1.0.0", decision.ComputedVersion.String())
}

func TestChangelogUsesSubjectLine(t *testing.T) {
	arb := NewArbiter(DefaultPolicy())
	decision := arb.Decide(mustVersion(t, "1.0.0"), commits("\nsubject line\n\nbody mentions (MINOR)"))
	assert.Equal(t, []string{"* subject line"}, decision.Changelog)
	assert.Equal(t, BumpMinor, decision.Bump)
}

func TestDecideIsDeterministic(t *testing.T) {
	arb := NewArbiter(DefaultPolicy())
	history := commits("a (MINOR)", "b (IGNORE)", "c")
	first := arb.Decide(mustVersion(t, "3.1.4"), history)
	for i := 0; i < 5; i++ {
		again := NewArbiter(DefaultPolicy()).Decide(mustVersion(t, "3.1.4"), history)
		assert.Equal(t, first, again)
	}
}

func TestAdvance(t *testing.T) {
	v := semver.MustParse("1.2.3-rc.1+build.5")
	assert.Equal(t, "2.0.0", Advance(v, BumpMajor).String())
	assert.Equal(t, "1.3.0", Advance(v, BumpMinor).String())
	assert.Equal(t, "1.2.4", Advance(v, BumpPatch).String())
}

func TestParseTag(t *testing.T) {
	v, err := ParseTag("v1.2.3", "v")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v.String())

	v, err = ParseTag("1.2", "v")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", v.String())

	_, err = ParseTag("release-candidate", "v")
	assert.Error(t, err)
	assert.Equal(t, "v1.2.0", FormatTag(v, "v"))
}

func TestBumpJoinAndParse(t *testing.T) {
	levels := []Bump{BumpPatch, BumpMinor, BumpMajor}
	for _, a := range levels {
		for _, b := range levels {
			joined := a.Join(b)
			assert.False(t, joined.Less(a))
			assert.False(t, joined.Less(b))
			assert.True(t, joined == a || joined == b)
		}
	}
	parsed, err := ParseBump(" minor ")
	require.NoError(t, err)
	assert.Equal(t, BumpMinor, parsed)
	_, err = ParseBump("huge")
	assert.Error(t, err)
}
