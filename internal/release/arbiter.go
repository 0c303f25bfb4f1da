package release

import (
	"strings"
	"time"

	"github.com/blang/semver/v4"
)

// DefaultFloorVersion is used as the previous version when no release tag
// exists yet.
var DefaultFloorVersion = semver.Version{Major: 0, Minor: 1, Patch: 0}

// DefaultBullet prefixes every changelog line.
const DefaultBullet = "* "

// CommitRecord is one commit between the previous release tag (exclusive) and
// the current ref (inclusive).
type CommitRecord struct {
	SHA       string    `json:"sha"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Subject returns the first non-empty line of the commit message.
func (c CommitRecord) Subject() string {
	for _, line := range strings.Split(c.Message, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Policy holds the arbiter's configurable constants.
type Policy struct {
	// Floor stands in for the previous version when the repository has never
	// been released.
	Floor semver.Version
	// Bullet prefixes each changelog line.
	Bullet string
}

// DefaultPolicy returns the floor and bullet used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{Floor: DefaultFloorVersion, Bullet: DefaultBullet}
}

// VersionDecision is the arbiter's verdict for one commit range.
type VersionDecision struct {
	PreviousVersion semver.Version `json:"previous_version"`
	// Bootstrapped is true when PreviousVersion is the policy floor rather
	// than a real tag.
	Bootstrapped    bool           `json:"bootstrapped,omitempty"`
	Bump            Bump           `json:"bump_level"`
	ComputedVersion semver.Version `json:"computed_version"`
	Changelog       []string       `json:"changelog"`
	Commits         int            `json:"commits"`
}

// Arbiter computes version decisions. It carries no state between calls.
type Arbiter struct {
	policy Policy
}

// NewArbiter builds an arbiter, filling unset policy fields with defaults.
func NewArbiter(policy Policy) *Arbiter {
	if policy.Floor.Equals(semver.Version{}) {
		policy.Floor = DefaultFloorVersion
	}
	if policy.Bullet == "" {
		policy.Bullet = DefaultBullet
	}
	return &Arbiter{policy: policy}
}

// Policy returns the effective policy.
func (a *Arbiter) Policy() Policy {
	return a.policy
}

// Decide folds commits (oldest first) into a decision. A nil previous version
// means no release tag exists and the policy floor is used instead; the bump is
// then applied to the floor, so "initial (MAJOR)" over a 0.1.0 floor yields
// 1.0.0. Decide never fails.
func (a *Arbiter) Decide(previous *semver.Version, commits []CommitRecord) VersionDecision {
	decision := VersionDecision{Bump: BumpPatch, Changelog: []string{}, Commits: len(commits)}
	if previous == nil {
		decision.PreviousVersion = cloneVersion(a.policy.Floor)
		decision.Bootstrapped = true
	} else {
		decision.PreviousVersion = cloneVersion(*previous)
	}
	messages := make([]string, len(commits))
	for i, commit := range commits {
		messages[i] = commit.Message
		if Classify(commit.Message).Ignored {
			continue
		}
		decision.Changelog = append(decision.Changelog, a.policy.Bullet+commit.Subject())
	}
	decision.Bump = Fold(messages)
	decision.ComputedVersion = Advance(decision.PreviousVersion, decision.Bump)
	return decision
}

// Fold joins the per-message classifications; PATCH for no messages.
func Fold(messages []string) Bump {
	bump := BumpPatch
	for _, msg := range messages {
		bump = bump.Join(Classify(msg).Bump)
	}
	return bump
}

// Advance returns v incremented at the given level. Pre-release and build
// metadata are dropped: the result is always a plain release version.
func Advance(v semver.Version, bump Bump) semver.Version {
	switch bump {
	case BumpMajor:
		return semver.Version{Major: v.Major + 1}
	case BumpMinor:
		return semver.Version{Major: v.Major, Minor: v.Minor + 1}
	default:
		return semver.Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	}
}

// ParseTag parses a release tag such as "v1.2.3". The prefix is stripped when
// present; a bare "1.2.3" is accepted as well.
func ParseTag(tag, prefix string) (semver.Version, error) {
	trimmed := strings.TrimSpace(tag)
	if prefix != "" {
		trimmed = strings.TrimPrefix(trimmed, prefix)
	}
	return semver.ParseTolerant(trimmed)
}

// FormatTag renders a version as a tag with the given prefix.
func FormatTag(v semver.Version, prefix string) string {
	return prefix + v.String()
}

func cloneVersion(v semver.Version) semver.Version {
	out := semver.Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
	if len(v.Pre) > 0 {
		out.Pre = append([]semver.PRVersion(nil), v.Pre...)
	}
	if len(v.Build) > 0 {
		out.Build = append([]string(nil), v.Build...)
	}
	return out
}
