package release

import "strings"

// Marker is one of the fixed tokens recognised in commit messages.
type Marker string

const (
	MarkerNone   Marker = ""
	MarkerMajor  Marker = "(MAJOR)"
	MarkerMinor  Marker = "(MINOR)"
	MarkerIgnore Marker = "(IGNORE)"
)

// Classification is what a single commit message contributes to a release.
type Classification struct {
	// Bump is the level the commit asks for. Commits without a bump marker
	// classify as PATCH.
	Bump Bump
	// Ignored commits are left out of the changelog. Ignoring does not lower
	// the bump: "(MAJOR) (IGNORE)" still forces a major release.
	Ignored bool
}

// Classify matches the fixed marker set against a commit message. MAJOR takes
// precedence over MINOR when both appear.
func Classify(message string) Classification {
	c := Classification{Bump: BumpPatch}
	switch {
	case strings.Contains(message, string(MarkerMajor)):
		c.Bump = BumpMajor
	case strings.Contains(message, string(MarkerMinor)):
		c.Bump = BumpMinor
	}
	c.Ignored = strings.Contains(message, string(MarkerIgnore))
	return c
}
