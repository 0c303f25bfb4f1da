package release

import (
	"fmt"
	"strings"
)

// Bump is the granularity of a version increment. The zero value is
// BumpPatch, so an empty fold starts at the bottom of the order.
type Bump int

const (
	BumpPatch Bump = iota
	BumpMinor
	BumpMajor
)

// String renders the bump the way it appears in markers and reports.
func (b Bump) String() string {
	switch b {
	case BumpPatch:
		return "PATCH"
	case BumpMinor:
		return "MINOR"
	case BumpMajor:
		return "MAJOR"
	default:
		return fmt.Sprintf("Bump(%d)", int(b))
	}
}

// Less reports whether b is strictly below other under PATCH < MINOR < MAJOR.
func (b Bump) Less(other Bump) bool {
	return b < other
}

// Join returns the least upper bound of b and other. MAJOR absorbs everything.
func (b Bump) Join(other Bump) Bump {
	if b.Less(other) {
		return other
	}
	return b
}

// Marker returns the commit message marker that raises a fold to b. PATCH has
// no marker because it is the default.
func (b Bump) Marker() Marker {
	switch b {
	case BumpMajor:
		return MarkerMajor
	case BumpMinor:
		return MarkerMinor
	default:
		return MarkerNone
	}
}

// MarshalText implements encoding.TextMarshaler.
func (b Bump) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bump) UnmarshalText(text []byte) error {
	parsed, err := ParseBump(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBump accepts PATCH, MINOR or MAJOR in any case.
func ParseBump(value string) (Bump, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "PATCH":
		return BumpPatch, nil
	case "MINOR":
		return BumpMinor, nil
	case "MAJOR":
		return BumpMajor, nil
	default:
		return BumpPatch, fmt.Errorf("release: unknown bump level %q", value)
	}
}
