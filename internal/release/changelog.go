package release

import (
	"fmt"
	"strings"
	"time"
)

// RenderChangelog joins the decision's changelog lines with newlines.
func RenderChangelog(decision VersionDecision) string {
	if len(decision.Changelog) == 0 {
		return ""
	}
	return strings.Join(decision.Changelog, "\n") + "\n"
}

// RenderNotes produces markdown release notes for the computed version.
func RenderNotes(decision VersionDecision, tagPrefix string, date time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s", FormatTag(decision.ComputedVersion, tagPrefix))
	if !date.IsZero() {
		fmt.Fprintf(&b, " (%s)", date.UTC().Format("2006-01-02"))
	}
	b.WriteString("\n\n")
	if decision.Bootstrapped {
		fmt.Fprintf(&b, "First release (from floor %s, %s bump).\n\n", decision.PreviousVersion, decision.Bump)
	} else {
		fmt.Fprintf(&b, "%s release since %s.\n\n", titleCase(decision.Bump.String()), FormatTag(decision.PreviousVersion, tagPrefix))
	}
	if len(decision.Changelog) == 0 {
		b.WriteString("No user-facing changes.\n")
		return b.String()
	}
	b.WriteString(RenderChangelog(decision))
	return b.String()
}

func titleCase(value string) string {
	if value == "" {
		return value
	}
	lower := strings.ToLower(value)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
