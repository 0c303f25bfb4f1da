package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/tollgate/internal/pipeline/runner"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	passStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	verdictBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Render formats the report for a terminal.
func (r Report) Render() string {
	var b strings.Builder
	title := fmt.Sprintf("Pipeline %s", r.PipelineID)
	if r.RunID != "" {
		title += mutedStyle.Render("  run " + r.RunID)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	if r.Event.Kind != "" {
		b.WriteString(detailStyle.Render(describeEvent(r)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, o := range r.Outcomes {
		b.WriteString(renderOutcome(o))
		b.WriteString("\n")
	}
	if len(r.Skipped) > 0 {
		ids := make([]string, 0, len(r.Skipped))
		for id := range r.Skipped {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			reason := r.Skipped[id]
			b.WriteString(mutedStyle.Render(fmt.Sprintf("  -  %s  skipped (%s)", id, reason.Reason)))
			b.WriteString("\n")
		}
	}

	if r.Release != nil {
		b.WriteString("\n")
		b.WriteString(r.renderRelease())
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\n")
		for _, w := range r.Warnings {
			b.WriteString(warnStyle.Render("warning: ") + w + "\n")
		}
	}
	if len(r.Failures) > 0 {
		b.WriteString("\n")
		for _, f := range r.Failures {
			b.WriteString(failStyle.Render("failure: ") + f + "\n")
		}
	}

	passed, failed, tolerated := r.Counts()
	summary := fmt.Sprintf("%s  %d passed, %d failed, %d tolerated", r.renderStatus(), passed, failed, tolerated)
	if d := r.Duration(); d > 0 {
		summary += mutedStyle.Render("  in " + d.Round(time.Millisecond).String())
	}
	b.WriteString("\n")
	b.WriteString(verdictBorder.BorderForeground(r.statusColor()).Render(summary))
	b.WriteString("\n")
	return b.String()
}

func (r Report) renderStatus() string {
	if r.Passed() {
		return passStyle.Render(string(StatusPass))
	}
	return failStyle.Render(string(StatusFail))
}

func (r Report) statusColor() lipgloss.Color {
	if r.Passed() {
		return lipgloss.Color("#4CAF50")
	}
	return lipgloss.Color("#FF6B6B")
}

func (r Report) renderRelease() string {
	rel := r.Release
	var b strings.Builder
	if rel.Error != "" {
		b.WriteString(titleStyle.Render("Release"))
		b.WriteString("  " + failStyle.Render("unavailable") + detailStyle.Render(": "+rel.Error) + "\n")
		return b.String()
	}
	from := rel.Decision.PreviousVersion.String()
	if rel.Decision.Bootstrapped {
		from += " (floor)"
	}
	b.WriteString(titleStyle.Render("Release"))
	b.WriteString(fmt.Sprintf("  %s -> %s  [%s]\n", from, rel.Decision.ComputedVersion, rel.Decision.Bump))
	gate := passStyle.Render("gate passed")
	if !rel.Gate.Passed {
		gate = failStyle.Render("gate blocked")
	}
	b.WriteString("  " + gate + detailStyle.Render(": "+rel.Gate.Reason) + "\n")
	if len(rel.Decision.Changelog) == 0 {
		b.WriteString(mutedStyle.Render("  no changelog entries") + "\n")
	}
	for _, line := range rel.Decision.Changelog {
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

func renderOutcome(o runner.Outcome) string {
	var label string
	switch {
	case o.Status == runner.StatusPassed:
		label = passStyle.Render("ok  ")
	case o.Tolerant:
		label = warnStyle.Render("warn")
	default:
		label = failStyle.Render("FAIL")
	}
	line := fmt.Sprintf("  %s %s", label, o.InstanceID)
	if d := o.Duration(); d > 0 {
		line += mutedStyle.Render("  " + d.Round(time.Millisecond).String())
	}
	if o.Failure != runner.FailureNone {
		line += detailStyle.Render("  " + string(o.Failure))
	}
	return line
}

func describeEvent(r Report) string {
	e := r.Event
	switch {
	case e.Schedule != "":
		return fmt.Sprintf("%s %q", e.Kind, e.Schedule)
	case e.BaseRef != "":
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Ref, e.BaseRef)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Ref)
	}
}
