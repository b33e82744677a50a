package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-rollover/pkg/rollover"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF"))

	stepStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF"))

	actionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	cellStyle = lipgloss.NewStyle().
			PaddingRight(2)
)

// renderPlan styles the plan tree: the title, one highlighted line per
// step and dimmed actions under it
func renderPlan(plan *rollover.Plan) string {
	lines := strings.Split(strings.TrimRight(plan.PrettyPrint(), "\n"), "\n")
	var s strings.Builder
	for i, line := range lines {
		switch {
		case i == 0:
			s.WriteString(titleStyle.Render(line))
		case strings.HasPrefix(line, "├──") || strings.HasPrefix(line, "└──"):
			s.WriteString(stepStyle.Render(line))
		default:
			s.WriteString(actionStyle.Render(line))
		}
		s.WriteString("\n")
	}
	return boxStyle.Render(strings.TrimRight(s.String(), "\n"))
}

// renderReport summarizes a finished run
func renderReport(r *runResult) string {
	var s strings.Builder
	if r.Err == nil {
		s.WriteString(successStyle.Render(fmt.Sprintf("✅ Migration %s completed: %s to %s in %s",
			r.RunID, r.From, r.To, r.Elapsed.Round(time.Second))))
	} else {
		s.WriteString(errorStyle.Render(fmt.Sprintf("❌ Migration %s aborted after %s",
			r.RunID, r.Elapsed.Round(time.Second))))
		s.WriteString("\n")
		s.WriteString(errorStyle.Render(r.Err.Error()))
	}
	s.WriteString("\n\n")
	s.WriteString(memberTable(r.Members))

	steps, probes := 0, 0
	for _, e := range r.Events {
		switch e.Phase {
		case rollover.PhaseJoined:
			steps++
		case rollover.PhaseProbeVerify:
			probes++
		}
	}
	s.WriteString(fmt.Sprintf("\n%d members replaced, %d probe verifications, %d events\n", steps, probes, len(r.Events)))
	return boxStyle.Render(strings.TrimRight(s.String(), "\n"))
}

// memberTable lays members out in aligned columns
func memberTable(members []*rollover.Member) string {
	rows := [][]string{{"MEMBER", "VERSION", "STATE", "STORAGE"}}
	for _, m := range members {
		rows = append(rows, []string{fmt.Sprintf("%d", m.ID), m.Version.String(), string(m.State), m.StoragePath})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var s strings.Builder
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := cellStyle.Width(widths[i] + 2)
			if r == 0 {
				style = style.Bold(true)
			}
			cells[i] = style.Render(cell)
		}
		s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		s.WriteString("\n")
	}
	return s.String()
}
