// Package cli renders pipeline and resource state for the operator
// subcommands.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/service"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

func cell(s string, width int) string {
	return lipgloss.NewStyle().Width(width).Render(s)
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case string(domain.PipelineStatusSucceeded), string(domain.HealthHealthy):
		return okStyle
	case string(domain.PipelineStatusFailed), string(domain.HealthBlacklisted):
		return errorStyle
	case string(domain.JobStatusRetryableFailure), string(domain.HealthDegraded):
		return warnStyle
	default:
		return mutedStyle
	}
}

// RenderPipeline draws one pipeline with its jobs in stage order.
func RenderPipeline(view *service.PipelineView) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Pipeline %s", view.ID)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s  %s %s\n",
		mutedStyle.Render("kind:"), string(view.Kind),
		mutedStyle.Render("status:"), statusStyle(string(view.Status)).Render(string(view.Status)))
	if view.Reason != "" {
		fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("reason:"), errorStyle.Render(view.Reason))
	}
	if view.ResultRef != "" {
		fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("result:"), view.ResultRef)
	}
	if view.Status == domain.PipelineStatusInProgress {
		fmt.Fprintf(&b, "%s %d%%\n", mutedStyle.Render("progress:"), view.Progress)
	}
	fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("updated:"), view.UpdatedAt.UTC().Format(time.RFC3339))

	rows := []string{headerStyle.Render(cell("STAGE", 7) + cell("KIND", 20) + "STATUS")}
	for _, j := range view.Jobs {
		status := statusStyle(string(j.Status)).Render(string(j.Status))
		if j.Status == domain.JobStatusRunning {
			status += mutedStyle.Render(fmt.Sprintf(" %d%%", j.Progress))
		}
		rows = append(rows, cell(fmt.Sprintf("%d", j.Stage), 7)+cell(string(j.Kind), 20)+status)
	}
	if len(view.Jobs) == 0 {
		rows = append(rows, mutedStyle.Render("no jobs yet"))
	}
	b.WriteString(panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	b.WriteString("\n")
	return b.String()
}

// RenderResources draws the resource health table.
func RenderResources(resources []domain.Resource, now time.Time) string {
	if len(resources) == 0 {
		return mutedStyle.Render("no resources registered") + "\n"
	}

	rows := []string{headerStyle.Render(
		cell("RESOURCE", 12) + cell("CLASS", 8) + cell("HEALTH", 13) + cell("SLOTS", 8) + cell("MEMORY MB", 14) + "NOTE")}
	for _, r := range resources {
		note := ""
		switch {
		case r.Health == domain.HealthBlacklisted && now.Before(r.BlacklistUntil):
			note = fmt.Sprintf("blacklisted for %s", r.BlacklistUntil.Sub(now).Round(time.Second))
		case r.Health == domain.HealthBlacklisted:
			note = "awaiting probe"
		case r.ConsecutiveFailures > 0:
			note = fmt.Sprintf("%d consecutive failures", r.ConsecutiveFailures)
		}
		rows = append(rows,
			cell(r.ID, 12)+
				cell(string(r.Class), 8)+
				statusStyle(string(r.Health)).Width(13).Render(string(r.Health))+
				cell(fmt.Sprintf("%d/%d", r.InFlight, r.Slots), 8)+
				cell(fmt.Sprintf("%d/%d", r.AvailableMemoryMB, r.TotalMemoryMB), 14)+
				mutedStyle.Render(note))
	}
	return titleStyle.Render("Resources") + "\n" + panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)) + "\n"
}
