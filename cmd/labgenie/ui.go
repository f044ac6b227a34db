package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"labgenie/internal/jsonrepair"
	"labgenie/internal/pipeline"
	"labgenie/internal/stage"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("213")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2)
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

func renderBanner() string {
	return bannerStyle.Render("LabGenie :: write-up in, runnable lab out")
}

func renderSummary(run *pipeline.Run, showExcerpt bool) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("\nrun %s  %s\n", run.ID, run.Duration().Round(time.Millisecond)))

	for _, res := range run.Results {
		b.WriteString(renderStageLine(res))
		b.WriteByte('\n')
	}

	switch run.Status {
	case pipeline.StatusCompleted:
		b.WriteString(okStyle.Render("completed: " + run.BundlePath))
	default:
		b.WriteString(errStyle.Render(fmt.Sprintf("failed at %s: %v", run.FailedStage, run.Err)))
		if showExcerpt {
			if raw := lastRawAttempt(run); raw != "" {
				b.WriteByte('\n')
				b.WriteString(dimStyle.Render("last raw response:\n" + jsonrepair.Excerpt(raw)))
			}
		}
	}
	return b.String()
}

func renderStageLine(res stage.Result) string {
	mark, style := "ok ", okStyle
	switch res.Status {
	case stage.StatusPartial:
		mark, style = "~  ", warnStyle
	case stage.StatusError:
		mark, style = "x  ", errStyle
	}
	line := fmt.Sprintf("  %s%-18s %d attempt(s) in %s",
		mark, res.Stage, len(res.Attempts), res.Duration.Round(time.Millisecond))
	if len(res.Missing) > 0 {
		line += "  missing: " + strings.Join(res.Missing, ", ")
	}
	return style.Render(line)
}

// lastRawAttempt digs out the raw text of the last attempt that produced
// any, for the --debug failure report.
func lastRawAttempt(run *pipeline.Run) string {
	for i := len(run.Results) - 1; i >= 0; i-- {
		attempts := run.Results[i].Attempts
		for j := len(attempts) - 1; j >= 0; j-- {
			if attempts[j].Raw != "" {
				return attempts[j].Raw
			}
		}
	}
	return ""
}
