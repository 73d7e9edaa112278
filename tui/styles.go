package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/lukemcguire/primal/result"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	successStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	categoryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	dimStyle      = lipgloss.NewStyle().Faint(true)
	cellStyle     = lipgloss.NewStyle()
	messageStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// summaryOrder lists failure groups in display order. The empty category
// collects failures without a verdict, such as runs cut short by
// cancellation.
var summaryOrder = append(slices.Clone(result.Categories), "")

// RenderSummary produces a Lip Gloss styled summary of a suite report.
func RenderSummary(rep *result.Report) string {
	if rep == nil {
		return errorStyle.Render("No results available.")
	}

	var b strings.Builder
	stats := rep.Stats

	if !rep.Failed() {
		b.WriteString(successStyle.Render("All runs passed!"))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(statsLine(stats)))
		b.WriteString("\n")
		return b.String()
	}

	groups := rep.Failures()
	for _, cat := range summaryOrder {
		records := groups[cat]
		if len(records) == 0 {
			continue
		}

		b.WriteString(categoryStyle.Render(fmt.Sprintf("## %s (%d)", result.FormatCategory(cat), len(records))))
		b.WriteString("\n")

		rows := make([][]string, 0, len(records))
		for _, rec := range records {
			rows = append(rows, []string{rec.Site, rec.Mode, rec.URL, headline(rec)})
		}
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			Headers("Site", "Mode", "URL", "Reason").
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				if col == 3 {
					return messageStyle
				}
				return cellStyle
			}).
			Rows(rows...)

		b.WriteString(t.Render())
		b.WriteString("\n\n")
	}

	b.WriteString(titleStyle.Render(statsLine(stats)))
	b.WriteString("\n")
	return b.String()
}

// headline is the first line of a record's message, with the navigation
// reason when there is one.
func headline(rec result.Record) string {
	msg, _, _ := strings.Cut(rec.Message, "\n")
	if rec.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, rec.Reason)
	}
	if rec.Screenshot != "" {
		msg += "\n" + rec.Screenshot
	}
	return msg
}

func statsLine(s result.Stats) string {
	return fmt.Sprintf("Ran %d, passed %d, failed %d, skipped %d in %s",
		s.Total, s.Passed, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond))
}
