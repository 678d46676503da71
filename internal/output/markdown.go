package output

import (
	"fmt"
	"strings"

	"github.com/catalogsync/catalogsync/internal/core"
)

// MarkdownFormatter renders reports as markdown tables.
type MarkdownFormatter struct{}

// FormatRun renders a run report as Markdown.
func (f *MarkdownFormatter) FormatRun(run *core.SyncRun) (string, error) {
	if run == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Sync run %s\n\n", escapeMarkdownCell(run.ID)))
	sb.WriteString(fmt.Sprintf("**Status**: %s (%s)\n\n", run.Status, duration(run)))
	sb.WriteString("| Scope | Status | Pages | Items | Notes |\n")
	sb.WriteString("|-------|--------|-------|-------|-------|\n")

	for _, report := range sortedScopes(run) {
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %s |\n",
			escapeMarkdownCell(report.Scope),
			escapeMarkdownCell(string(report.Status)),
			report.PagesProcessed,
			report.ItemsCollected,
			escapeMarkdownCell(scopeNotes(report)),
		))
	}

	sb.WriteString(fmt.Sprintf("\n**Totals**: %s\n", summaryLine(run)))
	if len(run.Errors) > 0 {
		sb.WriteString("\n### Errors\n\n")
		for _, msg := range run.Errors {
			sb.WriteString("- " + msg + "\n")
		}
	}
	return sb.String(), nil
}

// FormatRuns renders run history as a Markdown table.
func (f *MarkdownFormatter) FormatRuns(runs []*core.SyncRun) (string, error) {
	var sb strings.Builder
	sb.WriteString("| ID | Status | Started | Duration | Merged |\n")
	sb.WriteString("|----|--------|---------|----------|--------|\n")
	for _, run := range runs {
		if run == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d |\n",
			escapeMarkdownCell(run.ID),
			run.Status,
			timestamp(run.StartedAt),
			duration(run),
			run.ItemsMerged,
		))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
