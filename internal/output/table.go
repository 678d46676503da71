package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/catalogsync/catalogsync/internal/core"
)

// TableFormatter renders reports as ASCII tables.
type TableFormatter struct{}

// FormatRun renders one row per scope and a totals footer.
func (f *TableFormatter) FormatRun(run *core.SyncRun) (string, error) {
	if run == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("Run %s: %s (%s)", run.ID, run.Status, duration(run)))
	t.AppendHeader(table.Row{"Scope", "Status", "Pages", "Items", "Notes"})

	for _, report := range sortedScopes(run) {
		t.AppendRow(table.Row{
			report.Scope,
			string(report.Status),
			report.PagesProcessed,
			report.ItemsCollected,
			scopeNotes(report),
		})
	}

	t.AppendFooter(table.Row{"", "", "", "", summaryLine(run)})

	rendered := t.Render()
	if len(run.Errors) > 0 {
		rendered += "\n\nErrors:\n  - " + strings.Join(run.Errors, "\n  - ")
	}
	return rendered, nil
}

// FormatRuns renders run history, newest first as given.
func (f *TableFormatter) FormatRuns(runs []*core.SyncRun) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Status", "Started", "Duration", "Scopes", "Merged", "Created", "Updated"})

	for _, run := range runs {
		if run == nil {
			continue
		}
		t.AppendRow(table.Row{
			run.ID,
			string(run.Status),
			timestamp(run.StartedAt),
			duration(run),
			strings.Join(run.ScopesRequested, ","),
			run.ItemsMerged,
			run.Created,
			run.Updated,
		})
	}
	if len(runs) == 0 {
		t.AppendFooter(table.Row{"no runs recorded"})
	}

	return t.Render(), nil
}
