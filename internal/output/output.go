package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/catalogsync/catalogsync/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders sync run reports.
type Formatter interface {
	FormatRun(run *core.SyncRun) (string, error)
	FormatRuns(runs []*core.SyncRun) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// sortedScopes returns the run's scope reports in requested order, followed
// by any scope that was reported but not requested.
func sortedScopes(run *core.SyncRun) []*core.ScopeReport {
	if run == nil {
		return nil
	}

	seen := make(map[string]bool, len(run.Scopes))
	reports := make([]*core.ScopeReport, 0, len(run.Scopes))
	for _, name := range run.ScopesRequested {
		if report, ok := run.Scopes[name]; ok && report != nil && !seen[name] {
			seen[name] = true
			reports = append(reports, report)
		}
	}

	var rest []string
	for name, report := range run.Scopes {
		if !seen[name] && report != nil {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		reports = append(reports, run.Scopes[name])
	}
	return reports
}

func duration(run *core.SyncRun) string {
	if run == nil || run.CompletedAt == nil || run.StartedAt.IsZero() {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func scopeNotes(report *core.ScopeReport) string {
	if report == nil {
		return ""
	}
	notes := make([]string, 0, len(report.Errors)+1)
	if report.MoreAvailable {
		notes = append(notes, "more pages available")
	}
	for _, scopeErr := range report.Errors {
		msg := scopeErr.Code
		if scopeErr.Message != "" {
			msg += ": " + scopeErr.Message
		}
		if scopeErr.Page > 0 {
			msg = fmt.Sprintf("page %d %s", scopeErr.Page, msg)
		}
		notes = append(notes, msg)
	}
	return strings.Join(notes, "; ")
}

func summaryLine(run *core.SyncRun) string {
	return fmt.Sprintf("%d collected, %d merged (%d duplicates), %d created, %d updated",
		run.ItemsCollected, run.ItemsMerged, run.DuplicatesRemoved, run.Created, run.Updated)
}
