package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/catalogsync/catalogsync/internal/output"
)

func outputExtension(format output.Format) string {
	switch format {
	case output.FormatJSON:
		return "json"
	case output.FormatYAML:
		return "yaml"
	case output.FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

var nonFilename = regexp.MustCompile(`[^a-z0-9._-]+`)

func sanitizeFilename(value string) string {
	clean := strings.ToLower(strings.TrimSpace(value))
	clean = nonFilename.ReplaceAllString(clean, "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "output"
	}
	return clean
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "o", string(output.FormatTable), "Output format: table|json|yaml|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory")
}

// writeReport writes rendered to stdout, --out, or <out-dir>/<name>.<ext>
// and returns the path written ("-" for stdout).
func writeReport(cmd *cobra.Command, format output.Format, name string, rendered string) (string, error) {
	target, err := reportTarget(cmd, format, name)
	if err != nil {
		return "", err
	}

	var (
		w     = cmd.OutOrStdout()
		closeFn = func() error { return nil }
	)
	if target != "-" {
		// #nosec G301 -- report directories use 0755 like the data directory
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
		file, err := os.Create(target)
		if err != nil {
			return "", err
		}
		w, closeFn = file, file.Close
	}

	if _, err := fmt.Fprintln(w, strings.TrimRight(rendered, "\n")); err != nil {
		_ = closeFn()
		return "", err
	}
	return target, closeFn()
}

func reportTarget(cmd *cobra.Command, format output.Format, name string) (string, error) {
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return "", err
	}
	outDir, err := cmd.Flags().GetString("out-dir")
	if err != nil {
		return "", err
	}
	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)

	switch {
	case outPath != "" && outDir != "":
		return "", fmt.Errorf("--out and --out-dir are mutually exclusive")
	case outDir != "":
		if abs, err := filepath.Abs(outDir); err == nil {
			outDir = abs
		}
		return filepath.Join(outDir, fmt.Sprintf("%s.%s", sanitizeFilename(name), outputExtension(format))), nil
	case outPath == "":
		return "-", nil
	default:
		return outPath, nil
	}
}
