package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catalogsync/catalogsync/internal/core"
	"github.com/catalogsync/catalogsync/internal/observability"
	"github.com/catalogsync/catalogsync/internal/output"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one catalog synchronization",
	Long: `Fetch every configured account scope, merge items by SKU in scope
priority order and upsert the result into the store.

Examples:
  # Sync all configured scopes
  catalogsync sync

  # Sync two scopes, main wins on duplicate SKUs
  catalogsync sync --scope main --scope outlet

  # Cap pagination and emit the report as JSON
  catalogsync sync --max-pages 5 --format json`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringSlice("scope", nil, "Scopes to sync in priority order (default: sync.scopes)")
	syncCmd.Flags().Int("max-pages", 0, "Maximum pages per scope (default: sync.max_pages)")
	syncCmd.Flags().Bool("sequential", false, "Sync scopes one after another")
	addOutputFlags(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}

	overrides, err := syncOverrides(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.InitTracing(ctx, tracingOptions(cfg))
	if err != nil {
		observability.CLILogger.Warn("Tracing disabled", zap.Error(err))
	} else {
		defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()
	}

	app, err := newSyncApp(ctx, cfg, observability.SyncLogger(cfg.Logging.Profile))
	if err != nil {
		return err
	}
	defer app.Close() // nolint:errcheck // best-effort cleanup

	result, err := app.runner.RunOnce(ctx)
	if err != nil {
		return err
	}
	run := result.Run

	rendered, err := output.NewFormatter(format).FormatRun(run)
	if err != nil {
		return err
	}
	path, err := writeReport(cmd, format, "sync-"+run.ID, rendered)
	if err != nil {
		return err
	}
	if path != "-" {
		observability.CLILogger.Info("Report written", zap.String("path", path))
	}

	observability.CLILogger.Debug("Sync finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("items_merged", run.ItemsMerged))

	if run.Status != core.RunCompleted {
		return fmt.Errorf("%w: run %s %s", ErrRunFailed, run.ID, run.Status)
	}
	return nil
}

// syncOverrides turns command flags into config runtime overrides.
func syncOverrides(cmd *cobra.Command) (map[string]any, error) {
	syncOverrides := map[string]any{}

	if cmd.Flags().Changed("max-pages") {
		maxPages, err := cmd.Flags().GetInt("max-pages")
		if err != nil {
			return nil, err
		}
		syncOverrides["max_pages"] = maxPages
	}
	if cmd.Flags().Changed("sequential") {
		sequential, err := cmd.Flags().GetBool("sequential")
		if err != nil {
			return nil, err
		}
		syncOverrides["sequential"] = sequential
	}
	if cmd.Flags().Changed("scope") {
		scopes, err := cmd.Flags().GetStringSlice("scope")
		if err != nil {
			return nil, err
		}
		normalized := make([]string, 0, len(scopes))
		for _, scope := range scopes {
			if trimmed := strings.ToLower(strings.TrimSpace(scope)); trimmed != "" {
				normalized = append(normalized, trimmed)
			}
		}
		syncOverrides["scopes"] = normalized
	}

	if len(syncOverrides) == 0 {
		return nil, nil
	}
	return map[string]any{"sync": syncOverrides}, nil
}
