package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/catalogsync/catalogsync/internal/output"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted sync runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sync runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}
		if limit < 1 {
			return fmt.Errorf("--limit must be at least 1")
		}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		runs, err := db.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatRuns(runs)
		if err != nil {
			return err
		}
		_, err = writeReport(cmd, format, "runs", rendered)
		return err
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)

	runsListCmd.Flags().Int("limit", 20, "Maximum runs to list")
	addOutputFlags(runsListCmd)
}
