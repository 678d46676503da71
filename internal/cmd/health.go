package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/catalogsync/catalogsync/internal/errors"
	"github.com/catalogsync/catalogsync/internal/observability"
	"github.com/catalogsync/catalogsync/internal/server/handlers"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Verify the configuration loads, every configured scope resolves to
credentials and the store answers.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewInternalError("Version information missing"))
			return
		}
		logger.Info("✅ Version information available", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			ExitWithCode(logger, ExitCodeFor(err), "Configuration invalid", errwrap.FromError(cmd.Context(), err))
			return
		}
		logger.Info("✅ Configuration loaded")

		for _, scope := range cfg.Sync.Scopes {
			if _, err := cfg.Credentials(scope); err != nil {
				ExitWithCode(logger, foundry.ExitConfigInvalid, "Scope credentials invalid", errwrap.FromError(cmd.Context(), err))
				return
			}
			logger.Info("✅ Scope configured", zap.String("scope", scope))
		}
		if len(cfg.Sync.Scopes) == 0 {
			logger.Warn("No scopes configured; sync will refuse to run")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		db, err := openStore(ctx, cfg)
		if err != nil {
			ExitWithCode(logger, foundry.ExitFileNotFound, "Store unavailable", errwrap.WrapDatabaseError(ctx, err, "store unavailable"))
			return
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		hm := handlers.NewHealthManager(versionInfo.Version)
		hm.RegisterCritical("store", handlers.StoreChecker{Store: db})
		status, checks := hm.Check(ctx)
		for name, result := range checks {
			logger.Debug("Check result", zap.String("check", name), zap.String("status", result))
		}
		if status == handlers.StatusUnhealthy {
			ExitWithCode(logger, foundry.ExitFileNotFound, "Store did not answer", errwrap.NewServiceUnavailableError("store ping failed"))
			return
		}
		logger.Info("✅ Store reachable", zap.String("driver", db.Driver()))

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
