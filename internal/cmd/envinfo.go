package cmd

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catalogsync/catalogsync/internal/config"
	"github.com/catalogsync/catalogsync/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, and version information. Credentials are never printed.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		version := crucible.GetVersion()

		logger.Info("=== catalogsync Environment Information ===")
		logger.Info("")

		logger.Info("Application:")
		logger.Info("  Version:    " + versionInfo.Version)
		logger.Info("  Commit:     " + versionInfo.Commit)
		logger.Info("  Built:      " + versionInfo.BuildDate)
		logger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		logger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		logger.Info("")

		logger.Info("Runtime:")
		logger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		logger.Info("  Platform:   " + runtime.GOOS + "/" + runtime.GOARCH)
		logger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		logger.Info("")

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			logger.Warn("Config load failed", zap.Error(err))
			return
		}

		logger.Info("Configuration:")
		logger.Info("  Config File:    "+displayValue(config.ConfigFileUsed(config.LoadOptions{ConfigFile: cfgFile})))
		logger.Info(fmt.Sprintf("  Server:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		logger.Info("  Log Level:      " + cfg.Logging.Level)
		logger.Info("  DB Driver:      " + cfg.Store.Driver)
		if strings.TrimSpace(cfg.Store.URL) != "" {
			logger.Info("  DB URL:         (set)")
		} else {
			logger.Info("  DB Path:        " + cfg.Store.Path)
		}
		logger.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		logger.Info(fmt.Sprintf("  Tracing:        %t (%s)", cfg.Telemetry.Enabled, cfg.Telemetry.Endpoint))
		logger.Info("")

		logger.Info("Sync:")
		logger.Info("  Scopes:         " + displayValue(strings.Join(cfg.Sync.Scopes, ", ")))
		logger.Info(fmt.Sprintf("  Max Pages:      %d x %d items", cfg.Sync.MaxPages, cfg.Sync.ItemsPerPage))
		logger.Info(fmt.Sprintf("  Retries:        %d (%s..%s)", cfg.Sync.MaxRetries, cfg.Sync.RetryBaseDelay, cfg.Sync.RetryMaxDelay))
		logger.Info(fmt.Sprintf("  Breaker:        %d failures, %s recovery", cfg.Breaker.FailureThreshold, cfg.Breaker.RecoveryTimeout))
		logger.Info(fmt.Sprintf("  Rate Margin:    %.2f", cfg.RateLimitMargin))

		classes := make([]string, 0, len(cfg.RateLimits))
		for class := range cfg.RateLimits {
			classes = append(classes, class)
		}
		sort.Strings(classes)
		for _, class := range classes {
			limits := cfg.RateLimits[class]
			logger.Info(fmt.Sprintf("  Limit %-8s  %d/s, %d/min", class+":", limits.PerSecond, limits.PerMinute))
		}
		logger.Info("")

		names := make([]string, 0, len(cfg.Scopes))
		for name := range cfg.Scopes {
			names = append(names, name)
		}
		sort.Strings(names)
		logger.Info("Accounts:")
		for _, name := range names {
			scope := cfg.Scopes[name]
			password := "(not set)"
			if scope.Password != "" {
				password = "(set)"
			}
			logger.Info(fmt.Sprintf("  %s: %s user=%s password=%s", name, scope.BaseURL, scope.Username, password))
		}
		logger.Info("")

		logger.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}

func displayValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(none)"
	}
	return value
}
