package cmd

import (
	"context"
	"sync"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catalogsync/catalogsync/internal/config"
	"github.com/catalogsync/catalogsync/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}

	loadedConfig struct {
		once sync.Once
		cfg  *config.Config
		err  error
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Resilient marketplace catalog synchronization",
	Long: `catalogsync pulls catalog items from marketplace accounts, merges them
across account scopes and stores the result.

Remote calls are paced by per-class rate limits, guarded by circuit
breakers and retried with exponential backoff.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading quiet; serve mode initializes the real telemetry system.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/catalogsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

func initLogging() {
	observability.InitCLILogger(config.AppName, verbose)
}

// loadConfig loads and validates configuration once per process. Runtime
// overrides only apply on the first call.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	loadedConfig.once.Do(func() {
		opts := config.LoadOptions{ConfigFile: cfgFile}
		loadedConfig.cfg, loadedConfig.err = config.Load(ctx, opts, overrides...)
		if loadedConfig.err == nil && observability.CLILogger != nil {
			if used := config.ConfigFileUsed(opts); used != "" {
				observability.CLILogger.Debug("Using config file", zap.String("path", used))
			} else {
				observability.CLILogger.Debug("No config file found, using defaults and environment variables")
			}
		}
	})
	return loadedConfig.cfg, loadedConfig.err
}
