package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger is used for one-shot commands (SIMPLE profile)
	CLILogger *logging.Logger

	// ServerLogger is used by serve mode and the sync engine (STRUCTURED profile)
	ServerLogger *logging.Logger
)

// InitCLILogger installs the SIMPLE profile logger used by one-shot
// commands; verbose lowers the level to DEBUG.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}

	if verbose {
		logger.SetLevel(logging.DEBUG)
	}

	CLILogger = logger
}

// InitServerLogger initializes the structured JSON logger written to stderr.
// Optional namespace parameter tags every record for telemetry correlation.
func InitServerLogger(serviceName string, logLevel string, namespace ...string) {
	logger, err := NewStructuredLogger(serviceName, logLevel, namespace...)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

// NewStructuredLogger builds a STRUCTURED profile logger with correlation
// middleware. It returns an error instead of exiting.
func NewStructuredLogger(serviceName string, logLevel string, namespace ...string) (*logging.Logger, error) {
	staticFields := make(map[string]any)
	if len(namespace) > 0 && namespace[0] != "" {
		staticFields["namespace"] = namespace[0]
	}

	return logging.New(&logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(logLevel),
		Service:      serviceName,
		Environment:  "production",
		StaticFields: staticFields,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{Type: "console", Format: "json", Console: &logging.ConsoleSinkConfig{Stream: "stderr"}},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	})
}

// SyncLogger picks the logger handed to the sync engine. The structured
// profile is used when configured, otherwise the CLI logger.
func SyncLogger(profile string) *logging.Logger {
	if strings.EqualFold(strings.TrimSpace(profile), "simple") {
		if CLILogger != nil {
			return CLILogger
		}
	}
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

var logLevels = map[string]string{
	"trace":   "TRACE",
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

func parseLogLevel(level string) string {
	if mapped, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return mapped
	}
	return "INFO"
}

// exitWithCodeStderr reports a logger bootstrap failure. No logger exists yet,
// so it writes to stderr directly.
func exitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	line := "FATAL: " + msg
	if err != nil {
		line = fmt.Sprintf("%s: %v", line, err)
	}
	fmt.Fprintln(os.Stderr, line)

	code := int(exitCode)
	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		code = info.Code
	}
	os.Exit(code)
}
