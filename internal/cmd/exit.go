package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/catalogsync/catalogsync/internal/core"
)

// ErrRunFailed is returned by the sync command when the run did not complete.
var ErrRunFailed = stderrors.New("sync run did not complete")

// ExitCodeFor maps a command error to a semantic foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	var (
		cfgErr  *core.ConfigError
		openErr *core.CircuitOpenError
		unavail *core.ServiceUnavailableError
	)
	switch {
	case err == nil:
		return foundry.ExitCode(0)
	case stderrors.As(err, &cfgErr):
		return foundry.ExitConfigInvalid
	case stderrors.As(err, &openErr), stderrors.As(err, &unavail), stderrors.Is(err, ErrRunFailed):
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFailure
	}
}

// ExitWithCode exits the program with a semantic foundry exit code and logs the error.
// logger may be nil for failures before logger initialization.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger == nil {
		writeFatal(msg, err)
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}

	if envelope, ok := err.(*errors.ErrorEnvelope); ok {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
			zap.String("trace_id", envelope.TraceID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if originalErr, ok := envelope.Original.(error); ok {
			err = originalErr
		}
	}

	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)

	os.Exit(info.Code)
}

// ExitWithCodeStderr is a variant that writes to stderr without a logger.
// Use this for early failures before logger initialization.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		} else {
			fmt.Fprintf(os.Stderr, "FATAL: %s (exit code: %d)\n", msg, exitCode)
		}
		os.Exit(int(exitCode))
	}

	writeFatal(msg, err)
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)

	os.Exit(info.Code)
}

func writeFatal(msg string, err error) {
	if err == nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
		return
	}
	if envelope, ok := err.(*errors.ErrorEnvelope); ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %v (correlation: %s, trace: %s)\n",
			msg, envelope.Code, envelope.Message, envelope.CorrelationID, envelope.TraceID)
		if originalErr, ok := envelope.Original.(error); ok {
			fmt.Fprintf(os.Stderr, "Underlying error: %v\n", originalErr)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
}
