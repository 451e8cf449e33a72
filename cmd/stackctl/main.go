package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/shell/compose"
	"github.com/artpar/stackctl/internal/shell/engine"
	"github.com/artpar/stackctl/internal/shell/probe"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess            = 0
	ExitConfigError        = 1
	ExitManifestError      = 2
	ExitBackendUnavailable = 3
	ExitReadinessError     = 4
	ExitEngineError        = 5
	ExitHTTPServerError    = 6
	ExitUsageError         = 64
)

// CLIError wraps errors with the failed operation and exit code.
type CLIError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *CLIError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	var cliErr *CLIError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &cliErr):
		return cliErr.ExitCode
	case errors.Is(err, manifest.ErrManifestNotFound), errors.Is(err, manifest.ErrManifestUnparseable):
		return ExitManifestError
	case errors.Is(err, compose.ErrBackendUnavailable), errors.Is(err, engine.ErrConnectionFailed):
		return ExitBackendUnavailable
	case errors.Is(err, probe.ErrReadinessTimeout), errors.Is(err, probe.ErrContainerFailed):
		return ExitReadinessError
	default:
		return ExitEngineError
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, newApp))
}

func run(args []string, stdout, stderr io.Writer, factory appFactory) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(factory, stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var usage *usageError
	if errors.As(err, &usage) {
		fmt.Fprintf(stderr, "error: %v\n", usage.err)
		return ExitUsageError
	}
	fmt.Fprintf(stderr, "error: %v\n", err)

	var rErr *probe.ReadinessError
	if errors.As(err, &rErr) && rErr.LogTail != "" {
		fmt.Fprintf(stderr, "last output of %s:\n%s\n", rErr.Service, rErr.LogTail)
	}
	return exitCode(err)
}
