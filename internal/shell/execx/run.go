// Package execx runs external commands for the compose backends and the
// podman pod CLI.
package execx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// ExitTimeout is the exit code reported when a command's context deadline
// expires before it finishes.
const ExitTimeout = 124

// Cmd describes one command invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	Env  []string

	// Stdout and Stderr, when set, receive output as it is produced in
	// addition to the captured copy.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs.
func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a command.
type Result struct {
	Code   int
	Stdout string
	Stderr string
	Err    error
}

// OK reports whether the command exited zero.
func (r Result) OK() bool {
	return r.Err == nil && r.Code == 0
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) Result
	LookPath(name string) (string, error)
}

// OSRunner runs commands with os/exec.
type OSRunner struct {
	logger *slog.Logger
}

// NewOSRunner creates a runner. A nil logger uses slog.Default().
func NewOSRunner(logger *slog.Logger) *OSRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &OSRunner{logger: logger}
}

// LookPath wraps exec.LookPath.
func (r *OSRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run executes cmd and captures stdout and stderr.
func (r *OSRunner) Run(ctx context.Context, cmd Cmd) Result {
	r.logger.Debug("exec", "cmd", cmd.String())

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if cmd.Stdout != nil {
		c.Stdout = io.MultiWriter(cmd.Stdout, &stdout)
	}
	if cmd.Stderr != nil {
		c.Stderr = io.MultiWriter(cmd.Stderr, &stderr)
	}

	err := c.Run()
	return Result{
		Code:   exitCode(ctx, err),
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}
}

func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() >= 0 {
		return ee.ExitCode()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ExitTimeout
	}
	return 1
}
