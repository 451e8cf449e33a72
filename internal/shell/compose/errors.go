package compose

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrBackendUnavailable is returned when no compose backend can be found.
	ErrBackendUnavailable = errors.New("no compose backend available")

	// ErrCommandFailed is returned when a backend command exits non-zero.
	ErrCommandFailed = errors.New("compose command failed")
)

// BackendError wraps a failed backend command with its context.
type BackendError struct {
	Op       string
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *BackendError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s (exit %d): %s", e.Op, e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s: %s (exit %d)", e.Op, e.Command, e.ExitCode)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError creates a new BackendError.
func NewBackendError(op, command string, exitCode int, stderr string, err error) *BackendError {
	return &BackendError{
		Op:       op,
		Command:  command,
		ExitCode: exitCode,
		Stderr:   stderr,
		Err:      err,
	}
}
