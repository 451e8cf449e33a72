// Package compose adapts compose-compatible command line backends
// (docker compose, podman compose, podman-compose, docker-compose) to one
// interface.
package compose

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Options
// =============================================================================

// UpOptions configure a detached bring-up.
type UpOptions struct {
	Profile       string
	NoDeps        bool
	ForceRecreate bool
	Build         bool
}

// RemoveOptions configure container removal.
type RemoveOptions struct {
	Force   bool
	Stop    bool
	Volumes bool // anonymous volumes only
}

// LogsOptions configure log output.
type LogsOptions struct {
	Services   []string
	Follow     bool
	Tail       int // 0 means all
	Timestamps bool
}

// =============================================================================
// Backend Interface
// =============================================================================

// Backend is a compose-compatible command line tool. Every mutating call is
// scoped to the services it is given; an empty list is a no-op.
type Backend interface {
	// Name is the command line of the backend, e.g. "docker compose".
	Name() string
	SupportsProfileFilter(ctx context.Context) bool
	ListServices(ctx context.Context, profile string) ([]string, error)
	Up(ctx context.Context, services []string, opts UpOptions) error
	Stop(ctx context.Context, services []string, timeout time.Duration) error
	Remove(ctx context.Context, services []string, opts RemoveOptions) error
	Build(ctx context.Context, services []string, noCache bool) error
	Logs(ctx context.Context, opts LogsOptions, w io.Writer) error
}
