// Package engine is the container engine boundary: containers, volumes and
// networks through the Docker Engine API (also served by podman), and pods
// through the podman CLI.
package engine

import (
	"context"
	"io"
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
)

// =============================================================================
// Options
// =============================================================================

// ListOptions selects containers.
type ListOptions struct {
	All    bool     // Include stopped containers
	Labels []string // key=value filters, all must match
	Volume string   // only containers mounting this volume
	Name   string
}

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Follow     bool
	Tail       string // "all" or number
	Timestamps bool
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the container engine operations the orchestrator needs.
type Client interface {
	Ping(ctx context.Context) error
	Close() error

	// Container operations
	ListContainers(ctx context.Context, opts ListOptions) ([]domain.ContainerRecord, error)
	InspectContainer(ctx context.Context, id string) (*domain.ContainerRecord, error)
	StopContainer(ctx context.Context, id string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, id string, opts RemoveOptions) error
	ContainerLogs(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error)
	LogTail(ctx context.Context, id string, lines int) (string, error)

	// Volume operations
	ListVolumes(ctx context.Context, labels []string) ([]domain.VolumeRecord, error)
	InspectVolume(ctx context.Context, name string) (*domain.VolumeRecord, error)
	RemoveVolume(ctx context.Context, name string, force bool) error

	// Network operations
	ListNetworks(ctx context.Context, labels []string) ([]domain.NetworkRecord, error)
	InspectNetwork(ctx context.Context, nameOrID string) (*domain.NetworkRecord, error)
	RemoveNetwork(ctx context.Context, nameOrID string) error
}

// PodManager lists and removes podman pods.
type PodManager interface {
	// Available reports whether the engine supports pods.
	Available(ctx context.Context) bool
	ListPods(ctx context.Context) ([]domain.PodRecord, error)
	RemovePod(ctx context.Context, id string) error
}
