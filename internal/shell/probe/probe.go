// Package probe waits for containers to satisfy a readiness gate by polling
// the engine, and captures diagnostics when they do not.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/poll"
	"github.com/artpar/stackctl/internal/core/readiness"
	"github.com/artpar/stackctl/internal/shell/engine"
	"github.com/artpar/stackctl/internal/shell/inventory"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrReadinessTimeout is returned when a service never reaches its ready
	// state before the timeout.
	ErrReadinessTimeout = errors.New("readiness timeout")

	// ErrContainerFailed is returned when a container exits non-zero or dies.
	ErrContainerFailed = errors.New("container failed")
)

// ReadinessError carries the diagnostics of a failed readiness gate.
type ReadinessError struct {
	Service     string
	ContainerID string
	LastState   string
	LogTail     string
	Err         error
}

func (e *ReadinessError) Error() string {
	id := e.ContainerID
	if len(id) > 12 {
		id = id[:12]
	}
	if id == "" {
		id = "none"
	}
	return fmt.Sprintf("service %s (container %s, last state %s): %v", e.Service, id, e.LastState, e.Err)
}

func (e *ReadinessError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Probe
// =============================================================================

// DefaultInterval and DefaultLogTail are used when Config leaves them zero.
const (
	DefaultInterval = 2 * time.Second
	DefaultLogTail  = 50
)

// Config tunes polling.
type Config struct {
	Interval time.Duration
	LogTail  int
}

// ContainerRef identifies what to wait for: one container by ID, or every
// container of Project/Service when ID is empty.
type ContainerRef struct {
	ID      string
	Project string
	Service string
}

// Probe polls container state until a readiness gate is satisfied.
type Probe struct {
	inv    *inventory.Inventory
	clock  poll.Clock
	cfg    Config
	logger *slog.Logger
}

// New creates a probe. A nil clock uses the wall clock and a nil logger uses
// slog.Default().
func New(inv *inventory.Inventory, clock poll.Clock, cfg Config, logger *slog.Logger) *Probe {
	if clock == nil {
		clock = poll.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LogTail <= 0 {
		cfg.LogTail = DefaultLogTail
	}
	return &Probe{inv: inv, clock: clock, cfg: cfg, logger: logger}
}

// WaitReady polls ref until it is ready for kind. A non-zero exit fails at
// once; anything else that has not become ready by timeout fails with
// ErrReadinessTimeout. Both failures capture the container's log tail.
// Cancellation of ctx returns ctx's error and leaves the container alone.
func (p *Probe) WaitReady(ctx context.Context, ref ContainerRef, timeout time.Duration, kind readiness.Kind) error {
	logger := p.logger.With("service", ref.Service, "kind", string(kind))
	logger.Debug("waiting for readiness", "timeout", timeout)

	var last []domain.ContainerRecord
	err := poll.Until(ctx, p.clock, p.cfg.Interval, timeout, func(ctx context.Context) (bool, error) {
		recs, err := p.observe(ctx, ref)
		if errors.Is(err, engine.ErrConnectionFailed) {
			return false, err
		}
		if err != nil {
			logger.Debug("observation failed", "error", err)
			return false, nil
		}
		last = recs

		obs := make([]readiness.Observation, 0, len(recs))
		for _, r := range recs {
			obs = append(obs, readiness.Observe(r))
		}
		switch readiness.EvaluateAll(obs, kind) {
		case readiness.Ready:
			return true, nil
		case readiness.Failed:
			return false, ErrContainerFailed
		}
		return false, nil
	})

	switch {
	case err == nil:
		logger.Info("service ready")
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	case errors.Is(err, engine.ErrConnectionFailed):
		logger.Error("engine unreachable while waiting", "error", err)
		return err
	case errors.Is(err, poll.ErrTimeout):
		err = ErrReadinessTimeout
	}

	rerr := p.diagnose(ctx, ref, last, kind, err)
	logger.Error("service not ready", "container_id", rerr.ContainerID, "state", rerr.LastState, "error", err)
	return rerr
}

func (p *Probe) observe(ctx context.Context, ref ContainerRef) ([]domain.ContainerRecord, error) {
	if ref.ID == "" {
		return p.inv.ServiceContainers(ctx, ref.Project, ref.Service)
	}
	rec, err := p.inv.Client().InspectContainer(ctx, ref.ID)
	if errors.Is(err, engine.ErrContainerNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []domain.ContainerRecord{*rec}, nil
}

// diagnose picks the container that blocked readiness and captures its log
// tail.
func (p *Probe) diagnose(ctx context.Context, ref ContainerRef, last []domain.ContainerRecord, kind readiness.Kind, cause error) *ReadinessError {
	rerr := &ReadinessError{
		Service:     ref.Service,
		ContainerID: ref.ID,
		LastState:   readiness.Describe(readiness.Absent),
		Err:         cause,
	}
	if len(last) == 0 {
		return rerr
	}

	culprit := last[0]
	for _, r := range last {
		if readiness.Evaluate(readiness.Observe(r), kind) != readiness.Ready {
			culprit = r
			break
		}
	}
	rerr.ContainerID = culprit.ID
	rerr.LastState = readiness.Describe(readiness.Observe(culprit))

	tail, err := p.inv.Client().LogTail(ctx, culprit.ID, p.cfg.LogTail)
	if err != nil {
		p.logger.Debug("log tail unavailable", "container_id", culprit.ShortID(), "error", err)
	}
	rerr.LogTail = tail
	return rerr
}
