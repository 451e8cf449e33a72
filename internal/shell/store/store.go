package store

import (
	"context"

	"github.com/artpar/stackctl/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for the run journal.
type Store interface {
	Recorder

	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, project string, opts ListOptions) ([]domain.Run, error)
	ListEvents(ctx context.Context, runID string) ([]domain.RunEvent, error)

	// PruneRuns deletes all but the newest keep runs of project and returns
	// how many were deleted.
	PruneRuns(ctx context.Context, project string, keep int) (int, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// Recorder is the write side of the journal used while a run executes.
type Recorder interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	UpdateRun(ctx context.Context, run *domain.Run) error
	AddEvent(ctx context.Context, event *domain.RunEvent) error
}

// Discard is a Recorder that records nothing.
type Discard struct{}

func (Discard) CreateRun(context.Context, *domain.Run) error     { return nil }
func (Discard) UpdateRun(context.Context, *domain.Run) error     { return nil }
func (Discard) AddEvent(context.Context, *domain.RunEvent) error { return nil }

// Commit writes events and then the run's current state. When rec is a Store
// both go into one transaction, so a reader never sees a finished run with
// half of its events.
func Commit(ctx context.Context, rec Recorder, run *domain.Run, events []domain.RunEvent) error {
	write := func(w Recorder) error {
		for i := range events {
			if err := w.AddEvent(ctx, &events[i]); err != nil {
				return err
			}
		}
		return w.UpdateRun(ctx, run)
	}
	if s, ok := rec.(Store); ok {
		return s.WithTx(ctx, func(tx Store) error { return write(tx) })
	}
	return write(rec)
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  20,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
