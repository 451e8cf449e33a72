package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Run Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// Run Types
// =============================================================================

// Operation is the CLI operation a run performs.
type Operation string

const (
	OperationUp      Operation = "up"
	OperationDown    Operation = "down"
	OperationDownAll Operation = "down_all"
)

// RunStatus is the state of an orchestration run.
type RunStatus string

const (
	RunPending       RunStatus = "pending"
	RunResolving     RunStatus = "resolving"
	RunBulkAttempt   RunStatus = "bulk_attempt"
	RunPhaseFallback RunStatus = "phase_fallback"
	RunTearingDown   RunStatus = "tearing_down"
	RunSucceeded     RunStatus = "succeeded"
	RunPartial       RunStatus = "partial" // teardown finished with warnings
	RunNothingToDo   RunStatus = "nothing_to_do"
	RunFailed        RunStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunPartial, RunNothingToDo, RunFailed:
		return true
	}
	return false
}

// Run records one Up, Down or DownAll invocation.
type Run struct {
	ID         string     `json:"id" db:"id"`
	Operation  Operation  `json:"operation" db:"operation"`
	Project    string     `json:"project" db:"project"`
	Profile    string     `json:"profile,omitempty" db:"profile"`
	Status     RunStatus  `json:"status" db:"status"`
	Message    string     `json:"message,omitempty" db:"message"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// NewRun creates a pending run.
func NewRun(op Operation, project, profile string) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:        uuid.New().String(),
		Operation: op,
		Project:   project,
		Profile:   profile,
		Status:    RunPending,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Transition attempts to move the run to a new status.
func (r *Run) Transition(to RunStatus) error {
	if err := ValidateTransition(r.Status, to); err != nil {
		return err
	}

	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	if to.Terminal() {
		now := r.UpdatedAt
		r.FinishedAt = &now
	}
	return nil
}

// Fail moves a non-terminal run to failed with a message.
func (r *Run) Fail(message string) error {
	if r.Status.Terminal() {
		return ErrInvalidTransition
	}
	r.Message = message
	return r.Transition(RunFailed)
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed run transitions.
var validTransitions = map[RunStatus][]RunStatus{
	RunPending:       {RunResolving, RunFailed},
	RunResolving:     {RunBulkAttempt, RunTearingDown, RunNothingToDo, RunFailed},
	RunBulkAttempt:   {RunSucceeded, RunPhaseFallback, RunFailed},
	RunPhaseFallback: {RunSucceeded, RunFailed},
	RunTearingDown:   {RunSucceeded, RunPartial, RunNothingToDo, RunFailed},
	RunSucceeded:     {},
	RunPartial:       {},
	RunNothingToDo:   {},
	RunFailed:        {},
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to RunStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// =============================================================================
// Run Events
// =============================================================================

// EventType classifies a run event.
type EventType string

const (
	EventServiceStarting  EventType = "service_starting"
	EventServiceReady     EventType = "service_ready"
	EventServiceFailed    EventType = "service_failed"
	EventPhaseStarted     EventType = "phase_started"
	EventContainerRemoved EventType = "container_removed"
	EventPodRemoved       EventType = "pod_removed"
	EventVolumeRemoved    EventType = "volume_removed"
	EventNetworkRemoved   EventType = "network_removed"
	EventCleanupWarning   EventType = "cleanup_warning"
	EventBackendFailed    EventType = "backend_failed"
)

// RunEvent is a single step recorded against a run.
type RunEvent struct {
	ID        int64     `json:"-" db:"id"`
	RunID     string    `json:"run_id" db:"run_id"`
	Type      EventType `json:"type" db:"type"`
	Service   string    `json:"service,omitempty" db:"service"`
	Phase     int       `json:"phase,omitempty" db:"phase"`
	Detail    string    `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewRunEvent creates a run event stamped with the current time.
func NewRunEvent(runID string, eventType EventType, service, detail string) RunEvent {
	return RunEvent{
		RunID:     runID,
		Type:      eventType,
		Service:   service,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
}
