package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/client"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound      = errors.New("container not found")
	ErrContainerHasDependents = errors.New("container has dependent containers")
	ErrContainerInPod         = errors.New("container belongs to a pod")

	// Network errors
	ErrNetworkNotFound = errors.New("network not found")
	ErrNetworkInUse    = errors.New("network has active endpoints")

	// Volume errors
	ErrVolumeNotFound = errors.New("volume not found")
	ErrVolumeInUse    = errors.New("volume is in use")

	// Pod errors
	ErrPodNotFound      = errors.New("pod not found")
	ErrPodsNotSupported = errors.New("engine does not support pods")

	// Connection errors
	ErrConnectionFailed = errors.New("engine connection failed")
)

// EngineError wraps errors with additional context.
type EngineError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, network, volume, pod)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError.
func NewEngineError(op, entity, id, message string, err error) *EngineError {
	return &EngineError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// DependentsError reports a container whose removal is blocked by other
// containers that depend on it.
type DependentsError struct {
	ContainerID string
	Dependents  []string
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("container %s has dependent containers: %s", e.ContainerID, strings.Join(e.Dependents, ", "))
}

func (e *DependentsError) Unwrap() error {
	return ErrContainerHasDependents
}

// =============================================================================
// Engine Message Classification
// =============================================================================

const dependentsMarker = "has dependent containers which must be removed before it:"

// ParseDependents extracts dependent container ids from an engine removal
// message such as
//
//	container 4b1f has dependent containers which must be removed before it: 8d2a,9c3b: container already exists
//
// It returns false when the message is not a dependents error.
func ParseDependents(message string) ([]string, bool) {
	_, rest, found := strings.Cut(message, dependentsMarker)
	if !found {
		return nil, false
	}
	if i := strings.Index(rest, ":"); i >= 0 {
		rest = rest[:i]
	}
	var ids []string
	for _, f := range strings.FieldsFunc(rest, func(r rune) bool { return r == ',' || r == ' ' }) {
		if f != "" {
			ids = append(ids, f)
		}
	}
	return ids, true
}

// callError wraps a failed engine call. Transport failures are tagged with
// ErrConnectionFailed so callers can tell a dead engine from a failed request.
func callError(op, entity, id string, err error) error {
	if client.IsErrConnectionFailed(err) || errors.Is(err, ErrConnectionFailed) {
		return NewEngineError(op, entity, id, err.Error(), ErrConnectionFailed)
	}
	return NewEngineError(op, entity, id, err.Error(), err)
}

// classifyRemoveError maps an engine container-removal failure to a typed error.
func classifyRemoveError(op, id string, err error) error {
	msg := err.Error()
	if deps, ok := ParseDependents(msg); ok {
		return &DependentsError{ContainerID: id, Dependents: deps}
	}
	if strings.Contains(msg, "infra container of pod") || strings.Contains(msg, "is part of pod") || strings.Contains(msg, "without removing the pod") {
		return NewEngineError(op, "container", id, msg, ErrContainerInPod)
	}
	if strings.Contains(msg, "No such container") || strings.Contains(msg, "no such container") {
		return NewEngineError(op, "container", id, "container not found", ErrContainerNotFound)
	}
	return callError(op, "container", id, err)
}
