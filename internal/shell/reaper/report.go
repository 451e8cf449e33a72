package reaper

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrRemovalConflict is returned when a resource cannot be removed because
	// something else still holds it. The reaper recovers from it where it can.
	ErrRemovalConflict = errors.New("resource removal conflict")
)

// =============================================================================
// Warnings
// =============================================================================

// WarningKind classifies a teardown warning.
type WarningKind string

const (
	// PartialCleanupWarning marks a container still present after every pass.
	PartialCleanupWarning WarningKind = "partial_cleanup"
	// InUseWarning marks a volume still mounted by another container.
	InUseWarning WarningKind = "in_use"
	// RemovalFailedWarning marks an engine error while removing a resource.
	RemovalFailedWarning WarningKind = "removal_failed"
)

// Warning is a non-fatal teardown problem.
type Warning struct {
	Kind     WarningKind `json:"kind"`
	Resource string      `json:"resource"` // container, pod, volume, network
	Name     string      `json:"name"`
	Message  string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s: %s", w.Resource, w.Name, w.Message)
}

// =============================================================================
// Report
// =============================================================================

// Report describes what a teardown removed.
type Report struct {
	RunID      string    `json:"run_id"`
	Project    string    `json:"project"`
	Profile    string    `json:"profile,omitempty"`
	Services   []string  `json:"services,omitempty"`
	Containers []string  `json:"containers,omitempty"`
	Pods       []string  `json:"pods,omitempty"`
	Volumes    []string  `json:"volumes,omitempty"`
	Networks   []string  `json:"networks,omitempty"`
	Warnings   []Warning `json:"warnings,omitempty"`
	// NothingToDo is set when nothing was found to remove.
	NothingToDo bool `json:"nothing_to_do"`
}

// Removed returns the number of resources removed.
func (r *Report) Removed() int {
	return len(r.Containers) + len(r.Pods) + len(r.Volumes) + len(r.Networks)
}

func (r *Report) warn(kind WarningKind, resource, name, message string) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Resource: resource, Name: name, Message: message})
}
