// Package readiness decides whether an observed container satisfies a
// readiness gate. This is part of the Functional Core: no I/O.
package readiness

import (
	"fmt"

	"github.com/artpar/stackctl/internal/core/domain"
)

// Kind selects the readiness predicate.
type Kind string

const (
	// LongRunning services are ready when running without a healthcheck,
	// healthy, or exited zero.
	LongRunning Kind = "long_running"
	// OneShot services are ready only once they exit zero.
	OneShot Kind = "one_shot"
)

// ParseKind maps configuration strings to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case LongRunning, OneShot:
		return Kind(s), nil
	case "oneshot", "one-shot", "init":
		return OneShot, nil
	case "", "long-running", "service":
		return LongRunning, nil
	}
	return "", fmt.Errorf("unknown readiness kind %q", s)
}

// Verdict is the result of evaluating one observation.
type Verdict string

const (
	Pending Verdict = "pending"
	Ready   Verdict = "ready"
	Failed  Verdict = "failed"
)

// Observation is the subset of container state the gate reads.
type Observation struct {
	State    domain.ContainerState
	Health   domain.HealthState
	ExitCode *int
}

// Observe builds an Observation from a container record.
func Observe(c domain.ContainerRecord) Observation {
	return Observation{State: c.State, Health: c.Health, ExitCode: c.ExitCode}
}

// Absent is the observation for a container that does not exist yet.
var Absent = Observation{State: domain.StateAbsent, Health: domain.HealthNone}

// Evaluate applies the readiness predicate for kind.
//
// A non-zero exit or a dead container fails immediately for either kind.
// An unhealthy container stays pending; only the caller's timeout is fatal.
func Evaluate(o Observation, kind Kind) Verdict {
	switch o.State {
	case domain.StateExited:
		if o.ExitCode != nil && *o.ExitCode == 0 {
			return Ready
		}
		return Failed
	case domain.StateDead:
		return Failed
	case domain.StateRunning:
		if kind == OneShot {
			return Pending
		}
		switch o.Health {
		case domain.HealthHealthy, domain.HealthNone, "":
			return Ready
		default:
			return Pending
		}
	default:
		return Pending
	}
}

// EvaluateAll combines the verdicts of every replica of a service.
// Any failure fails the set, any pending keeps it pending, and an empty set
// is pending.
func EvaluateAll(obs []Observation, kind Kind) Verdict {
	if len(obs) == 0 {
		return Pending
	}
	result := Ready
	for _, o := range obs {
		switch Evaluate(o, kind) {
		case Failed:
			return Failed
		case Pending:
			result = Pending
		}
	}
	return result
}

// Describe renders an observation for logs and errors.
func Describe(o Observation) string {
	s := string(o.State)
	if o.Health != "" && o.Health != domain.HealthNone {
		s += "/" + string(o.Health)
	}
	if o.ExitCode != nil && o.State == domain.StateExited {
		s += fmt.Sprintf(" (exit %d)", *o.ExitCode)
	}
	return s
}
