package plan

import (
	"slices"
	"time"

	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/core/readiness"
)

// ReadinessLabel lets a manifest mark a service's readiness kind explicitly.
const ReadinessLabel = "stackctl.readiness"

// =============================================================================
// Phase Types
// =============================================================================

// PhaseSpec is a configured phase: services started together and gated
// before the next phase begins.
type PhaseSpec struct {
	Services []string      `mapstructure:"services"`
	Optional []string      `mapstructure:"optional"`
	Kind     string        `mapstructure:"kind"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Entry is one service gate inside a phase.
type Entry struct {
	Service string
	Kind    readiness.Kind
	Timeout time.Duration
}

// Phase is a group of services started with one backend call.
type Phase struct {
	Index   int
	Entries []Entry
}

// Services returns the phase's service names.
func (p Phase) Services() []string {
	out := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		out = append(out, e.Service)
	}
	return out
}

// PlanSource records where a phase plan came from.
type PlanSource string

const (
	SourceConfigured   PlanSource = "configured"
	SourceDependencies PlanSource = "dependencies"
)

// PhasePlan is an ordered fallback bring-up for one profile.
type PhasePlan struct {
	Profile string
	Source  PlanSource
	Phases  []Phase
	// Skipped lists configured entries not started: absent optional entries,
	// optional entries dropped by SkipOptional, and absent required entries.
	Skipped []string
}

// PhaseOptions parameterise BuildPhases.
type PhaseOptions struct {
	Configured   map[string][]PhaseSpec
	Kinds        map[string]string // per-service configured kind
	Timeouts     TimeoutPolicy
	SkipOptional bool
}

// =============================================================================
// Phase Planning
// =============================================================================

// BuildPhases returns the phase plan for profile, or false when the profile
// has no known ordering needs: no configured plan and no dependency between
// two resolved services.
func BuildPhases(m *manifest.Manifest, profile string, resolved []string, opts PhaseOptions) (PhasePlan, bool) {
	if specs, ok := opts.Configured[profile]; ok && len(specs) > 0 {
		return configuredPlan(m, profile, resolved, specs, opts), true
	}
	if HasInternalDependencies(m, resolved) {
		return dependencyPlan(m, profile, resolved, opts), true
	}
	return PhasePlan{}, false
}

func configuredPlan(m *manifest.Manifest, profile string, resolved []string, specs []PhaseSpec, opts PhaseOptions) PhasePlan {
	p := PhasePlan{Profile: profile, Source: SourceConfigured}
	placed := make(map[string]bool)

	for _, spec := range specs {
		var entries []Entry
		for _, svc := range spec.Services {
			optional := slices.Contains(spec.Optional, svc)
			if !slices.Contains(resolved, svc) || (optional && opts.SkipOptional) {
				p.Skipped = append(p.Skipped, svc)
				continue
			}
			if placed[svc] {
				continue
			}
			placed[svc] = true

			kind := KindFor(m, svc, resolved, opts.Kinds)
			if spec.Kind != "" {
				if k, err := readiness.ParseKind(spec.Kind); err == nil {
					kind = k
				}
			}
			timeout := opts.Timeouts.For(svc)
			if spec.Timeout > 0 {
				timeout = spec.Timeout
			}
			entries = append(entries, Entry{Service: svc, Kind: kind, Timeout: timeout})
		}
		if len(entries) > 0 {
			p.Phases = append(p.Phases, Phase{Index: len(p.Phases), Entries: entries})
		}
	}

	// Resolved services the configuration does not mention still start, in
	// dependency order, after the configured phases.
	var rest []string
	for _, svc := range resolved {
		if !placed[svc] && !slices.Contains(p.Skipped, svc) {
			rest = append(rest, svc)
		}
	}
	for _, layer := range Layers(m, rest) {
		p.Phases = append(p.Phases, Phase{Index: len(p.Phases), Entries: entriesFor(m, layer, resolved, opts)})
	}

	return p
}

// dependencyPlan layers the resolved services by dependency. Services with no
// dependency link to the rest of the profile, such as log shippers, start in
// a final phase of their own.
func dependencyPlan(m *manifest.Manifest, profile string, resolved []string, opts PhaseOptions) PhasePlan {
	p := PhasePlan{Profile: profile, Source: SourceDependencies}

	isolated := Isolated(m, resolved)
	var linked []string
	for _, svc := range resolved {
		if !slices.Contains(isolated, svc) {
			linked = append(linked, svc)
		}
	}
	layers := Layers(m, linked)
	if len(isolated) > 0 {
		layers = append(layers, isolated)
	}
	for _, layer := range layers {
		p.Phases = append(p.Phases, Phase{Index: len(p.Phases), Entries: entriesFor(m, layer, resolved, opts)})
	}
	return p
}

func entriesFor(m *manifest.Manifest, services, resolved []string, opts PhaseOptions) []Entry {
	entries := make([]Entry, 0, len(services))
	for _, svc := range services {
		entries = append(entries, Entry{
			Service: svc,
			Kind:    KindFor(m, svc, resolved, opts.Kinds),
			Timeout: opts.Timeouts.For(svc),
		})
	}
	return entries
}

// KindFor infers a service's readiness kind. In order: configured kind, the
// stackctl.readiness label, then OneShot when another resolved service waits
// for it with service_completed_successfully. Everything else is LongRunning.
func KindFor(m *manifest.Manifest, service string, resolved []string, configured map[string]string) readiness.Kind {
	if v, ok := configured[service]; ok {
		if k, err := readiness.ParseKind(v); err == nil {
			return k
		}
	}

	svc, ok := m.Service(service)
	if !ok {
		return readiness.LongRunning
	}
	if v, ok := svc.Labels[ReadinessLabel]; ok {
		if k, err := readiness.ParseKind(v); err == nil {
			return k
		}
	}

	for _, dependent := range m.Dependents(service, resolved) {
		if dep, _ := dependent.DependsOnService(service); dep.Condition == manifest.ConditionCompletedSuccessfully {
			return readiness.OneShot
		}
	}
	return readiness.LongRunning
}
