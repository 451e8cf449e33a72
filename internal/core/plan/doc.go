// Package plan provides pure functions for profile bring-up and teardown
// planning.
//
// This package turns a manifest and a resolved service set into execution
// plans. All functions are pure (no I/O, no side effects).
//
// # Functions
//
//   - Naming: project-scoped resource names (VolumeName, NetworkName, HasProjectPrefix)
//   - Ordering: layered dependency ordering (Layers, Isolated)
//   - Phases: phased fallback plans for profiles with ordering needs (BuildPhases)
//   - Timeouts: per-service readiness timeouts (TimeoutPolicy)
//
// # Usage
//
// The orchestrator and reaper in internal/shell use these functions to plan
// work, then execute the plans through the compose backend and engine.
//
//	order := plan.Layers(m, resolved)
//	phased, ok := plan.BuildPhases(m, profile, resolved, opts)
//	volume := plan.VolumeName(project, "data")
package plan
