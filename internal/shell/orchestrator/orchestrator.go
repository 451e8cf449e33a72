// Package orchestrator brings compose profiles up: one bulk bring-up first,
// then an ordered phase-by-phase bring-up when the bulk call fails for a
// profile with known ordering needs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/core/monitoring"
	"github.com/artpar/stackctl/internal/core/plan"
	"github.com/artpar/stackctl/internal/core/readiness"
	"github.com/artpar/stackctl/internal/shell/compose"
	"github.com/artpar/stackctl/internal/shell/probe"
	"github.com/artpar/stackctl/internal/shell/store"
)

// =============================================================================
// Types
// =============================================================================

// Status is the outcome of a bring-up.
type Status string

const (
	StatusStarted        Status = "started"
	StatusNothingToStart Status = "nothing_to_start"
)

// Mode is how services were started.
type Mode string

const (
	ModeBulk   Mode = "bulk"
	ModePhased Mode = "phased"
)

// ServiceOutcome is one service's readiness result.
type ServiceOutcome struct {
	Service string         `json:"service"`
	Kind    readiness.Kind `json:"kind"`
	Phase   int            `json:"phase,omitempty"`
	Ready   bool           `json:"ready"`
}

// UpResult describes a finished bring-up.
type UpResult struct {
	RunID    string           `json:"run_id"`
	Profile  string           `json:"profile"`
	Status   Status           `json:"status"`
	Mode     Mode             `json:"mode,omitempty"`
	Services []ServiceOutcome `json:"services,omitempty"`
	Skipped  []string         `json:"skipped,omitempty"`
}

// UpOptions are per-invocation switches.
type UpOptions struct {
	Build        bool
	NoCache      bool
	SkipOptional bool
}

// Config is the orchestrator's immutable configuration.
type Config struct {
	Project  string
	Timeouts plan.TimeoutPolicy
	Phases   map[string][]plan.PhaseSpec
	Kinds    map[string]string
}

// Waiter blocks until a service satisfies its readiness gate.
type Waiter interface {
	WaitReady(ctx context.Context, ref probe.ContainerRef, timeout time.Duration, kind readiness.Kind) error
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs bring-ups one command at a time.
type Orchestrator struct {
	manifest *manifest.Manifest
	backend  compose.Backend
	waiter   Waiter
	journal  store.Recorder
	cfg      Config
	logger   *slog.Logger
}

// New creates an orchestrator. A nil journal records nothing and a nil
// logger uses slog.Default().
func New(m *manifest.Manifest, backend compose.Backend, waiter Waiter, journal store.Recorder, cfg Config, logger *slog.Logger) *Orchestrator {
	if journal == nil {
		journal = store.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		manifest: m,
		backend:  backend,
		waiter:   waiter,
		journal:  journal,
		cfg:      cfg,
		logger:   logger.With("project", cfg.Project),
	}
}

// Up brings profile up.
//
// An empty profile is reported as StatusNothingToStart without touching the
// engine. Started services are left running when a later step fails.
func (o *Orchestrator) Up(ctx context.Context, profile string, opts UpOptions) (*UpResult, error) {
	logger := o.logger.With("profile", profile)
	run := domain.NewRun(domain.OperationUp, o.cfg.Project, profile)
	o.createRun(ctx, run)

	result := &UpResult{RunID: run.ID, Profile: profile}

	o.transition(ctx, run, domain.RunResolving)
	services, err := o.backend.ListServices(ctx, profile)
	if err != nil {
		return result, o.fail(ctx, run, fmt.Errorf("resolve profile %s: %w", profile, err))
	}
	services, result.Skipped = o.dropOptional(profile, services, opts)

	if len(services) == 0 {
		logger.Info("nothing to start")
		result.Status = StatusNothingToStart
		o.transition(ctx, run, domain.RunNothingToDo)
		return result, nil
	}
	logger.Info("resolved profile", "services", services)

	if opts.Build {
		if err := o.build(ctx, services, opts.NoCache); err != nil {
			return result, o.fail(ctx, run, err)
		}
	}

	o.transition(ctx, run, domain.RunBulkAttempt)
	bulkErr := o.backend.Up(ctx, services, compose.UpOptions{Profile: profile, ForceRecreate: true})
	if bulkErr == nil {
		result.Mode = ModeBulk
		if err := o.gateBulk(ctx, run, result, services); err != nil {
			return result, o.fail(ctx, run, err)
		}
		result.Status = StatusStarted
		o.transition(ctx, run, domain.RunSucceeded)
		return result, nil
	}
	if ctx.Err() != nil {
		return result, o.fail(ctx, run, ctx.Err())
	}
	o.record(ctx, run, domain.EventBackendFailed, "", 0, bulkErr.Error())

	phases, ok := plan.BuildPhases(o.manifest, profile, services, plan.PhaseOptions{
		Configured:   o.cfg.Phases,
		Kinds:        o.cfg.Kinds,
		Timeouts:     o.cfg.Timeouts,
		SkipOptional: opts.SkipOptional,
	})
	if !ok {
		return result, o.fail(ctx, run, fmt.Errorf("bring up profile %s: %w", profile, bulkErr))
	}

	logger.Warn("bulk bring-up failed, starting in phases", "error", bulkErr, "phases", len(phases.Phases), "source", string(phases.Source))
	o.transition(ctx, run, domain.RunPhaseFallback)
	result.Mode = ModePhased
	result.Skipped = mergeSkipped(result.Skipped, phases.Skipped)

	if err := o.runPhases(ctx, run, result, phases); err != nil {
		return result, o.fail(ctx, run, err)
	}
	result.Status = StatusStarted
	o.transition(ctx, run, domain.RunSucceeded)
	return result, nil
}

// gateBulk waits for every service in manifest order with LongRunning
// semantics and each service's own timeout.
func (o *Orchestrator) gateBulk(ctx context.Context, run *domain.Run, result *UpResult, services []string) error {
	for _, svc := range o.manifest.SortByManifestOrder(services) {
		entry := plan.Entry{Service: svc, Kind: readiness.LongRunning, Timeout: o.cfg.Timeouts.For(svc)}
		if err := o.gate(ctx, run, result, entry, 0); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runPhases(ctx context.Context, run *domain.Run, result *UpResult, phases plan.PhasePlan) error {
	for _, phase := range phases.Phases {
		names := phase.Services()
		number := phase.Index + 1
		o.logger.Info("starting phase", "profile", phases.Profile, "phase", number, "services", names)
		o.record(ctx, run, domain.EventPhaseStarted, "", number, fmt.Sprint(names))

		err := o.backend.Up(ctx, names, compose.UpOptions{Profile: phases.Profile, NoDeps: true, ForceRecreate: true})
		if err != nil {
			return fmt.Errorf("phase %d: %w", number, err)
		}
		for _, entry := range phase.Entries {
			if err := o.gate(ctx, run, result, entry, number); err != nil {
				return fmt.Errorf("phase %d: %w", number, err)
			}
		}
	}
	return nil
}

func (o *Orchestrator) gate(ctx context.Context, run *domain.Run, result *UpResult, entry plan.Entry, phase int) error {
	o.record(ctx, run, domain.EventServiceStarting, entry.Service, phase, string(entry.Kind))

	ref := probe.ContainerRef{Project: o.cfg.Project, Service: entry.Service}
	err := o.waiter.WaitReady(ctx, ref, entry.Timeout, entry.Kind)

	outcome := ServiceOutcome{Service: entry.Service, Kind: entry.Kind, Phase: phase, Ready: err == nil}
	result.Services = append(result.Services, outcome)

	if err != nil {
		o.record(ctx, run, domain.EventServiceFailed, entry.Service, phase, err.Error())
		return err
	}
	o.record(ctx, run, domain.EventServiceReady, entry.Service, phase, "")
	return nil
}

func (o *Orchestrator) build(ctx context.Context, services []string, noCache bool) error {
	var buildable []string
	for _, name := range services {
		if svc, ok := o.manifest.Service(name); ok && svc.HasBuild {
			buildable = append(buildable, name)
		}
	}
	if len(buildable) == 0 {
		return nil
	}
	o.logger.Info("building images", "services", buildable)
	if err := o.backend.Build(ctx, buildable, noCache); err != nil {
		return fmt.Errorf("build: %w", err)
	}
	return nil
}

// dropOptional removes configured optional services when the caller asked
// to skip them.
func (o *Orchestrator) dropOptional(profile string, services []string, opts UpOptions) ([]string, []string) {
	if !opts.SkipOptional {
		return services, nil
	}
	var optional []string
	for _, spec := range o.cfg.Phases[profile] {
		optional = append(optional, spec.Optional...)
	}

	var kept, skipped []string
	for _, s := range services {
		if slices.Contains(optional, s) {
			skipped = append(skipped, s)
			continue
		}
		kept = append(kept, s)
	}
	return kept, skipped
}

func mergeSkipped(a, b []string) []string {
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// Journal
// =============================================================================

// Journal writes never fail a run and survive cancellation of ctx.

func (o *Orchestrator) createRun(ctx context.Context, run *domain.Run) {
	if err := o.journal.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Warn("journal unavailable", "error", err)
	}
}

func (o *Orchestrator) transition(ctx context.Context, run *domain.Run, to domain.RunStatus) {
	if err := run.Transition(to); err != nil {
		o.logger.Debug("run transition rejected", "from", string(run.Status), "to", string(to))
		return
	}
	if err := o.journal.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Debug("journal update failed", "error", err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, run *domain.Run, err error) error {
	msg := err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "interrupted"
	}
	if ferr := run.Fail(msg); ferr == nil {
		if jerr := o.journal.UpdateRun(context.WithoutCancel(ctx), run); jerr != nil {
			o.logger.Debug("journal update failed", "error", jerr)
		}
	}
	o.logger.Error("bring-up failed", "profile", run.Profile, "error", err)
	return err
}

func (o *Orchestrator) record(ctx context.Context, run *domain.Run, t domain.EventType, service string, phase int, detail string) {
	ev := domain.NewRunEvent(run.ID, t, service, detail)
	ev.Phase = phase
	if detail == "" {
		ev.Detail = monitoring.EventMessage(t, service)
	}
	if err := o.journal.AddEvent(context.WithoutCancel(ctx), &ev); err != nil {
		o.logger.Debug("journal event failed", "error", err)
	}
}
