// Package reaper tears profiles down: it removes exactly the containers,
// pods, volumes and networks a profile owns in a project and can be run
// again safely.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/core/monitoring"
	"github.com/artpar/stackctl/internal/core/plan"
	"github.com/artpar/stackctl/internal/shell/compose"
	"github.com/artpar/stackctl/internal/shell/engine"
	"github.com/artpar/stackctl/internal/shell/inventory"
	"github.com/artpar/stackctl/internal/shell/store"
)

// Defaults for Config.
const (
	DefaultMaxPasses   = 3
	DefaultStopTimeout = 10 * time.Second

	// maxDependentDepth bounds recursive dependent-first removal.
	maxDependentDepth = 3
)

// Config is the reaper's immutable configuration.
type Config struct {
	Project     string
	MaxPasses   int
	StopTimeout time.Duration
}

// Reaper removes project resources.
type Reaper struct {
	manifest *manifest.Manifest
	backend  compose.Backend
	inv      *inventory.Inventory
	journal  store.Recorder
	cfg      Config
	logger   *slog.Logger
}

// New creates a reaper. A nil journal records nothing and a nil logger uses
// slog.Default().
func New(m *manifest.Manifest, backend compose.Backend, inv *inventory.Inventory, journal store.Recorder, cfg Config, logger *slog.Logger) *Reaper {
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = DefaultMaxPasses
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if journal == nil {
		journal = store.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		manifest: m,
		backend:  backend,
		inv:      inv,
		journal:  journal,
		cfg:      cfg,
		logger:   logger.With("project", cfg.Project),
	}
}

// scope is what one teardown may touch.
type scope struct {
	services []string
	// query is passed to the inventory; nil means every project container.
	query       []string
	networkKeys []string
	allNetworks bool
}

// TearDown removes the containers, pods, volumes and networks of profile.
// Resources outside the project are never touched. A second call finds
// nothing and reports NothingToDo.
func (r *Reaper) TearDown(ctx context.Context, profile string) (*Report, error) {
	run := domain.NewRun(domain.OperationDown, r.cfg.Project, profile)
	r.createRun(ctx, run)
	r.transition(ctx, run, domain.RunResolving)

	services, err := r.backend.ListServices(ctx, profile)
	if err != nil {
		return nil, r.fail(ctx, run, fmt.Errorf("resolve profile %s: %w", profile, err))
	}

	report := &Report{RunID: run.ID, Project: r.cfg.Project, Profile: profile, Services: services}
	if len(services) == 0 {
		report.NothingToDo = true
		r.transition(ctx, run, domain.RunNothingToDo)
		return report, nil
	}

	sc := scope{
		services:    services,
		query:       services,
		networkKeys: r.manifest.NetworksFor(services),
	}
	return r.tearDown(ctx, run, report, sc)
}

// TearDownAll removes every project container, including always-active
// services and containers of services no longer in the manifest, and every
// project network.
func (r *Reaper) TearDownAll(ctx context.Context) (*Report, error) {
	run := domain.NewRun(domain.OperationDownAll, r.cfg.Project, "")
	r.createRun(ctx, run)
	r.transition(ctx, run, domain.RunResolving)

	services := r.manifest.ServiceNames()
	report := &Report{RunID: run.ID, Project: r.cfg.Project, Services: services}

	keys := r.manifest.NetworksFor(services)
	for _, n := range r.manifest.Networks {
		if !slices.Contains(keys, n.Key) {
			keys = append(keys, n.Key)
		}
	}
	sc := scope{
		services:    services,
		networkKeys: keys,
		allNetworks: true,
	}
	return r.tearDown(ctx, run, report, sc)
}

func (r *Reaper) tearDown(ctx context.Context, run *domain.Run, report *Report, sc scope) (*Report, error) {
	project := r.cfg.Project
	logger := r.logger.With("profile", report.Profile)
	r.transition(ctx, run, domain.RunTearingDown)

	initial, err := r.inv.Containers(ctx, project, sc.query)
	if err != nil {
		return report, r.fail(ctx, run, fmt.Errorf("list containers: %w", err))
	}

	seen := newTracked()
	seen.add(initial)
	logger.Info("tearing down", "services", sc.services, "containers", len(initial))

	if len(initial) > 0 {
		if err := r.backend.Stop(ctx, sc.services, r.cfg.StopTimeout); err != nil {
			logger.Warn("backend stop failed, continuing", "error", err)
		}
		if err := r.backend.Remove(ctx, sc.services, compose.RemoveOptions{Force: true, Stop: true}); err != nil {
			logger.Warn("backend remove failed, continuing", "error", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return report, r.fail(ctx, run, err)
	}

	leftovers, err := r.reconcile(ctx, report, sc, seen)
	if err != nil {
		return report, r.fail(ctx, run, err)
	}

	for id, name := range seen.names {
		if !slices.ContainsFunc(leftovers, func(c domain.ContainerRecord) bool { return c.ID == id }) {
			report.Containers = append(report.Containers, name)
		}
	}
	sort.Strings(report.Containers)
	for _, c := range leftovers {
		report.warn(PartialCleanupWarning, "container", c.Name, fmt.Sprintf("still present (%s)", c.State))
	}

	r.removeVolumes(ctx, report, sc, seen.volumes)
	r.removeNetworks(ctx, report, sc)

	var events []domain.RunEvent
	add := func(t domain.EventType, names []string) {
		for _, name := range names {
			events = append(events, domain.NewRunEvent(run.ID, t, "", monitoring.EventMessage(t, name)))
		}
	}
	add(domain.EventPodRemoved, report.Pods)
	add(domain.EventContainerRemoved, report.Containers)
	add(domain.EventVolumeRemoved, report.Volumes)
	add(domain.EventNetworkRemoved, report.Networks)
	for _, w := range report.Warnings {
		logger.Warn("cleanup warning", "kind", string(w.Kind), "resource", w.Resource, "name", w.Name, "message", w.Message)
		events = append(events, domain.NewRunEvent(run.ID, domain.EventCleanupWarning, "", w.String()))
	}

	var final domain.RunStatus
	switch {
	case report.Removed() == 0 && len(report.Warnings) == 0:
		report.NothingToDo = true
		logger.Info("nothing to remove")
		final = domain.RunNothingToDo
	case len(report.Warnings) > 0:
		final = domain.RunPartial
	default:
		logger.Info("teardown complete", "containers", len(report.Containers), "pods", len(report.Pods), "volumes", len(report.Volumes), "networks", len(report.Networks))
		final = domain.RunSucceeded
	}
	r.finish(ctx, run, final, events)
	return report, nil
}

// tracked is every container a teardown has seen, by id, and the named
// volumes they mounted.
type tracked struct {
	names   map[string]string
	volumes []string
}

func newTracked() *tracked {
	return &tracked{names: make(map[string]string)}
}

func (t *tracked) add(containers []domain.ContainerRecord) {
	for _, c := range containers {
		t.names[c.ID] = c.Name
		for _, v := range c.Volumes {
			if !slices.Contains(t.volumes, v) {
				t.volumes = append(t.volumes, v)
			}
		}
	}
}

// =============================================================================
// Containers
// =============================================================================

// reconcile re-queries the project through every label scheme and removes
// what the backend left behind, up to MaxPasses times. It returns the
// containers still present afterwards.
func (r *Reaper) reconcile(ctx context.Context, report *Report, sc scope, seen *tracked) ([]domain.ContainerRecord, error) {
	project := r.cfg.Project
	client := r.inv.Client()
	for pass := 1; pass <= r.cfg.MaxPasses; pass++ {
		remaining, err := r.inv.Containers(ctx, project, sc.query)
		if err != nil {
			return nil, fmt.Errorf("list containers: %w", err)
		}
		if len(remaining) == 0 {
			return nil, nil
		}
		r.logger.Info("removing leftover containers", "pass", pass, "count", len(remaining))
		seen.add(remaining)

		removedPods := r.removePods(ctx, report, sc, remaining)
		for _, c := range remaining {
			if c.Pod != "" && slices.Contains(removedPods, c.Pod) {
				continue
			}
			if c.State == domain.StateRunning {
				timeout := r.cfg.StopTimeout
				if err := client.StopContainer(ctx, c.ID, &timeout); err != nil && !errors.Is(err, engine.ErrContainerNotFound) {
					r.logger.Debug("container stop failed, forcing removal", "container_id", c.ShortID(), "error", err)
				}
			}
			if err := r.removeContainer(ctx, c.ID, 0); err != nil {
				r.logger.Warn("container removal failed", "container_id", c.ShortID(), "service", c.Service, "error", err)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	remaining, err := r.inv.Containers(ctx, project, sc.query)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	return remaining, nil
}

// removePods removes pods holding the given containers when every workload
// member is inside the teardown scope. Other pods are left alone and their
// in-scope members are removed one by one. It returns the ids of removed pods.
func (r *Reaper) removePods(ctx context.Context, report *Report, sc scope, containers []domain.ContainerRecord) []string {
	pods, err := r.inv.ProjectPods(ctx, containers)
	if err != nil {
		r.logger.Warn("pod listing failed", "error", err)
		return nil
	}

	var removed []string
	for _, pod := range pods {
		if !r.podOwned(ctx, pod, sc) {
			r.logger.Info("pod holds containers outside this teardown, removing members individually", "pod", pod.Name)
			continue
		}
		if err := r.inv.Pods().RemovePod(ctx, pod.ID); err != nil && !errors.Is(err, engine.ErrPodNotFound) {
			r.logger.Warn("pod removal failed", "pod", pod.Name, "error", err)
			continue
		}
		removed = append(removed, pod.ID)
		report.Pods = append(report.Pods, pod.Name)
	}
	return removed
}

// podOwned reports whether every live workload member of pod may be
// removed: it belongs to the project and, for a profile teardown, to one of
// the profile's services.
func (r *Reaper) podOwned(ctx context.Context, pod domain.PodRecord, sc scope) bool {
	for _, id := range pod.Workload() {
		c, err := r.inv.Client().InspectContainer(ctx, id)
		if errors.Is(err, engine.ErrContainerNotFound) {
			continue
		}
		if err != nil || !c.BelongsTo(r.cfg.Project) {
			return false
		}
		if sc.query != nil && !slices.Contains(sc.services, c.Service) {
			return false
		}
	}
	return true
}

// removeContainer force-removes id. When dependents block the removal they
// are removed first, provided they belong to the project.
func (r *Reaper) removeContainer(ctx context.Context, id string, depth int) error {
	client := r.inv.Client()
	err := client.RemoveContainer(ctx, id, engine.RemoveOptions{Force: true})
	if err == nil || errors.Is(err, engine.ErrContainerNotFound) {
		return nil
	}

	var derr *engine.DependentsError
	if !errors.As(err, &derr) {
		if errors.Is(err, engine.ErrContainerInPod) {
			return fmt.Errorf("%w: %v", ErrRemovalConflict, err)
		}
		return err
	}
	if depth >= maxDependentDepth {
		return fmt.Errorf("%w: container %s: dependents nested too deep", ErrRemovalConflict, id)
	}

	for _, dep := range derr.Dependents {
		c, ierr := client.InspectContainer(ctx, dep)
		if errors.Is(ierr, engine.ErrContainerNotFound) {
			continue
		}
		if ierr != nil {
			return ierr
		}
		if !c.BelongsTo(r.cfg.Project) {
			return fmt.Errorf("%w: container %s is required by %s outside project %s", ErrRemovalConflict, id, c.Name, r.cfg.Project)
		}
		r.logger.Debug("removing dependent first", "container_id", c.ShortID(), "service", c.Service, "depth", depth+1)
		if err := r.removeContainer(ctx, c.ID, depth+1); err != nil {
			return err
		}
	}

	err = client.RemoveContainer(ctx, id, engine.RemoveOptions{Force: true})
	if err == nil || errors.Is(err, engine.ErrContainerNotFound) {
		return nil
	}
	return err
}

// =============================================================================
// Volumes and Networks
// =============================================================================

func (r *Reaper) removeVolumes(ctx context.Context, report *Report, sc scope, attached []string) {
	project := r.cfg.Project
	external := r.manifest.ExternalVolumeNames()

	candidates := slices.Clone(attached)
	for _, key := range r.manifest.VolumesFor(sc.services) {
		if decl, ok := r.manifest.Volume(key); ok && decl.External {
			continue
		}
		name := plan.DeclaredVolumeName(project, r.manifest, key)
		if !slices.Contains(candidates, name) {
			candidates = append(candidates, name)
		}
	}
	sort.Strings(candidates)

	client := r.inv.Client()
	for _, name := range candidates {
		if slices.Contains(external, name) {
			continue
		}
		v, err := r.inv.Volume(ctx, name)
		if err != nil {
			report.warn(RemovalFailedWarning, "volume", name, err.Error())
			continue
		}
		if v == nil {
			continue
		}
		if !inventory.OwnsVolume(project, *v) {
			r.logger.Debug("volume not owned by project, skipping", "volume", name)
			continue
		}

		err = client.RemoveVolume(ctx, name, false)
		switch {
		case err == nil:
			report.Volumes = append(report.Volumes, name)
		case errors.Is(err, engine.ErrVolumeNotFound):
		case errors.Is(err, engine.ErrVolumeInUse):
			report.warn(InUseWarning, "volume", name, "still mounted by another container")
		default:
			report.warn(RemovalFailedWarning, "volume", name, err.Error())
		}
	}
}

func (r *Reaper) removeNetworks(ctx context.Context, report *Report, sc scope) {
	project := r.cfg.Project
	external := r.manifest.ExternalNetworkNames()

	var candidates []string
	for _, key := range sc.networkKeys {
		if decl, ok := r.manifest.Network(key); ok && decl.External {
			continue
		}
		candidates = append(candidates, plan.DeclaredNetworkName(project, r.manifest, key))
	}
	if sc.allNetworks {
		labelled, err := r.inv.Networks(ctx, project)
		if err != nil {
			r.logger.Warn("network listing failed", "error", err)
		}
		for _, n := range labelled {
			candidates = append(candidates, n.Name)
		}
	}
	slices.Sort(candidates)
	candidates = slices.Compact(candidates)

	client := r.inv.Client()
	for _, name := range candidates {
		if slices.Contains(external, name) {
			continue
		}
		n, err := r.inv.Network(ctx, name)
		if err != nil {
			report.warn(RemovalFailedWarning, "network", name, err.Error())
			continue
		}
		if n == nil || n.External || !inventory.OwnsNetwork(project, *n) {
			continue
		}
		if n.InUse() {
			r.logger.Debug("network still in use, keeping", "network", name, "members", len(n.Containers))
			continue
		}

		err = client.RemoveNetwork(ctx, n.ID)
		switch {
		case err == nil:
			report.Networks = append(report.Networks, name)
		case errors.Is(err, engine.ErrNetworkNotFound), errors.Is(err, engine.ErrNetworkInUse):
		default:
			report.warn(RemovalFailedWarning, "network", name, err.Error())
		}
	}
}

// =============================================================================
// Journal
// =============================================================================

func (r *Reaper) createRun(ctx context.Context, run *domain.Run) {
	if err := r.journal.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("journal unavailable", "error", err)
	}
}

func (r *Reaper) transition(ctx context.Context, run *domain.Run, to domain.RunStatus) {
	if err := run.Transition(to); err != nil {
		return
	}
	if err := r.journal.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Debug("journal update failed", "error", err)
	}
}

func (r *Reaper) fail(ctx context.Context, run *domain.Run, err error) error {
	msg := err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "interrupted"
	}
	if run.Fail(msg) == nil {
		if jerr := r.journal.UpdateRun(context.WithoutCancel(ctx), run); jerr != nil {
			r.logger.Debug("journal update failed", "error", jerr)
		}
	}
	r.logger.Error("teardown failed", "profile", run.Profile, "error", err)
	return err
}

// finish moves run to its final status and journals it together with the
// teardown's events.
func (r *Reaper) finish(ctx context.Context, run *domain.Run, to domain.RunStatus, events []domain.RunEvent) {
	if err := run.Transition(to); err != nil {
		r.logger.Debug("run transition rejected", "from", string(run.Status), "to", string(to), "error", err)
	}
	if err := store.Commit(context.WithoutCancel(ctx), r.journal, run, events); err != nil {
		r.logger.Debug("journal update failed", "error", err)
	}
}
