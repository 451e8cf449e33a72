package fakeengine

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/core/plan"
	"github.com/artpar/stackctl/internal/shell/compose"
)

// Backend implements compose.Backend against an Engine.
type Backend struct {
	e *Engine
}

var _ compose.Backend = (*Backend)(nil)

func (b *Backend) Name() string                               { return "fake compose" }
func (b *Backend) SupportsProfileFilter(context.Context) bool { return true }

func (b *Backend) ListServices(_ context.Context, profile string) ([]string, error) {
	return b.e.manifest.ProfileServiceNames(profile), nil
}

// Up creates containers for services. Without NoDeps the services'
// dependencies are started as well, the way compose does.
func (b *Backend) Up(_ context.Context, services []string, opts compose.UpOptions) error {
	if len(services) == 0 {
		return nil
	}

	e := b.e
	e.mu.Lock()
	defer e.mu.Unlock()

	call := "up"
	if opts.NoDeps {
		call += " --no-deps"
	}
	e.calls = append(e.calls, call+" "+strings.Join(services, " "))

	if e.bulkErr != nil {
		if err := e.bulkErr(services, opts); err != nil {
			return err
		}
	}

	targets := services
	if !opts.NoDeps {
		targets = e.withDependencies(services)
	}
	for _, name := range targets {
		svc, ok := e.manifest.Service(name)
		if !ok {
			return fmt.Errorf("no such service: %s", name)
		}
		if !opts.ForceRecreate && e.hasRunning(name) {
			continue
		}
		e.removeService(name)
		e.createContainer(svc)
	}
	return nil
}

func (b *Backend) Stop(_ context.Context, services []string, _ time.Duration) error {
	if len(services) == 0 {
		return nil
	}

	e := b.e
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, "stop "+strings.Join(services, " "))
	for _, c := range e.containers {
		if e.owned(c) && slices.Contains(services, c.rec.Service) {
			stop(c)
		}
	}
	return nil
}

// Remove removes the services' containers. Containers that cannot be removed
// individually are left behind and reported as a failure.
func (b *Backend) Remove(_ context.Context, services []string, _ compose.RemoveOptions) error {
	if len(services) == 0 {
		return nil
	}

	e := b.e
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, "rm "+strings.Join(services, " "))
	var ids []string
	for _, c := range e.containers {
		if e.owned(c) && slices.Contains(services, c.rec.Service) {
			ids = append(ids, c.rec.ID)
		}
	}

	var failed []string
	for _, id := range ids {
		if err := e.removeContainer(id); err != nil {
			failed = append(failed, err.Error())
		}
	}
	if len(failed) > 0 {
		return compose.NewBackendError("Remove", "fake compose rm", 1, strings.Join(failed, "\n"), compose.ErrCommandFailed)
	}
	return nil
}

func (b *Backend) Build(_ context.Context, services []string, noCache bool) error {
	if len(services) == 0 {
		return nil
	}
	b.e.mu.Lock()
	defer b.e.mu.Unlock()

	call := "build"
	if noCache {
		call += " --no-cache"
	}
	b.e.calls = append(b.e.calls, call+" "+strings.Join(services, " "))
	return nil
}

func (b *Backend) Logs(_ context.Context, opts compose.LogsOptions, w io.Writer) error {
	e := b.e
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range e.containers {
		if !e.owned(c) || (len(opts.Services) > 0 && !slices.Contains(opts.Services, c.rec.Service)) {
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(c.behavior.Logs, "\n"), "\n") {
			if line == "" {
				continue
			}
			if _, err := fmt.Fprintf(w, "%s  | %s\n", c.rec.Service, line); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// Internals (callers hold e.mu)
// =============================================================================

func (e *Engine) owned(c *fakeContainer) bool {
	return c.rec.Labels[e.scheme.ProjectKey()] == e.project
}

func (e *Engine) hasRunning(service string) bool {
	for _, c := range e.containers {
		if e.owned(c) && c.rec.Service == service && c.rec.State == domain.StateRunning {
			return true
		}
	}
	return false
}

func (e *Engine) removeService(service string) {
	var ids []string
	for _, c := range e.containers {
		if e.owned(c) && c.rec.Service == service {
			ids = append(ids, c.rec.ID)
		}
	}
	for _, id := range ids {
		e.dropContainer(id)
	}
}

func (e *Engine) withDependencies(services []string) []string {
	var out []string
	var visit func(string)
	visit = func(name string) {
		if slices.Contains(out, name) {
			return
		}
		if svc, ok := e.manifest.Service(name); ok {
			for _, d := range svc.DependsOn {
				visit(d.Service)
			}
		}
		out = append(out, name)
	}
	for _, s := range services {
		visit(s)
	}
	return out
}

func (e *Engine) createContainer(svc manifest.Service) {
	id := e.nextID()
	lbls := map[string]string{
		e.scheme.ProjectKey(): e.project,
		e.scheme.ServiceKey(): svc.Name,
	}
	for k, v := range svc.Labels {
		lbls[k] = v
	}

	b := e.behaviors[svc.Name]
	if svc.HasHealthcheck {
		b.Healthcheck = true
	}
	health := domain.HealthNone
	if b.Healthcheck {
		health = domain.HealthStarting
	}

	rec := domain.ContainerRecord{
		ID:      id,
		Name:    fmt.Sprintf("%s_%s_1", e.project, svc.Name),
		Project: e.project,
		Service: svc.Name,
		State:   domain.StateRunning,
		Health:  health,
		Labels:  lbls,
	}

	for _, key := range svc.Volumes {
		name := plan.DeclaredVolumeName(e.project, e.manifest, key)
		if decl, ok := e.manifest.Volume(key); ok && decl.External {
			name = key
			if decl.Name != "" {
				name = decl.Name
			}
		} else if _, exists := e.volumes[name]; !exists {
			e.volumes[name] = &domain.VolumeRecord{
				Name:    name,
				Project: e.project,
				Labels:  map[string]string{e.scheme.ProjectKey(): e.project},
			}
		}
		rec.Volumes = append(rec.Volumes, name)
	}

	for _, key := range svc.NetworkNames() {
		name := plan.DeclaredNetworkName(e.project, e.manifest, key)
		if decl, ok := e.manifest.Network(key); ok && decl.External {
			name = key
			if decl.Name != "" {
				name = decl.Name
			}
		}
		n, exists := e.networks[name]
		if !exists {
			n = &domain.NetworkRecord{
				ID:      "net-" + name,
				Name:    name,
				Project: e.project,
				Labels:  map[string]string{e.scheme.ProjectKey(): e.project},
			}
			e.networks[name] = n
		}
		n.Containers = append(n.Containers, id)
		rec.Networks = append(rec.Networks, name)
	}

	if e.podsEnabled {
		podID := "pod_" + e.project
		p, ok := e.pods[podID]
		if !ok {
			p = &domain.PodRecord{ID: podID, Name: podID, Project: e.project}
			e.pods[podID] = p
		}
		p.Containers = append(p.Containers, id)
		rec.Pod = podID
	}

	e.containers = append(e.containers, &fakeContainer{rec: rec, behavior: b})
	e.timeline = append(e.timeline, "start:"+svc.Name)
}
