// Package fakeengine is an in-memory container engine and compose backend
// for tests. Containers advance through their lifecycle each time they are
// observed, so readiness polling converges without real time passing.
package fakeengine

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/labels"
	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/shell/compose"
	"github.com/artpar/stackctl/internal/shell/engine"
)

// Behavior scripts how a service's containers evolve.
type Behavior struct {
	// Exits makes the container exit with ExitCode after ExitAfter observations.
	Exits     bool
	ExitCode  int
	ExitAfter int
	// Healthcheck gives the container a health state that turns healthy after
	// HealthyAfter observations, or never with NeverHealthy.
	Healthcheck  bool
	HealthyAfter int
	NeverHealthy bool
	Logs         string
}

type fakeContainer struct {
	rec      domain.ContainerRecord
	behavior Behavior
	observed int
}

// Engine implements engine.Client and engine.PodManager in memory.
type Engine struct {
	mu sync.Mutex

	project  string
	manifest *manifest.Manifest
	scheme   labels.Scheme

	containers []*fakeContainer
	volumes    map[string]*domain.VolumeRecord
	networks   map[string]*domain.NetworkRecord
	pods       map[string]*domain.PodRecord
	behaviors  map[string]Behavior
	blockers   map[string][]string

	podsEnabled bool
	podLocked   bool
	down        bool
	bulkErr     func(services []string, opts compose.UpOptions) error

	seq      int
	timeline []string
	calls    []string
}

// New creates an empty engine for project whose compose backend creates
// resources from m.
func New(project string, m *manifest.Manifest) *Engine {
	return &Engine{
		project:   project,
		manifest:  m,
		scheme:    labels.Docker,
		volumes:   make(map[string]*domain.VolumeRecord),
		networks:  make(map[string]*domain.NetworkRecord),
		pods:      make(map[string]*domain.PodRecord),
		behaviors: make(map[string]Behavior),
		blockers:  make(map[string][]string),
	}
}

// =============================================================================
// Test Setup
// =============================================================================

// UseScheme makes the backend label resources with scheme.
func (e *Engine) UseScheme(s labels.Scheme) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheme = s
	return e
}

// EnablePods groups every container the backend creates into one project pod.
// With locked, pod members cannot be removed individually.
func (e *Engine) EnablePods(locked bool) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.podsEnabled = true
	e.podLocked = locked
	return e
}

// Disconnect makes every later engine query fail as if the daemon had gone
// away.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.down = true
}

// SetBehavior scripts a service.
func (e *Engine) SetBehavior(service string, b Behavior) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.behaviors[service] = b
	return e
}

// FailBulk makes Up return the error fn produces, if any.
func (e *Engine) FailBulk(fn func(services []string, opts compose.UpOptions) error) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bulkErr = fn
	return e
}

// AddNetwork registers a network that exists outside any bring-up.
func (e *Engine) AddNetwork(n domain.NetworkRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n.ID == "" {
		n.ID = "net-" + n.Name
	}
	e.networks[n.Name] = &n
}

// AddVolume registers a volume that exists outside any bring-up.
func (e *Engine) AddVolume(v domain.VolumeRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volumes[v.Name] = &v
}

// AddContainer registers a container directly. Its network memberships are
// recorded on existing networks.
func (e *Engine) AddContainer(rec domain.ContainerRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec.ID == "" {
		rec.ID = e.nextID()
	}
	for _, n := range rec.Networks {
		if net, ok := e.networks[n]; ok {
			net.Containers = append(net.Containers, rec.ID)
		}
	}
	e.containers = append(e.containers, &fakeContainer{rec: rec})
}

// Block makes removal of id fail while any of dependents still exists.
func (e *Engine) Block(id string, dependents ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blockers[id] = dependents
}

// Timeline returns lifecycle transitions in the order they happened, e.g.
// "start:db", "healthy:db", "exit:init:0".
func (e *Engine) Timeline() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.timeline)
}

// Calls returns backend invocations, e.g. "up --no-deps a b".
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

// Snapshot returns every container, volume and network name currently present.
func (e *Engine) Snapshot() (containers, volumes, networks []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.containers {
		containers = append(containers, c.rec.Name)
	}
	for name := range e.volumes {
		volumes = append(volumes, name)
	}
	for name := range e.networks {
		networks = append(networks, name)
	}
	sort.Strings(containers)
	sort.Strings(volumes)
	sort.Strings(networks)
	return containers, volumes, networks
}

// PodCount returns the number of pods.
func (e *Engine) PodCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pods)
}

// Backend returns a compose backend that mutates this engine.
func (e *Engine) Backend() *Backend {
	return &Backend{e: e}
}

// =============================================================================
// engine.Client
// =============================================================================

var _ engine.Client = (*Engine)(nil)
var _ engine.PodManager = (*Engine)(nil)

func (e *Engine) Ping(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unreachable("Ping")
}

func (e *Engine) Close() error { return nil }

func (e *Engine) unreachable(op string) error {
	if !e.down {
		return nil
	}
	return engine.NewEngineError(op, "", "", "cannot connect to the engine", engine.ErrConnectionFailed)
}

func (e *Engine) ListContainers(_ context.Context, opts engine.ListOptions) ([]domain.ContainerRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.unreachable("ListContainers"); err != nil {
		return nil, err
	}

	var out []domain.ContainerRecord
	for _, c := range e.containers {
		if !matchesLabels(c.rec.Labels, opts.Labels) {
			continue
		}
		if opts.Volume != "" && !slices.Contains(c.rec.Volumes, opts.Volume) {
			continue
		}
		if opts.Name != "" && !strings.Contains(c.rec.Name, opts.Name) {
			continue
		}
		e.observe(c)
		if !opts.All && c.rec.State != domain.StateRunning {
			continue
		}
		out = append(out, e.copyRecord(c))
	}
	return out, nil
}

func (e *Engine) InspectContainer(_ context.Context, id string) (*domain.ContainerRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.unreachable("InspectContainer"); err != nil {
		return nil, err
	}

	c := e.find(id)
	if c == nil {
		return nil, engine.NewEngineError("InspectContainer", "container", id, "container not found", engine.ErrContainerNotFound)
	}
	e.observe(c)
	rec := e.copyRecord(c)
	return &rec, nil
}

func (e *Engine) StopContainer(_ context.Context, id string, _ *time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.find(id)
	if c == nil {
		return engine.NewEngineError("StopContainer", "container", id, "container not found", engine.ErrContainerNotFound)
	}
	stop(c)
	return nil
}

func (e *Engine) RemoveContainer(_ context.Context, id string, _ engine.RemoveOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeContainer(id)
}

func (e *Engine) ContainerLogs(_ context.Context, id string, _ engine.LogOptions) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.find(id)
	if c == nil {
		return nil, engine.NewEngineError("ContainerLogs", "container", id, "container not found", engine.ErrContainerNotFound)
	}
	return io.NopCloser(strings.NewReader(c.behavior.Logs)), nil
}

func (e *Engine) LogTail(_ context.Context, id string, lines int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.find(id)
	if c == nil {
		return "", engine.NewEngineError("LogTail", "container", id, "container not found", engine.ErrContainerNotFound)
	}
	all := strings.Split(strings.TrimRight(c.behavior.Logs, "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n"), nil
}

func (e *Engine) ListVolumes(_ context.Context, filters []string) ([]domain.VolumeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.VolumeRecord
	for _, v := range e.volumes {
		if matchesLabels(v.Labels, filters) {
			out = append(out, e.volumeWithUsers(v))
		}
	}
	return out, nil
}

func (e *Engine) InspectVolume(_ context.Context, name string) (*domain.VolumeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.volumes[name]
	if !ok {
		return nil, engine.NewEngineError("InspectVolume", "volume", name, "volume not found", engine.ErrVolumeNotFound)
	}
	rec := e.volumeWithUsers(v)
	return &rec, nil
}

func (e *Engine) RemoveVolume(_ context.Context, name string, _ bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.volumes[name]
	if !ok {
		return engine.NewEngineError("RemoveVolume", "volume", name, "volume not found", engine.ErrVolumeNotFound)
	}
	if len(e.volumeWithUsers(v).Containers) > 0 {
		return engine.NewEngineError("RemoveVolume", "volume", name, "volume is in use", engine.ErrVolumeInUse)
	}
	delete(e.volumes, name)
	return nil
}

func (e *Engine) ListNetworks(_ context.Context, filters []string) ([]domain.NetworkRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.NetworkRecord
	for _, n := range e.networks {
		if matchesLabels(n.Labels, filters) {
			out = append(out, copyNetwork(n))
		}
	}
	return out, nil
}

func (e *Engine) InspectNetwork(_ context.Context, nameOrID string) (*domain.NetworkRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.findNetwork(nameOrID)
	if n == nil {
		return nil, engine.NewEngineError("InspectNetwork", "network", nameOrID, "network not found", engine.ErrNetworkNotFound)
	}
	rec := copyNetwork(n)
	return &rec, nil
}

func (e *Engine) RemoveNetwork(_ context.Context, nameOrID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.findNetwork(nameOrID)
	if n == nil {
		return engine.NewEngineError("RemoveNetwork", "network", nameOrID, "network not found", engine.ErrNetworkNotFound)
	}
	if len(n.Containers) > 0 {
		return engine.NewEngineError("RemoveNetwork", "network", nameOrID, "network has active endpoints", engine.ErrNetworkInUse)
	}
	delete(e.networks, n.Name)
	return nil
}

// =============================================================================
// engine.PodManager
// =============================================================================

func (e *Engine) Available(context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.podsEnabled
}

func (e *Engine) ListPods(context.Context) ([]domain.PodRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.PodRecord
	for _, p := range e.pods {
		cp := *p
		cp.Containers = slices.Clone(p.Containers)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (e *Engine) RemovePod(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pods[id]
	if !ok {
		return engine.NewEngineError("RemovePod", "pod", id, "pod not found", engine.ErrPodNotFound)
	}
	delete(e.pods, id)
	for _, cid := range p.Containers {
		e.dropContainer(cid)
	}
	return nil
}

// =============================================================================
// Internals (callers hold e.mu)
// =============================================================================

func (e *Engine) nextID() string {
	e.seq++
	return fmt.Sprintf("%012x%052d", e.seq, 0)
}

func (e *Engine) find(id string) *fakeContainer {
	for _, c := range e.containers {
		if c.rec.ID == id || c.rec.Name == id || (len(id) >= 12 && strings.HasPrefix(c.rec.ID, id)) {
			return c
		}
	}
	return nil
}

func (e *Engine) findNetwork(nameOrID string) *domain.NetworkRecord {
	if n, ok := e.networks[nameOrID]; ok {
		return n
	}
	for _, n := range e.networks {
		if n.ID == nameOrID {
			return n
		}
	}
	return nil
}

// observe advances a running container according to its behavior.
func (e *Engine) observe(c *fakeContainer) {
	if c.rec.State != domain.StateRunning {
		return
	}
	c.observed++
	b := c.behavior
	if b.Healthcheck && !b.NeverHealthy && c.rec.Health != domain.HealthHealthy && c.observed >= b.HealthyAfter {
		c.rec.Health = domain.HealthHealthy
		e.timeline = append(e.timeline, "healthy:"+c.rec.Service)
	}
	if b.Exits && c.observed >= b.ExitAfter {
		code := b.ExitCode
		c.rec.State = domain.StateExited
		c.rec.ExitCode = &code
		e.timeline = append(e.timeline, fmt.Sprintf("exit:%s:%d", c.rec.Service, code))
	}
}

func (e *Engine) copyRecord(c *fakeContainer) domain.ContainerRecord {
	rec := c.rec
	rec.Volumes = slices.Clone(c.rec.Volumes)
	rec.Networks = slices.Clone(c.rec.Networks)
	if c.rec.ExitCode != nil {
		code := *c.rec.ExitCode
		rec.ExitCode = &code
	}
	return rec
}

func (e *Engine) volumeWithUsers(v *domain.VolumeRecord) domain.VolumeRecord {
	rec := *v
	rec.Containers = nil
	for _, c := range e.containers {
		if slices.Contains(c.rec.Volumes, v.Name) {
			rec.Containers = append(rec.Containers, c.rec.ID)
		}
	}
	return rec
}

func copyNetwork(n *domain.NetworkRecord) domain.NetworkRecord {
	rec := *n
	rec.Containers = slices.Clone(n.Containers)
	return rec
}

func stop(c *fakeContainer) {
	if c.rec.State == domain.StateRunning {
		code := 0
		c.rec.State = domain.StateExited
		c.rec.ExitCode = &code
	}
}

func (e *Engine) removeContainer(id string) error {
	c := e.find(id)
	if c == nil {
		return engine.NewEngineError("RemoveContainer", "container", id, "container not found", engine.ErrContainerNotFound)
	}
	if deps := e.liveBlockers(c.rec.ID); len(deps) > 0 {
		return &engine.DependentsError{ContainerID: c.rec.ID, Dependents: deps}
	}
	if c.rec.Pod != "" && e.podLocked {
		if _, ok := e.pods[c.rec.Pod]; ok {
			return engine.NewEngineError("RemoveContainer", "container", c.rec.ID, "container is part of pod "+c.rec.Pod, engine.ErrContainerInPod)
		}
	}
	e.dropContainer(c.rec.ID)
	return nil
}

func (e *Engine) liveBlockers(id string) []string {
	var out []string
	for _, dep := range e.blockers[id] {
		if e.find(dep) != nil {
			out = append(out, dep)
		}
	}
	return out
}

func (e *Engine) dropContainer(id string) {
	e.containers = slices.DeleteFunc(e.containers, func(c *fakeContainer) bool { return c.rec.ID == id })
	for _, n := range e.networks {
		n.Containers = slices.DeleteFunc(n.Containers, func(cid string) bool { return cid == id })
	}
	for _, p := range e.pods {
		p.Containers = slices.DeleteFunc(p.Containers, func(cid string) bool { return cid == id })
	}
}

func matchesLabels(l map[string]string, filters []string) bool {
	for _, f := range filters {
		k, v, _ := strings.Cut(f, "=")
		if l[k] != v {
			return false
		}
	}
	return true
}
