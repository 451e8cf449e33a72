// Package inventory discovers the engine resources that belong to a compose
// project. Every query runs once per label scheme and the results are merged,
// so callers never branch on which backend created a resource.
package inventory

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/labels"
	"github.com/artpar/stackctl/internal/core/plan"
	"github.com/artpar/stackctl/internal/shell/engine"
)

// =============================================================================
// Query Strategy
// =============================================================================

// Query finds project resources under one label scheme.
type Query interface {
	Scheme() labels.Scheme
	Containers(ctx context.Context, project, service string) ([]domain.ContainerRecord, error)
	Volumes(ctx context.Context, project string) ([]domain.VolumeRecord, error)
	Networks(ctx context.Context, project string) ([]domain.NetworkRecord, error)
}

type labelQuery struct {
	scheme labels.Scheme
	client engine.Client
}

// NewLabelQuery returns a Query that filters by the labels of scheme.
func NewLabelQuery(scheme labels.Scheme, client engine.Client) Query {
	return &labelQuery{scheme: scheme, client: client}
}

func (q *labelQuery) Scheme() labels.Scheme { return q.scheme }

func (q *labelQuery) Containers(ctx context.Context, project, service string) ([]domain.ContainerRecord, error) {
	filters := []string{labels.ProjectFilter(q.scheme, project)}
	if service != "" {
		filters = append(filters, labels.ServiceFilter(q.scheme, service))
	}
	return q.client.ListContainers(ctx, engine.ListOptions{All: true, Labels: filters})
}

func (q *labelQuery) Volumes(ctx context.Context, project string) ([]domain.VolumeRecord, error) {
	return q.client.ListVolumes(ctx, []string{labels.ProjectFilter(q.scheme, project)})
}

func (q *labelQuery) Networks(ctx context.Context, project string) ([]domain.NetworkRecord, error) {
	return q.client.ListNetworks(ctx, []string{labels.ProjectFilter(q.scheme, project)})
}

// =============================================================================
// Inventory
// =============================================================================

// Inventory merges every label scheme's view of a project.
type Inventory struct {
	client  engine.Client
	pods    engine.PodManager
	queries []Query
	logger  *slog.Logger
}

// New creates an inventory that queries every known label scheme.
// A nil pods manager means the engine has no pods.
func New(client engine.Client, pods engine.PodManager, logger *slog.Logger) *Inventory {
	if logger == nil {
		logger = slog.Default()
	}
	if pods == nil {
		pods = engine.NoPods{}
	}

	inv := &Inventory{client: client, pods: pods, logger: logger}
	for _, s := range labels.All() {
		inv.queries = append(inv.queries, NewLabelQuery(s, client))
	}
	return inv
}

// Client returns the underlying engine client.
func (inv *Inventory) Client() engine.Client {
	return inv.client
}

// Pods returns the pod manager.
func (inv *Inventory) Pods() engine.PodManager {
	return inv.pods
}

// Containers returns the project's containers for the given services, or
// every project container when services is empty. Results are merged by id,
// annotated with pod membership and sorted by name. A record whose reconciled
// project differs from project is dropped.
func (inv *Inventory) Containers(ctx context.Context, project string, services []string) ([]domain.ContainerRecord, error) {
	if project == "" {
		return nil, nil
	}

	targets := services
	if len(targets) == 0 {
		targets = []string{""}
	}

	byID := make(map[string]domain.ContainerRecord)
	var errs []error
	succeeded := false
	for _, q := range inv.queries {
		for _, svc := range targets {
			found, err := q.Containers(ctx, project, svc)
			if err != nil {
				inv.logger.Warn("container query failed", "scheme", q.Scheme().Name(), "service", svc, "error", err)
				errs = append(errs, err)
				continue
			}
			succeeded = true
			for _, c := range found {
				if !c.BelongsTo(project) {
					continue
				}
				if _, seen := byID[c.ID]; !seen {
					byID[c.ID] = c
				}
			}
		}
	}
	if !succeeded && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	result := make([]domain.ContainerRecord, 0, len(byID))
	for _, c := range byID {
		result = append(result, c)
	}
	inv.annotatePods(ctx, result)
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ServiceContainers returns one service's containers in the project,
// leaving out one-off "compose run" containers.
func (inv *Inventory) ServiceContainers(ctx context.Context, project, service string) ([]domain.ContainerRecord, error) {
	all, err := inv.Containers(ctx, project, []string{service})
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if !labels.IsOneOff(c.Labels) {
			out = append(out, c)
		}
	}
	return out, nil
}

// annotatePods fills ContainerRecord.Pod. Pod listing failures leave the
// records unannotated.
func (inv *Inventory) annotatePods(ctx context.Context, containers []domain.ContainerRecord) {
	if len(containers) == 0 {
		return
	}
	pods, err := inv.pods.ListPods(ctx)
	if err != nil {
		inv.logger.Debug("pod listing failed", "error", err)
		return
	}
	member := make(map[string]string)
	for _, p := range pods {
		for _, id := range p.Containers {
			member[id] = p.ID
		}
	}
	for i := range containers {
		if pod, ok := member[containers[i].ID]; ok {
			containers[i].Pod = pod
		}
	}
}

// ProjectPods returns pods that contain at least one of the given containers.
func (inv *Inventory) ProjectPods(ctx context.Context, containers []domain.ContainerRecord) ([]domain.PodRecord, error) {
	wanted := make(map[string]bool)
	for _, c := range containers {
		if c.Pod != "" {
			wanted[c.Pod] = true
		}
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	pods, err := inv.pods.ListPods(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.PodRecord
	for _, p := range pods {
		if wanted[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Volumes returns volumes labelled with project under any scheme.
func (inv *Inventory) Volumes(ctx context.Context, project string) ([]domain.VolumeRecord, error) {
	byName := make(map[string]domain.VolumeRecord)
	var errs []error
	succeeded := false
	for _, q := range inv.queries {
		found, err := q.Volumes(ctx, project)
		if err != nil {
			inv.logger.Warn("volume query failed", "scheme", q.Scheme().Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		succeeded = true
		for _, v := range found {
			if v.Project == project {
				byName[v.Name] = v
			}
		}
	}
	if !succeeded && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	result := make([]domain.VolumeRecord, 0, len(byName))
	for _, v := range byName {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Networks returns networks labelled with project under any scheme.
func (inv *Inventory) Networks(ctx context.Context, project string) ([]domain.NetworkRecord, error) {
	byID := make(map[string]domain.NetworkRecord)
	var errs []error
	succeeded := false
	for _, q := range inv.queries {
		found, err := q.Networks(ctx, project)
		if err != nil {
			inv.logger.Warn("network query failed", "scheme", q.Scheme().Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		succeeded = true
		for _, n := range found {
			if n.Project == project {
				byID[n.ID] = n
			}
		}
	}
	if !succeeded && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	result := make([]domain.NetworkRecord, 0, len(byID))
	for _, n := range byID {
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Volume inspects a volume by name. A missing volume returns nil, nil.
func (inv *Inventory) Volume(ctx context.Context, name string) (*domain.VolumeRecord, error) {
	v, err := inv.client.InspectVolume(ctx, name)
	if errors.Is(err, engine.ErrVolumeNotFound) {
		return nil, nil
	}
	return v, err
}

// Network inspects a network by name or id. A missing network returns nil, nil.
func (inv *Inventory) Network(ctx context.Context, nameOrID string) (*domain.NetworkRecord, error) {
	n, err := inv.client.InspectNetwork(ctx, nameOrID)
	if errors.Is(err, engine.ErrNetworkNotFound) {
		return nil, nil
	}
	return n, err
}

// =============================================================================
// Ownership
// =============================================================================

// OwnsVolume reports whether v belongs to project: by label, or by the
// project name prefix when it carries no project label.
func OwnsVolume(project string, v domain.VolumeRecord) bool {
	if v.Project != "" {
		return v.Project == project
	}
	return plan.HasProjectPrefix(project, v.Name)
}

// OwnsNetwork reports whether n belongs to project, as OwnsVolume does.
func OwnsNetwork(project string, n domain.NetworkRecord) bool {
	if n.Project != "" {
		return n.Project == project
	}
	return plan.HasProjectPrefix(project, n.Name)
}
