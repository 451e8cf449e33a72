// Package domain contains the core domain types for stackctl.
package domain

// =============================================================================
// Container Lifecycle Types
// =============================================================================

// ContainerState is the engine lifecycle state of a container.
type ContainerState string

const (
	StateCreated    ContainerState = "created"
	StateRunning    ContainerState = "running"
	StatePaused     ContainerState = "paused"
	StateRestarting ContainerState = "restarting"
	StateRemoving   ContainerState = "removing"
	StateExited     ContainerState = "exited"
	StateDead       ContainerState = "dead"
	StateAbsent     ContainerState = "absent" // no container observed
)

// HealthState is the engine healthcheck state of a container.
type HealthState string

const (
	HealthNone      HealthState = "none"
	HealthStarting  HealthState = "starting"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// NormalizeHealth maps engine health strings to HealthState.
// An empty string means the container has no healthcheck.
func NormalizeHealth(s string) HealthState {
	switch HealthState(s) {
	case HealthStarting, HealthHealthy, HealthUnhealthy:
		return HealthState(s)
	default:
		return HealthNone
	}
}

// =============================================================================
// Engine Resource Records
// =============================================================================

// ContainerRecord is a container as observed in the engine.
// Project and Service are already reconciled across label namespaces.
type ContainerRecord struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Image    string            `json:"image,omitempty"`
	Project  string            `json:"project"`
	Service  string            `json:"service"`
	State    ContainerState    `json:"state"`
	Health   HealthState       `json:"health"`
	ExitCode *int              `json:"exit_code,omitempty"`
	Pod      string            `json:"pod,omitempty"`
	Volumes  []string          `json:"volumes,omitempty"` // named volumes mounted
	Networks []string          `json:"networks,omitempty"`
	Ports    []string          `json:"ports,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// ShortID returns the first 12 characters of the container id.
func (c ContainerRecord) ShortID() string {
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}

// VolumeRecord is a named volume as observed in the engine.
type VolumeRecord struct {
	Name       string            `json:"name"`
	Project    string            `json:"project,omitempty"`
	Containers []string          `json:"containers,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// NetworkRecord is a network as observed in the engine.
type NetworkRecord struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Project    string            `json:"project,omitempty"`
	Containers []string          `json:"containers,omitempty"`
	External   bool              `json:"external,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// InUse reports whether any container is attached.
func (n NetworkRecord) InUse() bool {
	return len(n.Containers) > 0
}

// PodRecord is a podman pod as observed in the engine.
type PodRecord struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Project    string   `json:"project,omitempty"`
	Containers []string `json:"containers,omitempty"`
	// InfraID is the pod's infra container; it is not a workload member.
	InfraID string `json:"infra_id,omitempty"`
}

// Workload returns member container ids excluding the infra container.
func (p PodRecord) Workload() []string {
	var out []string
	for _, id := range p.Containers {
		if id != p.InfraID {
			out = append(out, id)
		}
	}
	return out
}

// BelongsTo reports whether the record is scoped to project. Records without
// a project label never belong to a project.
func (c ContainerRecord) BelongsTo(project string) bool {
	return project != "" && c.Project == project
}
