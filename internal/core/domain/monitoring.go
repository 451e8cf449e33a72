package domain

import "time"

// =============================================================================
// Health Types
// =============================================================================

// HealthStatus represents the overall health of a profile or container.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusStopped   HealthStatus = "stopped"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// ServiceStatus is the observed status of one service in a profile.
type ServiceStatus struct {
	Service    string            `json:"service"`
	Health     HealthStatus      `json:"health"`
	Containers []ContainerRecord `json:"containers"`
}

// ProfileStatus is the aggregated status of a profile.
type ProfileStatus struct {
	Profile  string          `json:"profile"`
	Health   HealthStatus    `json:"health"`
	Services []ServiceStatus `json:"services"`
}

// StatusReport is a point-in-time snapshot of a project.
type StatusReport struct {
	Project    string            `json:"project"`
	Profiles   []ProfileStatus   `json:"profiles"`
	Unprofiled []ServiceStatus   `json:"unprofiled,omitempty"`
	Orphans    []ContainerRecord `json:"orphans,omitempty"` // project containers not in the manifest
	Runs       []Run             `json:"runs,omitempty"`
	CheckedAt  time.Time         `json:"checked_at"`
}
