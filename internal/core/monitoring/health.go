// Package monitoring provides pure functions for project status reporting.
// This package contains NO I/O.
package monitoring

import (
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/manifest"
)

// =============================================================================
// Health Aggregation (Pure Functions)
// =============================================================================

// AggregateHealth determines overall health from service health values.
//
// Stopped services are ignored while anything else in the set is up, so a
// completed init job does not degrade its profile.
func AggregateHealth(statuses []domain.HealthStatus) domain.HealthStatus {
	if len(statuses) == 0 {
		return domain.HealthStatusUnknown
	}

	var active, unhealthy, degraded int
	for _, s := range statuses {
		switch s {
		case domain.HealthStatusStopped:
			continue
		case domain.HealthStatusUnhealthy:
			unhealthy++
		case domain.HealthStatusDegraded, domain.HealthStatusUnknown:
			degraded++
		}
		active++
	}

	if active == 0 {
		return domain.HealthStatusStopped
	}
	// All unhealthy = unhealthy
	if unhealthy == active {
		return domain.HealthStatusUnhealthy
	}
	if unhealthy > 0 || degraded > 0 {
		return domain.HealthStatusDegraded
	}
	return domain.HealthStatusHealthy
}

// DetermineContainerHealth maps a container's lifecycle and healthcheck state
// to a health status.
func DetermineContainerHealth(c domain.ContainerRecord) domain.HealthStatus {
	switch c.State {
	case domain.StateRunning:
		switch c.Health {
		case domain.HealthUnhealthy:
			return domain.HealthStatusUnhealthy
		case domain.HealthStarting:
			return domain.HealthStatusDegraded
		}
		return domain.HealthStatusHealthy
	case domain.StateExited:
		if c.ExitCode != nil && *c.ExitCode == 0 {
			return domain.HealthStatusStopped
		}
		return domain.HealthStatusUnhealthy
	case domain.StateDead:
		return domain.HealthStatusUnhealthy
	case domain.StateAbsent:
		return domain.HealthStatusStopped
	default:
		// created, paused, restarting, removing
		return domain.HealthStatusDegraded
	}
}

// ServiceHealth aggregates the replicas of one service. A service with no
// containers is stopped.
func ServiceHealth(containers []domain.ContainerRecord) domain.HealthStatus {
	if len(containers) == 0 {
		return domain.HealthStatusStopped
	}
	statuses := make([]domain.HealthStatus, 0, len(containers))
	for _, c := range containers {
		statuses = append(statuses, DetermineContainerHealth(c))
	}
	return AggregateHealth(statuses)
}

// =============================================================================
// Status Report (Pure Functions)
// =============================================================================

// BuildStatusReport groups project containers by manifest profile.
// Containers whose service the manifest does not declare are reported as
// orphans. A service in several profiles appears under each of them.
func BuildStatusReport(project string, m *manifest.Manifest, containers []domain.ContainerRecord, now time.Time) domain.StatusReport {
	byService := make(map[string][]domain.ContainerRecord)
	report := domain.StatusReport{Project: project, CheckedAt: now}

	for _, c := range containers {
		if !m.HasService(c.Service) {
			report.Orphans = append(report.Orphans, c)
			continue
		}
		byService[c.Service] = append(byService[c.Service], c)
	}

	serviceStatus := func(name string) domain.ServiceStatus {
		cs := byService[name]
		return domain.ServiceStatus{Service: name, Health: ServiceHealth(cs), Containers: cs}
	}

	for _, profile := range m.Profiles() {
		ps := domain.ProfileStatus{Profile: profile}
		var healths []domain.HealthStatus
		for _, name := range m.ProfileServiceNames(profile) {
			ss := serviceStatus(name)
			ps.Services = append(ps.Services, ss)
			healths = append(healths, ss.Health)
		}
		ps.Health = AggregateHealth(healths)
		report.Profiles = append(report.Profiles, ps)
	}

	for _, name := range m.AlwaysActiveServices() {
		report.Unprofiled = append(report.Unprofiled, serviceStatus(name))
	}

	return report
}

// =============================================================================
// Event Message Generation (Pure Functions)
// =============================================================================

// EventMessage generates a human-readable message for run events.
func EventMessage(eventType domain.EventType, subject string) string {
	switch eventType {
	case domain.EventServiceStarting:
		return "Service " + subject + " starting"
	case domain.EventServiceReady:
		return "Service " + subject + " is ready"
	case domain.EventServiceFailed:
		return "Service " + subject + " failed readiness"
	case domain.EventPhaseStarted:
		return "Phase " + subject + " started"
	case domain.EventContainerRemoved:
		return "Container " + subject + " removed"
	case domain.EventPodRemoved:
		return "Pod " + subject + " removed"
	case domain.EventVolumeRemoved:
		return "Volume " + subject + " removed"
	case domain.EventNetworkRemoved:
		return "Network " + subject + " removed"
	case domain.EventCleanupWarning:
		return "Cleanup warning: " + subject
	case domain.EventBackendFailed:
		return "Backend command failed: " + subject
	default:
		return subject + " event: " + string(eventType)
	}
}
