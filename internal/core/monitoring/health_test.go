package monitoring

import (
	"testing"
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func code(n int) *int { return &n }

// =============================================================================
// AggregateHealth Tests
// =============================================================================

func TestAggregateHealth_AllHealthy(t *testing.T) {
	result := AggregateHealth([]domain.HealthStatus{domain.HealthStatusHealthy, domain.HealthStatusHealthy})
	assert.Equal(t, domain.HealthStatusHealthy, result)
}

func TestAggregateHealth_OneUnhealthy(t *testing.T) {
	result := AggregateHealth([]domain.HealthStatus{domain.HealthStatusHealthy, domain.HealthStatusUnhealthy})
	assert.Equal(t, domain.HealthStatusDegraded, result)
}

func TestAggregateHealth_AllUnhealthy(t *testing.T) {
	result := AggregateHealth([]domain.HealthStatus{domain.HealthStatusUnhealthy, domain.HealthStatusUnhealthy})
	assert.Equal(t, domain.HealthStatusUnhealthy, result)
}

func TestAggregateHealth_StoppedIgnoredWhileOthersUp(t *testing.T) {
	result := AggregateHealth([]domain.HealthStatus{domain.HealthStatusStopped, domain.HealthStatusHealthy})
	assert.Equal(t, domain.HealthStatusHealthy, result)
}

func TestAggregateHealth_AllStopped(t *testing.T) {
	result := AggregateHealth([]domain.HealthStatus{domain.HealthStatusStopped, domain.HealthStatusStopped})
	assert.Equal(t, domain.HealthStatusStopped, result)
}

func TestAggregateHealth_Empty(t *testing.T) {
	assert.Equal(t, domain.HealthStatusUnknown, AggregateHealth(nil))
}

// =============================================================================
// DetermineContainerHealth Tests
// =============================================================================

func TestDetermineContainerHealth(t *testing.T) {
	tests := []struct {
		name string
		c    domain.ContainerRecord
		want domain.HealthStatus
	}{
		{"running", domain.ContainerRecord{State: domain.StateRunning, Health: domain.HealthNone}, domain.HealthStatusHealthy},
		{"running healthy", domain.ContainerRecord{State: domain.StateRunning, Health: domain.HealthHealthy}, domain.HealthStatusHealthy},
		{"running starting", domain.ContainerRecord{State: domain.StateRunning, Health: domain.HealthStarting}, domain.HealthStatusDegraded},
		{"running unhealthy", domain.ContainerRecord{State: domain.StateRunning, Health: domain.HealthUnhealthy}, domain.HealthStatusUnhealthy},
		{"completed", domain.ContainerRecord{State: domain.StateExited, ExitCode: code(0)}, domain.HealthStatusStopped},
		{"crashed", domain.ContainerRecord{State: domain.StateExited, ExitCode: code(1)}, domain.HealthStatusUnhealthy},
		{"dead", domain.ContainerRecord{State: domain.StateDead}, domain.HealthStatusUnhealthy},
		{"restarting", domain.ContainerRecord{State: domain.StateRestarting}, domain.HealthStatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineContainerHealth(tt.c))
		})
	}
}

func TestServiceHealth_NoContainers(t *testing.T) {
	assert.Equal(t, domain.HealthStatusStopped, ServiceHealth(nil))
}

// =============================================================================
// BuildStatusReport Tests
// =============================================================================

func TestBuildStatusReport(t *testing.T) {
	m, err := manifest.Parse([]byte(`
services:
  proxy:
    image: nginx
  init:
    image: busybox
    profiles: [search]
  engine:
    image: opensearch
    profiles: [search]
  cache:
    image: redis
    profiles: [cache]
`), manifest.ParseOptions{SkipEnrichment: true})
	require.NoError(t, err)

	containers := []domain.ContainerRecord{
		{ID: "1", Service: "proxy", State: domain.StateRunning},
		{ID: "2", Service: "init", State: domain.StateExited, ExitCode: code(0)},
		{ID: "3", Service: "engine", State: domain.StateRunning, Health: domain.HealthHealthy},
		{ID: "4", Service: "leftover", State: domain.StateExited, ExitCode: code(1)},
	}

	now := time.Unix(100, 0)
	report := BuildStatusReport("demo", m, containers, now)

	assert.Equal(t, "demo", report.Project)
	assert.Equal(t, now, report.CheckedAt)
	require.Len(t, report.Profiles, 2)

	search := report.Profiles[0]
	assert.Equal(t, "search", search.Profile)
	assert.Equal(t, domain.HealthStatusHealthy, search.Health)
	require.Len(t, search.Services, 2)
	assert.Equal(t, domain.HealthStatusStopped, search.Services[0].Health)

	cache := report.Profiles[1]
	assert.Equal(t, domain.HealthStatusStopped, cache.Health)

	require.Len(t, report.Unprofiled, 1)
	assert.Equal(t, "proxy", report.Unprofiled[0].Service)

	require.Len(t, report.Orphans, 1)
	assert.Equal(t, "4", report.Orphans[0].ID)
}

func TestEventMessage(t *testing.T) {
	assert.Equal(t, "Service engine is ready", EventMessage(domain.EventServiceReady, "engine"))
	assert.Equal(t, "Pod p1 removed", EventMessage(domain.EventPodRemoved, "p1"))
	assert.Equal(t, "x event: custom", EventMessage(domain.EventType("custom"), "x"))
}
