package engine

import (
	"testing"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeState(t *testing.T) {
	tests := map[string]domain.ContainerState{
		"running":     domain.StateRunning,
		"Exited":      domain.StateExited,
		"stopped":     domain.StateExited,
		"configured":  domain.StateCreated,
		"created":     domain.StateCreated,
		"dead":        domain.StateDead,
		"restarting":  domain.StateRestarting,
		"paused":      domain.StatePaused,
		"weird-state": domain.ContainerState("weird-state"),
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, normalizeState(in))
		})
	}
}

func TestHealthFromStatus(t *testing.T) {
	assert.Equal(t, domain.HealthHealthy, healthFromStatus("Up 5 minutes (healthy)"))
	assert.Equal(t, domain.HealthUnhealthy, healthFromStatus("Up 5 minutes (unhealthy)"))
	assert.Equal(t, domain.HealthStarting, healthFromStatus("Up 3 seconds (health: starting)"))
	assert.Equal(t, domain.HealthNone, healthFromStatus("Up 2 hours"))
}

func TestExitCodeFromStatus(t *testing.T) {
	code := exitCodeFromStatus("Exited (137) 5 seconds ago")
	require.NotNil(t, code)
	assert.Equal(t, 137, *code)

	code = exitCodeFromStatus("Exited (0) About a minute ago")
	require.NotNil(t, code)
	assert.Equal(t, 0, *code)

	assert.Nil(t, exitCodeFromStatus("Up 2 hours"))
}

func TestFromSummary(t *testing.T) {
	s := container.Summary{
		ID:     "abc123",
		Names:  []string{"/demo-search-init-1"},
		Image:  "busybox",
		State:  "exited",
		Status: "Exited (0) 2 seconds ago",
		Labels: map[string]string{
			"io.podman.compose.project": "demo",
			"io.podman.compose.service": "search-init",
		},
		Mounts: []container.MountPoint{
			{Type: mount.TypeVolume, Name: "demo_search_certs"},
			{Type: mount.TypeBind, Source: "/etc/hosts"},
		},
		Ports: []container.Port{{IP: "127.0.0.1", PrivatePort: 9200, PublicPort: 19200, Type: "tcp"}},
	}

	rec := fromSummary(s)
	assert.Equal(t, "demo-search-init-1", rec.Name)
	assert.Equal(t, "demo", rec.Project)
	assert.Equal(t, "search-init", rec.Service)
	assert.Equal(t, domain.StateExited, rec.State)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 0, *rec.ExitCode)
	assert.Equal(t, []string{"demo_search_certs"}, rec.Volumes)
	assert.Equal(t, []string{"127.0.0.1:19200->9200/tcp"}, rec.Ports)
}

func TestFromInspect(t *testing.T) {
	resp := container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:   "def456",
			Name: "/demo-search-engine-1",
			State: &container.State{
				Status: "running",
				Health: &container.Health{Status: "starting"},
			},
		},
		Config: &container.Config{
			Image:  "opensearch:2",
			Labels: map[string]string{"com.docker.compose.project": "demo", "com.docker.compose.service": "search-engine"},
		},
		Mounts: []container.MountPoint{{Type: mount.TypeVolume, Name: "demo_search_data"}},
		NetworkSettings: &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{
				Ports: nat.PortMap{"9200/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "9200"}}},
			},
		},
	}

	rec := fromInspect(resp)
	assert.Equal(t, "def456", rec.ID)
	assert.Equal(t, "demo-search-engine-1", rec.Name)
	assert.Equal(t, "search-engine", rec.Service)
	assert.Equal(t, domain.StateRunning, rec.State)
	assert.Equal(t, domain.HealthStarting, rec.Health)
	assert.Nil(t, rec.ExitCode)
	assert.Equal(t, []string{"demo_search_data"}, rec.Volumes)
	assert.Equal(t, []string{"0.0.0.0:9200->9200/tcp"}, rec.Ports)
}

func TestFormatPort_Unpublished(t *testing.T) {
	assert.Equal(t, "5432/tcp", formatPort("", 0, 5432, "tcp"))
}
