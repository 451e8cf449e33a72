package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/stackctl/internal/core/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "docker-compose.yml", cfg.Project.Manifest)
	assert.Empty(t, cfg.Project.Name)
	assert.Empty(t, cfg.Backend.Command)
	assert.Equal(t, 2*time.Second, cfg.Readiness.Interval)
	assert.Equal(t, plan.DefaultTimeout, cfg.Readiness.Timeout)
	assert.Equal(t, plan.SlowTimeout, cfg.Readiness.SlowTimeout)
	assert.Equal(t, 50, cfg.Readiness.LogTail)
	assert.Equal(t, 3, cfg.Reaper.MaxPasses)
	assert.Equal(t, 10*time.Second, cfg.Reaper.StopTimeout)
	assert.False(t, cfg.Up.Build)
	assert.False(t, cfg.Up.SkipOptional)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, 200, cfg.Journal.KeepRuns)
	assert.Equal(t, "127.0.0.1:8089", cfg.Status.Addr)
	assert.Equal(t, 30*time.Second, cfg.Status.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
project:
  name: school
  manifest: deploy/compose.yaml

backend:
  command: podman-compose

readiness:
  interval: 500ms
  timeout: 90s
  slow_services: [search-engine]
  overrides:
    keycloak: 10m
  kinds:
    search-init: oneshot

phases:
  search:
    - services: [search-init]
      kind: oneshot
    - services: [search-engine]
      timeout: 5m
    - services: [search-dashboard]
      optional: [search-dashboard]

up:
  build: true

journal:
  enabled: false

log:
  level: "debug"
  format: "json"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "school", cfg.Project.Name)
	assert.Equal(t, "deploy/compose.yaml", cfg.Project.Manifest)
	assert.Equal(t, "podman-compose", cfg.Backend.Command)
	assert.Equal(t, 500*time.Millisecond, cfg.Readiness.Interval)
	assert.Equal(t, 90*time.Second, cfg.Readiness.Timeout)
	assert.Equal(t, []string{"search-engine"}, cfg.Readiness.SlowServices)
	assert.Equal(t, 10*time.Minute, cfg.Readiness.Overrides["keycloak"])
	assert.Equal(t, "oneshot", cfg.Readiness.Kinds["search-init"])
	assert.True(t, cfg.Up.Build)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	require.Len(t, cfg.Phases["search"], 3)
	assert.Equal(t, []string{"search-init"}, cfg.Phases["search"][0].Services)
	assert.Equal(t, "oneshot", cfg.Phases["search"][0].Kind)
	assert.Equal(t, 5*time.Minute, cfg.Phases["search"][1].Timeout)
	assert.Equal(t, []string{"search-dashboard"}, cfg.Phases["search"][2].Optional)

	policy := cfg.Readiness.TimeoutPolicy()
	assert.Equal(t, 90*time.Second, policy.For("api"))
	assert.Equal(t, 300*time.Second, policy.For("search-engine"))
	assert.Equal(t, 10*time.Minute, policy.For("keycloak"))
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("STACKCTL_PROJECT_NAME", "envproject")
	t.Setenv("STACKCTL_PROJECT_MANIFEST", "/srv/compose.yml")
	t.Setenv("STACKCTL_READINESS_TIMEOUT", "45s")
	t.Setenv("STACKCTL_JOURNAL_DSN", "/custom/journal.db")
	t.Setenv("STACKCTL_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "envproject", cfg.Project.Name)
	assert.Equal(t, "/srv/compose.yml", cfg.Project.Manifest)
	assert.Equal(t, 45*time.Second, cfg.Readiness.Timeout)
	assert.Equal(t, "/custom/journal.db", cfg.Journal.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	clearEnv(t)

	// Non-existent file should use defaults
	cfg, err := LoadConfig("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "docker-compose.yml", cfg.Project.Manifest)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("project: [unclosed"), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Overrides Tests
// =============================================================================

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name        string
		configured  string
		manifest    string
		project     string
		wantProject string
		wantPath    string
	}{
		{"derives from manifest dir", "", "/srv/School App/compose.yml", "", "schoolapp", "/srv/School App/compose.yml"},
		{"flag wins over config", "fromconfig", "", "fromflag", "fromflag", "docker-compose.yml"},
		{"config kept without flag", "fromconfig", "/srv/x/compose.yml", "", "fromconfig", "/srv/x/compose.yml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Project: ProjectConfig{Name: tt.configured, Manifest: "docker-compose.yml"}}
			cfg.ApplyOverrides(tt.manifest, tt.project, "debug")

			assert.Equal(t, tt.wantProject, cfg.Project.Name)
			assert.Equal(t, tt.wantPath, cfg.Project.Manifest)
			assert.Equal(t, "debug", cfg.Log.Level)
		})
	}
}

func TestDefaultProjectName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/home/ops/stack/docker-compose.yml", "stack"},
		{"/home/ops/My.Stack/compose.yaml", "mystack"},
		{"/home/ops/_svc/compose.yaml", "svc"},
		{"/compose.yaml", "default"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultProjectName(tt.path), tt.path)
	}
}

// =============================================================================
// Settings Tests
// =============================================================================

func TestSettings_DefaultWhenMissing(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "missing", "settings.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTailSize, s.TailSize())
}

func TestSettings_PersistTailSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackctl", "settings.yaml")

	s, err := LoadSettings(path)
	require.NoError(t, err)
	require.NoError(t, s.SetTailSize(250))

	reloaded, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 250, reloaded.TailSize())

	assert.Error(t, s.SetTailSize(0))
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestSetupLogger(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
			logger := SetupLogger(&Config{Log: LogConfig{Level: level, Format: format}})
			assert.NotNil(t, logger, "%s/%s", format, level)
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"STACKCTL_PROJECT_NAME",
		"STACKCTL_PROJECT_MANIFEST",
		"STACKCTL_BACKEND_COMMAND",
		"STACKCTL_READINESS_TIMEOUT",
		"STACKCTL_JOURNAL_DSN",
		"STACKCTL_JOURNAL_ENABLED",
		"STACKCTL_LOG_LEVEL",
		"STACKCTL_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
