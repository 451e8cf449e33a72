package plan

import (
	"testing"
	"time"

	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/core/readiness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const searchSpec = `
services:
  proxy:
    image: nginx
  dashboard:
    image: dash
    profiles: [search]
    depends_on: [engine]
  engine:
    image: opensearch
    profiles: [search]
    depends_on:
      init:
        condition: service_completed_successfully
    healthcheck:
      test: ["CMD", "true"]
  init:
    image: busybox
    profiles: [search]
  tools:
    image: busybox
    profiles: [search]
    labels:
      stackctl.readiness: one_shot
  cache:
    image: redis
    profiles: [cache]
volumes:
  data:
  custom:
    name: shared_custom
networks:
  backend:
    name: corp_backend
`

func loadSpec(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(searchSpec), manifest.ParseOptions{SkipEnrichment: true})
	require.NoError(t, err)
	return m
}

// =============================================================================
// Naming Tests
// =============================================================================

func TestNaming(t *testing.T) {
	m := loadSpec(t)

	assert.Equal(t, "demo_data", VolumeName("demo", "data"))
	assert.Equal(t, "shared_custom", DeclaredVolumeName("demo", m, "custom"))
	assert.Equal(t, "demo_data", DeclaredVolumeName("demo", m, "data"))
	assert.Equal(t, "corp_backend", DeclaredNetworkName("demo", m, "backend"))
	assert.Equal(t, "demo_default", DeclaredNetworkName("demo", m, "default"))
}

func TestHasProjectPrefix(t *testing.T) {
	assert.True(t, HasProjectPrefix("demo", "demo_data"))
	assert.False(t, HasProjectPrefix("demo", "demodata"))
	assert.False(t, HasProjectPrefix("demo", "other_data"))
	assert.False(t, HasProjectPrefix("", "_data"))
}

// =============================================================================
// Ordering Tests
// =============================================================================

func TestLayers_Chain(t *testing.T) {
	m := loadSpec(t)

	layers := Layers(m, []string{"dashboard", "engine", "init"})
	assert.Equal(t, [][]string{{"init"}, {"engine"}, {"dashboard"}}, layers)
}

func TestLayers_IndependentServicesShareLayer(t *testing.T) {
	m := loadSpec(t)

	layers := Layers(m, []string{"tools", "init", "engine"})
	assert.Equal(t, [][]string{{"init", "tools"}, {"engine"}}, layers)
}

func TestLayers_IgnoresDependenciesOutsideSet(t *testing.T) {
	m := loadSpec(t)

	assert.Equal(t, [][]string{{"dashboard"}}, Layers(m, []string{"dashboard"}))
	assert.Nil(t, Layers(m, nil))
}

func TestLayers_Cycle(t *testing.T) {
	m, err := manifest.Parse([]byte(`
services:
  a:
    depends_on: [b]
  b:
    depends_on: [a]
  c: {}
`), manifest.ParseOptions{SkipEnrichment: true})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"c"}, {"a", "b"}}, Layers(m, []string{"a", "b", "c"}))
}

func TestIsolated(t *testing.T) {
	m := loadSpec(t)
	assert.Equal(t, []string{"tools"}, Isolated(m, m.ProfileServiceNames("search")))
	assert.Equal(t, []string{"dashboard", "init"}, Isolated(m, []string{"init", "dashboard"}))
	assert.Empty(t, Isolated(m, nil))
}

// =============================================================================
// Phase Tests
// =============================================================================

func TestBuildPhases_NoOrderingNeeds(t *testing.T) {
	m := loadSpec(t)

	_, ok := BuildPhases(m, "cache", []string{"cache"}, PhaseOptions{})
	assert.False(t, ok)
}

func TestBuildPhases_FromDependencies(t *testing.T) {
	m := loadSpec(t)
	resolved := m.ProfileServiceNames("search")

	p, ok := BuildPhases(m, "search", resolved, PhaseOptions{Timeouts: DefaultTimeoutPolicy()})
	require.True(t, ok)
	assert.Equal(t, SourceDependencies, p.Source)
	require.Len(t, p.Phases, 4)

	assert.Equal(t, []string{"init"}, p.Phases[0].Services())
	assert.Equal(t, readiness.OneShot, p.Phases[0].Entries[0].Kind)
	assert.Equal(t, []string{"engine"}, p.Phases[1].Services())
	assert.Equal(t, readiness.LongRunning, p.Phases[1].Entries[0].Kind)
	assert.Equal(t, DefaultTimeout, p.Phases[1].Entries[0].Timeout)
	assert.Equal(t, []string{"dashboard"}, p.Phases[2].Services())

	// tools has no dependency link to the profile and starts last.
	assert.Equal(t, []string{"tools"}, p.Phases[3].Services())
	assert.Equal(t, readiness.OneShot, p.Phases[3].Entries[0].Kind)
	assert.Equal(t, 3, p.Phases[3].Index)
}

func TestBuildPhases_Configured(t *testing.T) {
	m := loadSpec(t)
	resolved := []string{"dashboard", "engine", "init"}

	opts := PhaseOptions{
		Configured: map[string][]PhaseSpec{
			"search": {
				{Services: []string{"init"}, Kind: "one_shot"},
				{Services: []string{"engine"}, Timeout: 5 * time.Minute},
				{Services: []string{"dashboard", "reports"}, Optional: []string{"reports"}},
			},
		},
		Timeouts: DefaultTimeoutPolicy(),
	}

	p, ok := BuildPhases(m, "search", resolved, opts)
	require.True(t, ok)
	assert.Equal(t, SourceConfigured, p.Source)
	require.Len(t, p.Phases, 3)
	assert.Equal(t, readiness.OneShot, p.Phases[0].Entries[0].Kind)
	assert.Equal(t, 5*time.Minute, p.Phases[1].Entries[0].Timeout)
	assert.Equal(t, []string{"dashboard"}, p.Phases[2].Services())
	assert.Equal(t, []string{"reports"}, p.Skipped)
}

func TestBuildPhases_ConfiguredSkipOptionalAndLeftovers(t *testing.T) {
	m := loadSpec(t)
	resolved := m.ProfileServiceNames("search")

	opts := PhaseOptions{
		Configured: map[string][]PhaseSpec{
			"search": {
				{Services: []string{"init"}},
				{Services: []string{"engine", "dashboard"}, Optional: []string{"dashboard"}},
			},
		},
		SkipOptional: true,
	}

	p, ok := BuildPhases(m, "search", resolved, opts)
	require.True(t, ok)
	require.Len(t, p.Phases, 3)
	assert.Equal(t, []string{"init"}, p.Phases[0].Services())
	assert.Equal(t, []string{"engine"}, p.Phases[1].Services())
	// tools is not configured and is appended after the configured phases.
	assert.Equal(t, []string{"tools"}, p.Phases[2].Services())
	assert.Equal(t, []string{"dashboard"}, p.Skipped)
	assert.Equal(t, 2, p.Phases[2].Index)
}

func TestKindFor(t *testing.T) {
	m := loadSpec(t)
	resolved := m.ProfileServiceNames("search")

	assert.Equal(t, readiness.OneShot, KindFor(m, "init", resolved, nil))
	assert.Equal(t, readiness.OneShot, KindFor(m, "tools", resolved, nil))
	assert.Equal(t, readiness.LongRunning, KindFor(m, "engine", resolved, nil))
	assert.Equal(t, readiness.LongRunning, KindFor(m, "init", []string{"init"}, nil))
	assert.Equal(t, readiness.OneShot, KindFor(m, "dashboard", resolved, map[string]string{"dashboard": "one_shot"}))
	assert.Equal(t, readiness.LongRunning, KindFor(m, "missing", resolved, nil))
}

// =============================================================================
// Timeout Tests
// =============================================================================

func TestTimeoutPolicy(t *testing.T) {
	p := TimeoutPolicy{
		Default:      time.Minute,
		Slow:         4 * time.Minute,
		SlowServices: []string{"engine"},
		Overrides:    map[string]time.Duration{"dashboard": 90 * time.Second},
	}

	assert.Equal(t, time.Minute, p.For("init"))
	assert.Equal(t, 4*time.Minute, p.For("engine"))
	assert.Equal(t, 90*time.Second, p.For("dashboard"))
	assert.Equal(t, DefaultTimeout, TimeoutPolicy{}.For("x"))
	assert.Equal(t, SlowTimeout, TimeoutPolicy{SlowServices: []string{"x"}}.For("x"))
}
