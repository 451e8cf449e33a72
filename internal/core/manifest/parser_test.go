package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const searchManifest = `
services:
  proxy:
    image: nginx:latest

  search-init:
    image: busybox
    profiles: [search]
    restart: "no"
    volumes:
      - search_certs:/certs

  search-engine:
    image: opensearch:2
    profiles:
      - search
    depends_on:
      search-init:
        condition: service_completed_successfully
    healthcheck:
      test: ["CMD", "curl", "-f", "http://localhost:9200"]
    volumes:
      - search_data:/usr/share/opensearch/data
      - ./config/opensearch.yml:/usr/share/opensearch/config/opensearch.yml:ro
      - search_certs:/certs:ro

  search-dashboard:
    image: dashboards:2
    profiles: search
    depends_on:
      - search-engine
    networks:
      - shared

  worker:
    build: ./worker
    profiles: [jobs, search-extra]

volumes:
  search_data:
  search_certs:
  legacy:
    external: true

networks:
  shared:
    external: true
    name: corp_shared
`

func parseNoEnrich(t *testing.T, content string) *Manifest {
	t.Helper()
	m, err := Parse([]byte(content), ParseOptions{SkipEnrichment: true})
	require.NoError(t, err)
	return m
}

// =============================================================================
// Profile Normalization Tests
// =============================================================================

func TestParse_ProfileFormsAreEquivalent(t *testing.T) {
	forms := map[string]string{
		"flow": `
services:
  a:
    image: x
    profiles: [search]
  b:
    image: x
`,
		"block": `
services:
  a:
    image: x
    profiles:
      - search
  b:
    image: x
`,
		"scalar": `
services:
  a:
    image: x
    profiles: search
  b:
    image: x
`,
	}

	var want []string
	for name, content := range forms {
		t.Run(name, func(t *testing.T) {
			m := parseNoEnrich(t, content)
			got := m.ProfileServiceNames("search")
			assert.Equal(t, []string{"a"}, got)
			if want == nil {
				want = got
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestParse_ScalarProfileIsNotSplit(t *testing.T) {
	m := parseNoEnrich(t, `
services:
  a:
    image: x
    profiles: "search,jobs"
`)
	assert.Empty(t, m.ProfileServiceNames("search"))
	assert.Equal(t, []string{"a"}, m.ProfileServiceNames("search,jobs"))
}

func TestParse_MalformedProfilesIgnored(t *testing.T) {
	m := parseNoEnrich(t, `
services:
  odd:
    image: x
    profiles:
      search: true
  nested:
    image: x
    profiles:
      - [search]
  fine:
    image: x
    profiles: [search]
`)

	assert.Equal(t, []string{"fine"}, m.ProfileServiceNames("search"))
	require.Len(t, m.Warnings, 2)
	assert.Contains(t, m.Warnings[0], "services.odd.profiles")

	odd, ok := m.Service("odd")
	require.True(t, ok)
	assert.True(t, odd.ProfilesMalformed)
	assert.False(t, odd.AlwaysActive())
}

func TestParse_ProfileDeduplicated(t *testing.T) {
	m := parseNoEnrich(t, `
services:
  a:
    image: x
    profiles: [search, search, " jobs "]
`)
	a, _ := m.Service("a")
	assert.Equal(t, []string{"search", "jobs"}, a.Profiles)
}

// =============================================================================
// Structure Tests
// =============================================================================

func TestParse_SearchManifest(t *testing.T) {
	m := parseNoEnrich(t, searchManifest)

	assert.Equal(t, []string{"proxy", "search-init", "search-engine", "search-dashboard", "worker"}, m.ServiceNames())
	assert.Equal(t, []string{"search-init", "search-engine", "search-dashboard"}, m.ProfileServiceNames("search"))
	assert.Equal(t, []string{"search", "jobs", "search-extra"}, m.Profiles())
	assert.Equal(t, []string{"proxy"}, m.AlwaysActiveServices())

	engine, ok := m.Service("search-engine")
	require.True(t, ok)
	assert.True(t, engine.HasHealthcheck)
	assert.Equal(t, []string{"search_data", "search_certs"}, engine.Volumes)
	require.Len(t, engine.DependsOn, 1)
	assert.Equal(t, ConditionCompletedSuccessfully, engine.DependsOn[0].Condition)

	dash, _ := m.Service("search-dashboard")
	assert.Equal(t, []Dependency{{Service: "search-engine", Condition: ConditionStarted}}, dash.DependsOn)
	assert.Equal(t, []string{"shared"}, dash.NetworkNames())

	initSvc, _ := m.Service("search-init")
	assert.Equal(t, "no", initSvc.Restart)
	assert.False(t, initSvc.HasHealthcheck)

	worker, _ := m.Service("worker")
	assert.True(t, worker.HasBuild)
}

func TestParse_TopLevelDeclarations(t *testing.T) {
	m := parseNoEnrich(t, searchManifest)

	legacy, ok := m.Volume("legacy")
	require.True(t, ok)
	assert.True(t, legacy.External)

	data, ok := m.Volume("search_data")
	require.True(t, ok)
	assert.False(t, data.External)

	assert.Equal(t, []string{"shared", "corp_shared"}, m.ExternalNetworkNames())
	assert.Equal(t, []string{"legacy"}, m.ExternalVolumeNames())
}

func TestParse_VolumesFor(t *testing.T) {
	m := parseNoEnrich(t, searchManifest)

	got := m.VolumesFor(m.ProfileServiceNames("search"))
	assert.Equal(t, []string{"search_certs", "search_data"}, got)

	assert.Equal(t, []string{DefaultNetwork, "shared"}, m.NetworksFor(m.ProfileServiceNames("search")))
}

func TestIsNamedVolumeSource(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"data", true},
		{"pg_data", true},
		{"/var/lib/data", false},
		{"./local", false},
		{"../up", false},
		{"~/home", false},
		{"${DATA_DIR}", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNamedVolumeSource(tt.source))
		})
	}
}

func TestParse_LongSyntaxVolumes(t *testing.T) {
	m := parseNoEnrich(t, `
services:
  a:
    image: x
    volumes:
      - type: volume
        source: named
        target: /data
      - type: bind
        source: ./host
        target: /host
      - type: tmpfs
        target: /tmp
      - /anonymous
`)
	a, _ := m.Service("a")
	assert.Equal(t, []string{"named"}, a.Volumes)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "   "},
		{"invalid yaml", "services: [unclosed"},
		{"scalar document", "just a string"},
		{"no services", "volumes:\n  data:\n"},
		{"services not mapping", "services:\n  - a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), ParseOptions{SkipEnrichment: true})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrManifestUnparseable))

			var merr *ManifestError
			assert.True(t, errors.As(err, &merr))
		})
	}
}

// =============================================================================
// Enrichment Tests
// =============================================================================

func TestParse_EnrichmentResolvesInterpolatedNames(t *testing.T) {
	m, err := Parse([]byte(`
services:
  a:
    image: x
    profiles: [search]
    volumes:
      - data:/data
volumes:
  data:
    name: ${DATA_VOLUME}
`), ParseOptions{ProjectName: "demo", Environment: map[string]string{"DATA_VOLUME": "demo_custom"}})
	require.NoError(t, err)

	v, ok := m.Volume("data")
	require.True(t, ok)
	assert.Equal(t, "demo_custom", v.Name)
	assert.Equal(t, []string{"a"}, m.ProfileServiceNames("search"))
}

func TestParse_EnrichmentFailureKeepsStructuralResult(t *testing.T) {
	// The loader rejects a mapping-shaped profiles block; the structural pass
	// still yields the remaining services.
	m, err := Parse([]byte(`
services:
  odd:
    image: x
    profiles:
      search: true
  fine:
    image: x
    profiles: [search]
`), ParseOptions{ProjectName: "demo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fine"}, m.ProfileServiceNames("search"))
	assert.NotEmpty(t, m.Warnings)
}

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"), ParseOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrManifestNotFound))
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(searchManifest), 0o644))

	m, err := Load(path, ParseOptions{SkipEnrichment: true})
	require.NoError(t, err)
	assert.Equal(t, path, m.Path)
	assert.Len(t, m.Services, 5)
}

func TestSortByManifestOrder(t *testing.T) {
	m := parseNoEnrich(t, searchManifest)
	got := m.SortByManifestOrder([]string{"worker", "unknown", "proxy", "search-engine"})
	assert.Equal(t, []string{"proxy", "search-engine", "worker", "unknown"}, got)
}
