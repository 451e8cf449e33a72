package compose

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/shell/execx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testManifest = `
services:
  proxy:
    image: nginx
  search-init:
    image: busybox
    profiles: [search]
  search-engine:
    image: opensearch
    profiles: [search]
  cache:
    image: redis
    profiles: [cache]
`

func loadManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(testManifest), manifest.ParseOptions{SkipEnrichment: true})
	require.NoError(t, err)
	return m
}

func newBackend(t *testing.T, runner *execx.FakeRunner, command ...string) *CLIBackend {
	t.Helper()
	if len(command) == 0 {
		command = []string{"docker", "compose"}
	}
	cfg := Config{ManifestPath: "compose.yml", Project: "demo"}
	return NewCLIBackend(runner, command, cfg, loadManifest(t), setupTestLogger())
}

// =============================================================================
// Detection Tests
// =============================================================================

func TestDetect_FirstWorkingCandidate(t *testing.T) {
	runner := execx.NewFakeRunner().
		MissingBinary("docker").
		On("podman compose version", execx.Failure(125, "unknown command")).
		On("podman-compose version", execx.Success("podman-compose version 1.0.6"))

	b, err := Detect(context.Background(), runner, Config{}, loadManifest(t), setupTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "podman-compose", b.Name())
}

func TestDetect_Configured(t *testing.T) {
	runner := execx.NewFakeRunner().On("docker-compose version", execx.Success("1.29"))

	b, err := Detect(context.Background(), runner, Config{Command: []string{"docker-compose"}}, loadManifest(t), setupTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "docker-compose", b.Name())
}

func TestDetect_NoneAvailable(t *testing.T) {
	runner := execx.NewFakeRunner().
		MissingBinary("docker").
		MissingBinary("podman").
		MissingBinary("podman-compose").
		MissingBinary("docker-compose")

	_, err := Detect(context.Background(), runner, Config{}, loadManifest(t), setupTestLogger())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestDetect_ConfiguredUnavailable(t *testing.T) {
	runner := execx.NewFakeRunner().On("podman-compose version", execx.Failure(1, "boom"))

	_, err := Detect(context.Background(), runner, Config{Command: []string{"podman-compose"}}, loadManifest(t), setupTestLogger())
	require.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "podman-compose")
}

// =============================================================================
// ListServices Tests
// =============================================================================

func TestListServices_NoProfileSupportUsesManifest(t *testing.T) {
	runner := execx.NewFakeRunner().On("podman-compose --help", execx.Success("usage: podman-compose [-f file]"))
	b := newBackend(t, runner, "podman-compose")

	got, err := b.ListServices(context.Background(), "search")
	require.NoError(t, err)
	assert.Equal(t, []string{"search-init", "search-engine"}, got)
	assert.False(t, b.SupportsProfileFilter(context.Background()))
}

func TestListServices_NativeMergedWithoutAlwaysActive(t *testing.T) {
	runner := execx.NewFakeRunner().
		On("docker compose --help", execx.Success("  --profile stringArray   Specify a profile to enable")).
		On("docker compose -f compose.yml -p demo --profile search config --services",
			execx.Success("proxy\nsearch-engine\nsearch-extra\n"))
	b := newBackend(t, runner)

	got, err := b.ListServices(context.Background(), "search")
	require.NoError(t, err)
	// proxy is always-active and dropped; search-extra is known only natively.
	assert.Equal(t, []string{"search-init", "search-engine", "search-extra"}, got)
}

func TestListServices_NativeFailureFallsBack(t *testing.T) {
	runner := execx.NewFakeRunner().
		On("docker compose --help", execx.Success("--profile")).
		On("docker compose -f compose.yml -p demo --profile cache config --services", execx.Failure(1, "invalid"))
	b := newBackend(t, runner)

	got, err := b.ListServices(context.Background(), "cache")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache"}, got)
}

func TestListServices_UnknownProfileIsEmpty(t *testing.T) {
	runner := execx.NewFakeRunner().
		On("docker compose --help", execx.Success("--profile")).
		On("docker compose -f compose.yml -p demo --profile nope config --services", execx.Success("proxy\n"))
	b := newBackend(t, runner)

	got, err := b.ListServices(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// Command Tests
// =============================================================================

func TestUp_BuildsScopedCommand(t *testing.T) {
	runner := execx.NewFakeRunner().
		On("docker compose --help", execx.Success("--profile")).
		On("docker compose -f compose.yml -p demo --profile search up -d", execx.Success(""))
	b := newBackend(t, runner)

	err := b.Up(context.Background(), []string{"search-engine"}, UpOptions{Profile: "search", NoDeps: true, ForceRecreate: true})
	require.NoError(t, err)

	calls := runner.Calls()
	assert.Equal(t, "docker compose -f compose.yml -p demo --profile search up -d --no-deps --force-recreate search-engine", calls[len(calls)-1])
}

func TestUp_FailureIsBackendError(t *testing.T) {
	runner := execx.NewFakeRunner().
		On("podman-compose --help", execx.Success("")).
		On("podman-compose -f compose.yml -p demo up", execx.Failure(1, "line1\nError: image not found"))
	b := newBackend(t, runner, "podman-compose")

	err := b.Up(context.Background(), []string{"cache"}, UpOptions{Profile: "cache"})
	require.Error(t, err)

	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "Up", be.Op)
	assert.Equal(t, 1, be.ExitCode)
	assert.Contains(t, be.Stderr, "image not found")
	assert.ErrorIs(t, err, ErrCommandFailed)
}

func TestScopedCommands_EmptyServiceListIsNoop(t *testing.T) {
	runner := execx.NewFakeRunner()
	b := newBackend(t, runner)
	ctx := context.Background()

	require.NoError(t, b.Up(ctx, nil, UpOptions{}))
	require.NoError(t, b.Stop(ctx, nil, time.Second))
	require.NoError(t, b.Remove(ctx, nil, RemoveOptions{Force: true}))
	require.NoError(t, b.Build(ctx, nil, false))
	assert.Empty(t, runner.Calls())
}

func TestStopRemoveBuild(t *testing.T) {
	runner := execx.NewFakeRunner().On("docker compose -f compose.yml -p demo", execx.Success(""))
	b := newBackend(t, runner)
	ctx := context.Background()

	require.NoError(t, b.Stop(ctx, []string{"a", "b"}, 10*time.Second))
	require.NoError(t, b.Remove(ctx, []string{"a"}, RemoveOptions{Force: true, Stop: true}))
	require.NoError(t, b.Build(ctx, []string{"a"}, true))

	assert.Equal(t, []string{
		"docker compose -f compose.yml -p demo stop -t 10 a b",
		"docker compose -f compose.yml -p demo rm -f -s a",
		"docker compose -f compose.yml -p demo build --no-cache a",
	}, runner.Calls())
}

func TestLogs_StreamsToWriter(t *testing.T) {
	runner := execx.NewFakeRunner().On("docker compose -f compose.yml -p demo logs", execx.Success("engine | started\n"))
	b := newBackend(t, runner)

	var buf bytes.Buffer
	err := b.Logs(context.Background(), LogsOptions{Services: []string{"search-engine"}, Tail: 50}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "engine | started\n", buf.String())
	assert.Equal(t, "docker compose -f compose.yml -p demo logs --tail 50 search-engine", runner.Calls()[0])
}

func TestLogs_CancelledFollowIsNotAnError(t *testing.T) {
	runner := execx.NewFakeRunner().On("docker compose -f compose.yml -p demo logs", execx.Failure(130, "interrupted"))
	b := newBackend(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Logs(ctx, LogsOptions{Follow: true}, io.Discard)
	assert.NoError(t, err)
}

func TestLastLines(t *testing.T) {
	assert.Equal(t, "c\nd", lastLines("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a", lastLines("a", 5))
}
