package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/labels"
	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/shell/compose"
	"github.com/artpar/stackctl/internal/shell/engine"
	"github.com/artpar/stackctl/internal/shell/fakeengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func emptyManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte("services:\n  app:\n    image: x\n"), manifest.ParseOptions{SkipEnrichment: true})
	require.NoError(t, err)
	return m
}

func labelled(s labels.Scheme, project, service string) map[string]string {
	return map[string]string{s.ProjectKey(): project, s.ServiceKey(): service}
}

func TestContainers_MergesBothSchemes(t *testing.T) {
	fe := fakeengine.New("demo", emptyManifest(t))
	fe.AddContainer(domain.ContainerRecord{ID: "a1", Name: "demo_api_1", Project: "demo", Service: "api", State: domain.StateRunning, Labels: labelled(labels.Docker, "demo", "api")})
	fe.AddContainer(domain.ContainerRecord{ID: "b1", Name: "demo_db_1", Project: "demo", Service: "db", State: domain.StateRunning, Labels: labelled(labels.Podman, "demo", "db")})
	fe.AddContainer(domain.ContainerRecord{ID: "c1", Name: "other_api_1", Project: "other", Service: "api", State: domain.StateRunning, Labels: labelled(labels.Docker, "other", "api")})

	inv := New(fe, fe, setupTestLogger())

	all, err := inv.Containers(context.Background(), "demo", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "demo_api_1", all[0].Name)
	assert.Equal(t, "demo_db_1", all[1].Name)

	db, err := inv.ServiceContainers(context.Background(), "demo", "db")
	require.NoError(t, err)
	require.Len(t, db, 1)
	assert.Equal(t, "b1", db[0].ID)
}

func TestServiceContainers_SkipsOneOffContainers(t *testing.T) {
	fe := fakeengine.New("demo", emptyManifest(t))
	fe.AddContainer(domain.ContainerRecord{ID: "a1", Name: "demo_api_1", Project: "demo", Service: "api", State: domain.StateRunning, Labels: labelled(labels.Docker, "demo", "api")})
	oneOff := labelled(labels.Docker, "demo", "api")
	oneOff[labels.OneOffKey] = "True"
	fe.AddContainer(domain.ContainerRecord{ID: "a2", Name: "demo_api_run_1", Project: "demo", Service: "api", State: domain.StateExited, Labels: oneOff})

	inv := New(fe, nil, setupTestLogger())

	got, err := inv.ServiceContainers(context.Background(), "demo", "api")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	all, err := inv.Containers(context.Background(), "demo", []string{"api"})
	require.NoError(t, err)
	assert.Len(t, all, 2, "teardown still sees one-off containers")
}

func TestContainers_BothLabelSetsDeduplicated(t *testing.T) {
	l := labelled(labels.Docker, "demo", "api")
	for k, v := range labelled(labels.Podman, "demo", "api") {
		l[k] = v
	}
	fe := fakeengine.New("demo", emptyManifest(t))
	fe.AddContainer(domain.ContainerRecord{ID: "a1", Name: "demo_api_1", Project: "demo", Service: "api", State: domain.StateRunning, Labels: l})

	inv := New(fe, nil, setupTestLogger())
	got, err := inv.Containers(context.Background(), "demo", []string{"api"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestContainers_EmptyProjectFindsNothing(t *testing.T) {
	fe := fakeengine.New("demo", emptyManifest(t))
	fe.AddContainer(domain.ContainerRecord{ID: "x", Name: "loose", State: domain.StateRunning})

	inv := New(fe, nil, setupTestLogger())
	got, err := inv.Containers(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestContainers_AnnotatesPods(t *testing.T) {
	m, err := manifest.Parse([]byte("services:\n  api:\n    image: x\n    profiles: [web]\n"), manifest.ParseOptions{SkipEnrichment: true})
	require.NoError(t, err)

	fe := fakeengine.New("demo", m).UseScheme(labels.Podman).EnablePods(false)
	require.NoError(t, fe.Backend().Up(context.Background(), []string{"api"}, compose.UpOptions{}))

	inv := New(fe, fe, setupTestLogger())
	got, err := inv.Containers(context.Background(), "demo", []string{"api"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pod_demo", got[0].Pod)

	pods, err := inv.ProjectPods(context.Background(), got)
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Contains(t, pods[0].Containers, got[0].ID)
}

func TestVolumesAndNetworks_ScopedToProject(t *testing.T) {
	fe := fakeengine.New("demo", emptyManifest(t))
	fe.AddVolume(domain.VolumeRecord{Name: "demo_data", Project: "demo", Labels: map[string]string{labels.Podman.ProjectKey(): "demo"}})
	fe.AddVolume(domain.VolumeRecord{Name: "other_data", Project: "other", Labels: map[string]string{labels.Docker.ProjectKey(): "other"}})
	fe.AddNetwork(domain.NetworkRecord{Name: "demo_default", Project: "demo", Labels: map[string]string{labels.Docker.ProjectKey(): "demo"}})
	fe.AddNetwork(domain.NetworkRecord{Name: "corp_shared"})

	inv := New(fe, nil, setupTestLogger())

	vols, err := inv.Volumes(context.Background(), "demo")
	require.NoError(t, err)
	require.Len(t, vols, 1)
	assert.Equal(t, "demo_data", vols[0].Name)

	nets, err := inv.Networks(context.Background(), "demo")
	require.NoError(t, err)
	require.Len(t, nets, 1)
	assert.Equal(t, "demo_default", nets[0].Name)
}

func TestInspect_MissingIsNil(t *testing.T) {
	fe := fakeengine.New("demo", emptyManifest(t))
	inv := New(fe, nil, setupTestLogger())

	v, err := inv.Volume(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, v)

	n, err := inv.Network(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestOwnership(t *testing.T) {
	tests := []struct {
		name string
		rec  domain.VolumeRecord
		want bool
	}{
		{"labelled match", domain.VolumeRecord{Name: "anything", Project: "demo"}, true},
		{"labelled other project with our prefix", domain.VolumeRecord{Name: "demo_data", Project: "other"}, false},
		{"unlabelled with prefix", domain.VolumeRecord{Name: "demo_data"}, true},
		{"unlabelled without prefix", domain.VolumeRecord{Name: "demodata"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OwnsVolume("demo", tt.rec))
			assert.Equal(t, tt.want, OwnsNetwork("demo", domain.NetworkRecord{Name: tt.rec.Name, Project: tt.rec.Project}))
		})
	}
}

// failingClient fails every list call.
type failingClient struct {
	engine.Client
}

func (failingClient) ListContainers(context.Context, engine.ListOptions) ([]domain.ContainerRecord, error) {
	return nil, errors.New("engine down")
}

func TestContainers_AllQueriesFail(t *testing.T) {
	inv := New(failingClient{}, nil, setupTestLogger())
	_, err := inv.Containers(context.Background(), "demo", nil)
	assert.Error(t, err)
}
