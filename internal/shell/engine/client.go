package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/labels"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// =============================================================================
// Docker API Client Implementation
// =============================================================================

// APIClient implements Client over the Docker Engine API. Podman's
// docker-compatible socket is detected when no Docker daemon answers.
type APIClient struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewAPIClient creates a new engine client.
// If host is empty, it uses DOCKER_HOST from the environment and then probes
// the Docker Desktop and podman sockets. It fails with ErrConnectionFailed
// when no engine answers.
func NewAPIClient(ctx context.Context, host string, logger *slog.Logger) (*APIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewEngineError("NewAPIClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	_, pingErr := cli.Ping(ctx)
	if pingErr == nil {
		return &APIClient{cli: cli, logger: logger}, nil
	}
	if host != "" {
		cli.Close()
		return nil, NewEngineError("NewAPIClient", "", host, pingErr.Error(), ErrConnectionFailed)
	}

	for _, socket := range candidateSockets() {
		alt, err := client.NewClientWithOpts(client.WithHost(socket), client.WithAPIVersionNegotiation())
		if err != nil {
			continue
		}
		if _, err := alt.Ping(ctx); err == nil {
			logger.Debug("using engine socket", "host", socket)
			cli.Close()
			return &APIClient{cli: alt, logger: logger}, nil
		}
		alt.Close()
	}

	cli.Close()
	return nil, NewEngineError("NewAPIClient", "", "", fmt.Sprintf("no engine answered: %v", pingErr), ErrConnectionFailed)
}

// candidateSockets lists fallback engine sockets in probe order.
func candidateSockets() []string {
	var out []string
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, "unix://"+home+"/.docker/run/docker.sock")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		out = append(out, "unix://"+dir+"/podman/podman.sock")
	}
	out = append(out,
		"unix:///run/user/"+strconv.Itoa(os.Getuid())+"/podman/podman.sock",
		"unix:///run/podman/podman.sock",
	)
	return out
}

// Ping checks if the engine is reachable.
func (c *APIClient) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return NewEngineError("Ping", "", "", fmt.Sprintf("failed to ping engine: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the client connection.
func (c *APIClient) Close() error {
	return c.cli.Close()
}

// =============================================================================
// Container Operations
// =============================================================================

// ListContainers lists containers matching every label filter.
func (c *APIClient) ListContainers(ctx context.Context, opts ListOptions) ([]domain.ContainerRecord, error) {
	f := filters.NewArgs()
	for _, l := range opts.Labels {
		f.Add("label", l)
	}
	if opts.Volume != "" {
		f.Add("volume", opts.Volume)
	}
	if opts.Name != "" {
		f.Add("name", opts.Name)
	}

	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: opts.All, Filters: f})
	if err != nil {
		return nil, callError("ListContainers", "container", "", err)
	}

	result := make([]domain.ContainerRecord, 0, len(containers))
	for _, s := range containers {
		result = append(result, fromSummary(s))
	}
	return result, nil
}

// InspectContainer returns the full state of a container.
func (c *APIClient) InspectContainer(ctx context.Context, id string) (*domain.ContainerRecord, error) {
	resp, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewEngineError("InspectContainer", "container", id, "container not found", ErrContainerNotFound)
		}
		return nil, callError("InspectContainer", "container", id, err)
	}
	rec := fromInspect(resp)
	return &rec, nil
}

// StopContainer stops a running container.
func (c *APIClient) StopContainer(ctx context.Context, id string, timeout *time.Duration) error {
	var opts container.StopOptions
	if timeout != nil {
		secs := int(timeout.Seconds())
		opts.Timeout = &secs
	}

	if err := c.cli.ContainerStop(ctx, id, opts); err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("StopContainer", "container", id, "container not found", ErrContainerNotFound)
		}
		return callError("StopContainer", "container", id, err)
	}
	return nil
}

// RemoveContainer removes a container. A removal blocked by dependent
// containers returns a *DependentsError.
func (c *APIClient) RemoveContainer(ctx context.Context, id string, opts RemoveOptions) error {
	err := c.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         opts.Force,
		RemoveVolumes: opts.RemoveVolumes,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("RemoveContainer", "container", id, "container not found", ErrContainerNotFound)
		}
		return classifyRemoveError("RemoveContainer", id, err)
	}
	return nil
}

// ContainerLogs returns the raw log stream of a container.
func (c *APIClient) ContainerLogs(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error) {
	reader, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       opts.Tail,
		Timestamps: opts.Timestamps,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewEngineError("ContainerLogs", "container", id, "container not found", ErrContainerNotFound)
		}
		return nil, callError("ContainerLogs", "container", id, err)
	}
	return reader, nil
}

// LogTail returns the last lines of a container's combined output.
func (c *APIClient) LogTail(ctx context.Context, id string, lines int) (string, error) {
	resp, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", NewEngineError("LogTail", "container", id, "container not found", ErrContainerNotFound)
		}
		return "", callError("LogTail", "container", id, err)
	}
	tty := resp.Config != nil && resp.Config.Tty

	reader, err := c.ContainerLogs(ctx, id, LogOptions{Tail: strconv.Itoa(lines)})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var buf bytes.Buffer
	if tty {
		_, err = io.Copy(&buf, reader)
	} else {
		_, err = stdcopy.StdCopy(&buf, &buf, reader)
	}
	if err != nil {
		return buf.String(), callError("LogTail", "container", id, err)
	}
	return buf.String(), nil
}

// =============================================================================
// Volume Operations
// =============================================================================

// ListVolumes lists volumes matching every label filter.
func (c *APIClient) ListVolumes(ctx context.Context, labelFilters []string) ([]domain.VolumeRecord, error) {
	f := filters.NewArgs()
	for _, l := range labelFilters {
		f.Add("label", l)
	}

	resp, err := c.cli.VolumeList(ctx, volume.ListOptions{Filters: f})
	if err != nil {
		return nil, callError("ListVolumes", "volume", "", err)
	}

	result := make([]domain.VolumeRecord, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		if v == nil {
			continue
		}
		result = append(result, domain.VolumeRecord{
			Name:    v.Name,
			Project: labels.Project(v.Labels),
			Labels:  v.Labels,
		})
	}
	return result, nil
}

// InspectVolume returns a volume and the containers mounting it.
func (c *APIClient) InspectVolume(ctx context.Context, name string) (*domain.VolumeRecord, error) {
	v, err := c.cli.VolumeInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewEngineError("InspectVolume", "volume", name, "volume not found", ErrVolumeNotFound)
		}
		return nil, callError("InspectVolume", "volume", name, err)
	}

	rec := &domain.VolumeRecord{Name: v.Name, Project: labels.Project(v.Labels), Labels: v.Labels}
	users, err := c.ListContainers(ctx, ListOptions{All: true, Volume: name})
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		rec.Containers = append(rec.Containers, u.ID)
	}
	return rec, nil
}

// RemoveVolume removes a volume.
func (c *APIClient) RemoveVolume(ctx context.Context, name string, force bool) error {
	err := c.cli.VolumeRemove(ctx, name, force)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("RemoveVolume", "volume", name, "volume not found", ErrVolumeNotFound)
		}
		if strings.Contains(err.Error(), "in use") || strings.Contains(err.Error(), "being used") {
			return NewEngineError("RemoveVolume", "volume", name, "volume is in use", ErrVolumeInUse)
		}
		return callError("RemoveVolume", "volume", name, err)
	}
	return nil
}

// =============================================================================
// Network Operations
// =============================================================================

// ListNetworks lists networks matching every label filter. Membership is
// filled by inspecting each network, because list results omit it.
func (c *APIClient) ListNetworks(ctx context.Context, labelFilters []string) ([]domain.NetworkRecord, error) {
	f := filters.NewArgs()
	for _, l := range labelFilters {
		f.Add("label", l)
	}

	nets, err := c.cli.NetworkList(ctx, network.ListOptions{Filters: f})
	if err != nil {
		return nil, callError("ListNetworks", "network", "", err)
	}

	result := make([]domain.NetworkRecord, 0, len(nets))
	for _, n := range nets {
		rec, err := c.InspectNetwork(ctx, n.ID)
		if err != nil {
			// Removed between list and inspect.
			continue
		}
		result = append(result, *rec)
	}
	return result, nil
}

// InspectNetwork returns a network with its attached containers.
func (c *APIClient) InspectNetwork(ctx context.Context, nameOrID string) (*domain.NetworkRecord, error) {
	n, err := c.cli.NetworkInspect(ctx, nameOrID, network.InspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewEngineError("InspectNetwork", "network", nameOrID, "network not found", ErrNetworkNotFound)
		}
		return nil, callError("InspectNetwork", "network", nameOrID, err)
	}

	rec := &domain.NetworkRecord{
		ID:      n.ID,
		Name:    n.Name,
		Project: labels.Project(n.Labels),
		Labels:  n.Labels,
	}
	for id := range n.Containers {
		rec.Containers = append(rec.Containers, id)
	}
	sort.Strings(rec.Containers)
	return rec, nil
}

// RemoveNetwork removes a network.
func (c *APIClient) RemoveNetwork(ctx context.Context, nameOrID string) error {
	err := c.cli.NetworkRemove(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("RemoveNetwork", "network", nameOrID, "network not found", ErrNetworkNotFound)
		}
		if strings.Contains(err.Error(), "has active endpoints") || strings.Contains(err.Error(), "in use") {
			return NewEngineError("RemoveNetwork", "network", nameOrID, "network has active endpoints", ErrNetworkInUse)
		}
		return callError("RemoveNetwork", "network", nameOrID, err)
	}
	return nil
}
