package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/labels"
	"github.com/artpar/stackctl/internal/shell/execx"
)

// =============================================================================
// Podman Pod Manager
// =============================================================================

// PodmanPods implements PodManager with the podman CLI. The Docker-compatible
// API has no pod endpoints.
type PodmanPods struct {
	runner execx.Runner
	binary string
	logger *slog.Logger
}

// NewPodmanPods creates a pod manager. A nil logger uses slog.Default().
func NewPodmanPods(runner execx.Runner, logger *slog.Logger) *PodmanPods {
	if logger == nil {
		logger = slog.Default()
	}
	return &PodmanPods{runner: runner, binary: "podman", logger: logger}
}

// Available reports whether the podman binary is installed and answers.
func (p *PodmanPods) Available(ctx context.Context) bool {
	if _, err := p.runner.LookPath(p.binary); err != nil {
		return false
	}
	return p.runner.Run(ctx, execx.Cmd{Name: p.binary, Args: []string{"pod", "ps", "-q"}}).OK()
}

// podJSON is one entry of `podman pod ps --format json`.
type podJSON struct {
	ID         string            `json:"Id"`
	Name       string            `json:"Name"`
	InfraID    string            `json:"InfraId"`
	Labels     map[string]string `json:"Labels"`
	Containers []struct {
		ID string `json:"Id"`
	} `json:"Containers"`
}

// ListPods lists every pod. Without podman the result is empty.
func (p *PodmanPods) ListPods(ctx context.Context) ([]domain.PodRecord, error) {
	if _, err := p.runner.LookPath(p.binary); err != nil {
		return nil, nil
	}

	res := p.runner.Run(ctx, execx.Cmd{Name: p.binary, Args: []string{"pod", "ps", "--format", "json"}})
	if !res.OK() {
		return nil, NewEngineError("ListPods", "pod", "", strings.TrimSpace(res.Stderr), ErrPodsNotSupported)
	}
	return ParsePods([]byte(res.Stdout))
}

// RemovePod force-removes a pod and every container in it.
func (p *PodmanPods) RemovePod(ctx context.Context, id string) error {
	res := p.runner.Run(ctx, execx.Cmd{Name: p.binary, Args: []string{"pod", "rm", "-f", id}})
	if res.OK() {
		return nil
	}
	msg := strings.TrimSpace(res.Stderr)
	if strings.Contains(msg, "no pod with name or ID") || strings.Contains(msg, "no such pod") {
		return NewEngineError("RemovePod", "pod", id, "pod not found", ErrPodNotFound)
	}
	return NewEngineError("RemovePod", "pod", id, msg, res.Err)
}

// ParsePods decodes `podman pod ps --format json` output.
func ParsePods(data []byte) ([]domain.PodRecord, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var raw []podJSON
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, NewEngineError("ListPods", "pod", "", "unparseable pod list", err)
	}

	pods := make([]domain.PodRecord, 0, len(raw))
	for _, r := range raw {
		pod := domain.PodRecord{
			ID:      r.ID,
			Name:    r.Name,
			InfraID: r.InfraID,
			Project: labels.Project(r.Labels),
		}
		for _, c := range r.Containers {
			pod.Containers = append(pod.Containers, c.ID)
		}
		pods = append(pods, pod)
	}
	return pods, nil
}

// NoPods is a PodManager for engines without pods.
type NoPods struct{}

func (NoPods) Available(context.Context) bool                       { return false }
func (NoPods) ListPods(context.Context) ([]domain.PodRecord, error) { return nil, nil }
func (NoPods) RemovePod(_ context.Context, id string) error {
	return NewEngineError("RemovePod", "pod", id, "pods not supported", ErrPodsNotSupported)
}
