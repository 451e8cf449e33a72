package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/labels"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Engine → Domain Conversion
// =============================================================================

var exitedStatus = regexp.MustCompile(`^Exited \((-?\d+)\)`)

// normalizeState maps engine lifecycle strings to domain states. Podman
// reports a few states of its own through the compatible API.
func normalizeState(s string) domain.ContainerState {
	switch strings.ToLower(s) {
	case "created", "configured", "initialized":
		return domain.StateCreated
	case "running":
		return domain.StateRunning
	case "paused":
		return domain.StatePaused
	case "restarting":
		return domain.StateRestarting
	case "removing", "stopping":
		return domain.StateRemoving
	case "exited", "stopped":
		return domain.StateExited
	case "dead":
		return domain.StateDead
	default:
		return domain.ContainerState(strings.ToLower(s))
	}
}

// healthFromStatus reads the healthcheck state from the human status column,
// e.g. "Up 5 minutes (healthy)" or "Up 3 seconds (health: starting)".
func healthFromStatus(status string) domain.HealthState {
	switch {
	case strings.Contains(status, "(unhealthy)"):
		return domain.HealthUnhealthy
	case strings.Contains(status, "(healthy)"):
		return domain.HealthHealthy
	case strings.Contains(status, "health: starting"), strings.Contains(status, "(starting)"):
		return domain.HealthStarting
	}
	return domain.HealthNone
}

// exitCodeFromStatus reads the exit code from "Exited (N) ...".
func exitCodeFromStatus(status string) *int {
	m := exitedStatus.FindStringSubmatch(status)
	if m == nil {
		return nil
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &code
}

func namedVolumes(mounts []container.MountPoint) []string {
	var out []string
	for _, m := range mounts {
		if m.Type == mount.TypeVolume && m.Name != "" {
			out = append(out, m.Name)
		}
	}
	return out
}

// formatPort renders a published port as ip:public->private/proto.
func formatPort(ip string, public uint16, private uint16, proto string) string {
	port, err := nat.NewPort(proto, strconv.Itoa(int(private)))
	if err != nil {
		return fmt.Sprintf("%d", private)
	}
	if public == 0 {
		return string(port)
	}
	if ip == "" {
		ip = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d->%s", ip, public, port)
}

func portsFromMap(pm nat.PortMap) []string {
	var out []string
	for p, bindings := range pm {
		private, _ := strconv.Atoi(p.Port())
		if len(bindings) == 0 {
			out = append(out, formatPort("", 0, uint16(private), p.Proto()))
			continue
		}
		for _, b := range bindings {
			public, _ := strconv.Atoi(b.HostPort)
			out = append(out, formatPort(b.HostIP, uint16(public), uint16(private), p.Proto()))
		}
	}
	sort.Strings(out)
	return out
}

// fromSummary converts a list entry. The exit code and health are parsed
// from the status column because list results do not carry them.
func fromSummary(c container.Summary) domain.ContainerRecord {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	rec := domain.ContainerRecord{
		ID:      c.ID,
		Name:    name,
		Image:   c.Image,
		Project: labels.Project(c.Labels),
		Service: labels.Service(c.Labels),
		State:   normalizeState(string(c.State)),
		Health:  healthFromStatus(c.Status),
		Volumes: namedVolumes(c.Mounts),
		Labels:  c.Labels,
	}
	if rec.State == domain.StateExited {
		rec.ExitCode = exitCodeFromStatus(c.Status)
	}
	if c.NetworkSettings != nil {
		for n := range c.NetworkSettings.Networks {
			rec.Networks = append(rec.Networks, n)
		}
		sort.Strings(rec.Networks)
	}
	for _, p := range c.Ports {
		rec.Ports = append(rec.Ports, formatPort(p.IP, p.PublicPort, p.PrivatePort, p.Type))
	}
	return rec
}

// fromInspect converts a full inspect response.
func fromInspect(resp container.InspectResponse) domain.ContainerRecord {
	rec := domain.ContainerRecord{
		Volumes: namedVolumes(resp.Mounts),
	}
	if resp.ContainerJSONBase != nil {
		rec.ID = resp.ID
		rec.Name = strings.TrimPrefix(resp.Name, "/")
		if resp.State != nil {
			rec.State = normalizeState(string(resp.State.Status))
			rec.Health = domain.HealthNone
			if resp.State.Health != nil {
				rec.Health = domain.NormalizeHealth(string(resp.State.Health.Status))
			}
			if rec.State == domain.StateExited || rec.State == domain.StateDead {
				code := resp.State.ExitCode
				rec.ExitCode = &code
			}
		}
	}
	if resp.Config != nil {
		rec.Image = resp.Config.Image
		rec.Labels = resp.Config.Labels
		rec.Project = labels.Project(resp.Config.Labels)
		rec.Service = labels.Service(resp.Config.Labels)
	}
	if resp.NetworkSettings != nil {
		for n := range resp.NetworkSettings.Networks {
			rec.Networks = append(rec.Networks, n)
		}
		sort.Strings(rec.Networks)
		rec.Ports = portsFromMap(resp.NetworkSettings.Ports)
	}
	return rec
}
