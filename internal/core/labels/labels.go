// Package labels models the two compose labelling conventions engines use to
// mark project and service membership.
// This is part of the Functional Core: no I/O.
package labels

// =============================================================================
// Label Schemes
// =============================================================================

// Scheme is one label namespace.
type Scheme interface {
	// Name identifies the scheme in logs.
	Name() string
	// ProjectKey is the label carrying the compose project name.
	ProjectKey() string
	// ServiceKey is the label carrying the compose service name.
	ServiceKey() string
}

type scheme struct {
	name    string
	project string
	service string
}

func (s scheme) Name() string       { return s.name }
func (s scheme) ProjectKey() string { return s.project }
func (s scheme) ServiceKey() string { return s.service }

var (
	// Docker is the com.docker.compose.* namespace written by docker compose
	// and by podman's docker-compatible path.
	Docker Scheme = scheme{
		name:    "docker",
		project: "com.docker.compose.project",
		service: "com.docker.compose.service",
	}

	// Podman is the io.podman.compose.* namespace written by podman-compose.
	Podman Scheme = scheme{
		name:    "podman",
		project: "io.podman.compose.project",
		service: "io.podman.compose.service",
	}
)

// All returns every scheme in reconciliation preference order.
func All() []Scheme {
	return []Scheme{Docker, Podman}
}

// =============================================================================
// Filters
// =============================================================================

// ProjectFilter returns the key=value label filter selecting a project.
func ProjectFilter(s Scheme, project string) string {
	return s.ProjectKey() + "=" + project
}

// ServiceFilter returns the key=value label filter selecting a service.
func ServiceFilter(s Scheme, service string) string {
	return s.ServiceKey() + "=" + service
}

// =============================================================================
// Reconciliation
// =============================================================================

// OneOffKey marks containers created by "compose run" rather than "up".
const OneOffKey = "com.docker.compose.oneoff"

// IsOneOff reports whether labels mark a one-off "compose run" container.
func IsOneOff(l map[string]string) bool {
	switch l[OneOffKey] {
	case "True", "true":
		return true
	}
	return false
}

// Project returns the project recorded in labels, preferring the first
// scheme that yields a non-empty value.
func Project(l map[string]string) string {
	for _, s := range All() {
		if v := l[s.ProjectKey()]; v != "" {
			return v
		}
	}
	return ""
}

// Service returns the service recorded in labels, preferring the first
// scheme that yields a non-empty value.
func Service(l map[string]string) string {
	for _, s := range All() {
		if v := l[s.ServiceKey()]; v != "" {
			return v
		}
	}
	return ""
}

// Matches reports whether labels mark membership of project and, when
// service is non-empty, of that service. Either scheme may satisfy it.
func Matches(l map[string]string, project, service string) bool {
	if project == "" || Project(l) != project {
		return false
	}
	return service == "" || Service(l) == service
}
