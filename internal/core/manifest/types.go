package manifest

import "slices"

// =============================================================================
// Manifest - Main Output Type
// =============================================================================

// Manifest is the in-memory representation of a service manifest.
// Services keep file order. A Manifest is read-only once built.
type Manifest struct {
	Path     string         `json:"path,omitempty"`
	Services []Service      `json:"services"`
	Volumes  []VolumeDecl   `json:"volumes,omitempty"`
	Networks []NetworkDecl  `json:"networks,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	index    map[string]int `json:"-"`
}

// =============================================================================
// Service Types
// =============================================================================

// Service describes a single service entry in the manifest.
type Service struct {
	Name           string            `json:"name"`
	Profiles       []string          `json:"profiles,omitempty"`
	HasBuild       bool              `json:"has_build"`
	Volumes        []string          `json:"volumes,omitempty"` // named volumes only
	Networks       []string          `json:"networks,omitempty"`
	DependsOn      []Dependency      `json:"depends_on,omitempty"`
	HasHealthcheck bool              `json:"has_healthcheck"`
	Restart        string            `json:"restart,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`

	// ProfilesMalformed is set when the profiles block could not be read.
	// Such a service belongs to no profile and is not always-active either.
	ProfilesMalformed bool `json:"profiles_malformed,omitempty"`
}

// Dependency is a depends_on entry.
type Dependency struct {
	Service   string              `json:"service"`
	Condition DependencyCondition `json:"condition"`
}

// DependencyCondition is the compose depends_on condition.
type DependencyCondition string

const (
	ConditionStarted               DependencyCondition = "service_started"
	ConditionHealthy               DependencyCondition = "service_healthy"
	ConditionCompletedSuccessfully DependencyCondition = "service_completed_successfully"
)

// InProfile reports whether the service declares the given profile.
func (s Service) InProfile(profile string) bool {
	return slices.Contains(s.Profiles, profile)
}

// AlwaysActive reports whether the service declares no profiles at all.
func (s Service) AlwaysActive() bool {
	return len(s.Profiles) == 0 && !s.ProfilesMalformed
}

// DependsOnService reports whether s depends on the named service.
func (s Service) DependsOnService(name string) (Dependency, bool) {
	for _, d := range s.DependsOn {
		if d.Service == name {
			return d, true
		}
	}
	return Dependency{}, false
}

// NetworkNames returns the networks the service attaches to.
// A service without explicit networks is on the project default network.
func (s Service) NetworkNames() []string {
	if len(s.Networks) == 0 {
		return []string{DefaultNetwork}
	}
	return s.Networks
}

// =============================================================================
// Top-level Resource Types
// =============================================================================

// DefaultNetwork is the key of the implicit project network.
const DefaultNetwork = "default"

// VolumeDecl is a top-level named volume declaration.
type VolumeDecl struct {
	Key      string `json:"key"`
	Name     string `json:"name,omitempty"` // explicit name: override
	External bool   `json:"external"`
}

// NetworkDecl is a top-level network declaration.
type NetworkDecl struct {
	Key      string `json:"key"`
	Name     string `json:"name,omitempty"`
	External bool   `json:"external"`
}
