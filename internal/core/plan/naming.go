package plan

import (
	"fmt"
	"strings"

	"github.com/artpar/stackctl/internal/core/manifest"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// VolumeName returns the engine name compose gives a named volume.
// Pattern: {project}_{volume}
//
// Example:
//
//	VolumeName("demo", "search_data") // returns "demo_search_data"
func VolumeName(project, volume string) string {
	return fmt.Sprintf("%s_%s", project, volume)
}

// NetworkName returns the engine name compose gives a project network.
// Pattern: {project}_{network}
//
// Example:
//
//	NetworkName("demo", "default") // returns "demo_default"
func NetworkName(project, network string) string {
	return fmt.Sprintf("%s_%s", project, network)
}

// HasProjectPrefix reports whether name carries the {project}_ prefix.
func HasProjectPrefix(project, name string) bool {
	return project != "" && strings.HasPrefix(name, project+"_")
}

// DeclaredVolumeName returns the engine name for a manifest volume key,
// honouring an explicit name: override.
func DeclaredVolumeName(project string, m *manifest.Manifest, key string) string {
	if decl, ok := m.Volume(key); ok && decl.Name != "" {
		return decl.Name
	}
	return VolumeName(project, key)
}

// DeclaredNetworkName returns the engine name for a manifest network key,
// honouring an explicit name: override.
func DeclaredNetworkName(project string, m *manifest.Manifest, key string) string {
	if decl, ok := m.Network(key); ok && decl.Name != "" {
		return decl.Name
	}
	return NetworkName(project, key)
}
