package plan

import (
	"slices"

	"github.com/artpar/stackctl/internal/core/manifest"
)

// =============================================================================
// Service Ordering Functions
// =============================================================================

// Layers groups services into dependency layers using Kahn's algorithm,
// considering only dependencies inside the given set. Every service in a
// layer depends only on services in earlier layers. Within a layer services
// keep manifest order.
//
// Services caught in a cycle are appended as a final layer.
//
// Example:
//
//	// init ← engine ← dashboard
//	Layers(m, []string{"dashboard", "engine", "init"})
//	// Result: [[init], [engine], [dashboard]]
func Layers(m *manifest.Manifest, services []string) [][]string {
	if len(services) == 0 {
		return nil
	}

	ordered := m.SortByManifestOrder(services)
	inSet := make(map[string]bool, len(ordered))
	for _, s := range ordered {
		inSet[s] = true
	}

	inDegree := make(map[string]int)
	dependents := make(map[string][]string)
	for _, name := range ordered {
		svc, _ := m.Service(name)
		for _, dep := range svc.DependsOn {
			if !inSet[dep.Service] || dep.Service == name {
				continue
			}
			inDegree[name]++
			dependents[dep.Service] = append(dependents[dep.Service], name)
		}
	}

	var layers [][]string
	placed := make(map[string]bool)
	current := make([]string, 0)
	for _, name := range ordered {
		if inDegree[name] == 0 {
			current = append(current, name)
		}
	}

	for len(current) > 0 {
		layers = append(layers, current)
		var next []string
		for _, name := range current {
			placed[name] = true
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = m.SortByManifestOrder(next)
	}

	var cyclic []string
	for _, name := range ordered {
		if !placed[name] {
			cyclic = append(cyclic, name)
		}
	}
	if len(cyclic) > 0 {
		layers = append(layers, cyclic)
	}

	return layers
}

// Isolated returns the services that neither depend on nor are depended on
// by another service in the set, in manifest order.
func Isolated(m *manifest.Manifest, services []string) []string {
	linked := make(map[string]bool)
	for _, name := range services {
		svc, ok := m.Service(name)
		if !ok {
			continue
		}
		for _, dep := range svc.DependsOn {
			if dep.Service != name && slices.Contains(services, dep.Service) {
				linked[name] = true
				linked[dep.Service] = true
			}
		}
	}
	var out []string
	for _, name := range m.SortByManifestOrder(services) {
		if !linked[name] {
			out = append(out, name)
		}
	}
	return out
}

// HasInternalDependencies reports whether any service in the set depends on
// another service in the set.
func HasInternalDependencies(m *manifest.Manifest, services []string) bool {
	for _, name := range services {
		svc, ok := m.Service(name)
		if !ok {
			continue
		}
		for _, dep := range svc.DependsOn {
			if dep.Service != name && slices.Contains(services, dep.Service) {
				return true
			}
		}
	}
	return false
}
