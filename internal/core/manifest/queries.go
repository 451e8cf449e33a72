package manifest

import "slices"

// =============================================================================
// Manifest Queries (Pure Functions)
// =============================================================================

func (m *Manifest) reindex() {
	m.index = make(map[string]int, len(m.Services))
	for i, s := range m.Services {
		m.index[s.Name] = i
	}
}

// Service returns the named service.
func (m *Manifest) Service(name string) (Service, bool) {
	if m.index == nil {
		m.reindex()
	}
	i, ok := m.index[name]
	if !ok {
		return Service{}, false
	}
	return m.Services[i], true
}

// HasService reports whether the manifest declares the named service.
func (m *Manifest) HasService(name string) bool {
	_, ok := m.Service(name)
	return ok
}

// ServiceNames returns every service name in manifest order.
func (m *Manifest) ServiceNames() []string {
	names := make([]string, 0, len(m.Services))
	for _, s := range m.Services {
		names = append(names, s.Name)
	}
	return names
}

// ProfileServices returns the services whose profile set contains profile,
// in manifest order. Always-active services are not members of any profile.
func (m *Manifest) ProfileServices(profile string) []Service {
	var out []Service
	for _, s := range m.Services {
		if s.InProfile(profile) {
			out = append(out, s)
		}
	}
	return out
}

// ProfileServiceNames is ProfileServices reduced to names.
func (m *Manifest) ProfileServiceNames(profile string) []string {
	var out []string
	for _, s := range m.ProfileServices(profile) {
		out = append(out, s.Name)
	}
	return out
}

// Profiles returns every declared profile in order of first appearance.
func (m *Manifest) Profiles() []string {
	var out []string
	for _, s := range m.Services {
		for _, p := range s.Profiles {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// AlwaysActiveServices returns the names of services that declare no profile.
func (m *Manifest) AlwaysActiveServices() []string {
	var out []string
	for _, s := range m.Services {
		if s.AlwaysActive() {
			out = append(out, s.Name)
		}
	}
	return out
}

// SortByManifestOrder orders names by their position in the manifest.
// Unknown names keep their relative order after the known ones.
func (m *Manifest) SortByManifestOrder(names []string) []string {
	if m.index == nil {
		m.reindex()
	}
	out := slices.Clone(names)
	pos := func(n string) int {
		if s, ok := m.index[n]; ok {
			return s
		}
		return len(m.Services)
	}
	slices.SortStableFunc(out, func(a, b string) int {
		return pos(a) - pos(b)
	})
	return out
}

// VolumesFor returns the named volumes mounted by the given services.
func (m *Manifest) VolumesFor(services []string) []string {
	var out []string
	for _, name := range services {
		s, ok := m.Service(name)
		if !ok {
			continue
		}
		for _, v := range s.Volumes {
			if !slices.Contains(out, v) {
				out = append(out, v)
			}
		}
	}
	return out
}

// NetworksFor returns the network keys used by the given services.
func (m *Manifest) NetworksFor(services []string) []string {
	var out []string
	for _, name := range services {
		s, ok := m.Service(name)
		if !ok {
			continue
		}
		for _, n := range s.NetworkNames() {
			if !slices.Contains(out, n) {
				out = append(out, n)
			}
		}
	}
	return out
}

// Volume returns the top-level declaration for a volume key.
func (m *Manifest) Volume(key string) (VolumeDecl, bool) {
	for _, v := range m.Volumes {
		if v.Key == key {
			return v, true
		}
	}
	return VolumeDecl{}, false
}

// Network returns the top-level declaration for a network key.
func (m *Manifest) Network(key string) (NetworkDecl, bool) {
	for _, n := range m.Networks {
		if n.Key == key {
			return n, true
		}
	}
	return NetworkDecl{}, false
}

// ExternalNetworkNames returns the engine names of networks declared external.
// Both the key and the explicit name are included.
func (m *Manifest) ExternalNetworkNames() []string {
	var out []string
	for _, n := range m.Networks {
		if !n.External {
			continue
		}
		out = append(out, n.Key)
		if n.Name != "" && n.Name != n.Key {
			out = append(out, n.Name)
		}
	}
	return out
}

// ExternalVolumeNames returns the engine names of volumes declared external.
func (m *Manifest) ExternalVolumeNames() []string {
	var out []string
	for _, v := range m.Volumes {
		if !v.External {
			continue
		}
		out = append(out, v.Key)
		if v.Name != "" && v.Name != v.Key {
			out = append(out, v.Name)
		}
	}
	return out
}

// Dependents returns services in the set that depend on name.
func (m *Manifest) Dependents(name string, within []string) []Service {
	var out []Service
	for _, n := range within {
		s, ok := m.Service(n)
		if !ok {
			continue
		}
		if _, dep := s.DependsOnService(name); dep {
			out = append(out, s)
		}
	}
	return out
}
