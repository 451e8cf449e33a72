package manifest

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseOptions control how a manifest is parsed.
type ParseOptions struct {
	// Path is recorded on the manifest and used in error messages.
	Path string
	// ProjectName is passed to the enrichment loader.
	ProjectName string
	// Environment is used for variable interpolation during enrichment.
	Environment map[string]string
	// SkipEnrichment disables the compose loader pass.
	SkipEnrichment bool
}

// =============================================================================
// Parser Functions
// =============================================================================

// Parse builds a Manifest from raw YAML.
//
// The structural pass walks the YAML node tree directly and succeeds for any
// document with a services mapping. Malformed per-service blocks are skipped
// and reported in Manifest.Warnings. The structural result is then enriched by
// the compose loader when it accepts the document.
func Parse(content []byte, opts ParseOptions) (*Manifest, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, NewManifestError(opts.Path, "manifest is empty", ErrManifestUnparseable)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, NewManifestError(opts.Path, fmt.Sprintf("invalid YAML: %v", err), ErrManifestUnparseable)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, NewManifestError(opts.Path, "top level is not a mapping", ErrManifestUnparseable)
	}
	root := doc.Content[0]

	servicesNode := mappingValue(root, "services")
	if servicesNode == nil || servicesNode.Kind != yaml.MappingNode {
		return nil, NewManifestError(opts.Path, "no services mapping", ErrManifestUnparseable)
	}

	m := &Manifest{Path: opts.Path}
	for i := 0; i+1 < len(servicesNode.Content); i += 2 {
		name := servicesNode.Content[i].Value
		body := servicesNode.Content[i+1]
		svc, warnings := parseService(name, body)
		m.Services = append(m.Services, svc)
		m.Warnings = append(m.Warnings, warnings...)
	}

	m.Volumes = parseVolumeDecls(mappingValue(root, "volumes"))
	m.Networks = parseNetworkDecls(mappingValue(root, "networks"))
	m.reindex()

	if !opts.SkipEnrichment {
		if err := enrich(m, content, opts); err != nil {
			m.Warnings = append(m.Warnings, fmt.Sprintf("compose loader enrichment skipped: %v", err))
		}
	}

	return m, nil
}

// parseService converts one services.<name> node. It never fails; blocks it
// cannot read are dropped with a warning.
func parseService(name string, body *yaml.Node) (Service, []string) {
	svc := Service{Name: name}
	var warnings []string

	if body == nil || body.Kind != yaml.MappingNode {
		// `svc:` with a null body is legal compose shorthand for nothing.
		return svc, nil
	}

	if node := mappingValue(body, "profiles"); node != nil {
		profiles, ok := normalizeProfiles(node)
		if ok {
			svc.Profiles = profiles
		} else {
			svc.ProfilesMalformed = true
			warnings = append(warnings, fmt.Sprintf("services.%s.profiles: unrecognized profile declaration ignored", name))
		}
	}

	svc.HasBuild = mappingValue(body, "build") != nil
	svc.Volumes = parseServiceVolumes(mappingValue(body, "volumes"))
	svc.Networks = keysOrItems(mappingValue(body, "networks"))
	svc.DependsOn = parseDependsOn(mappingValue(body, "depends_on"))
	svc.HasHealthcheck = hasHealthcheck(mappingValue(body, "healthcheck"))
	svc.Labels = parseLabels(mappingValue(body, "labels"))

	if node := mappingValue(body, "restart"); node != nil && node.Kind == yaml.ScalarNode {
		svc.Restart = node.Value
	}

	return svc, warnings
}

// normalizeProfiles accepts a bare scalar, a flow list or a block list.
// Flow and block lists are the same node kind once parsed. A scalar is never
// split on commas.
func normalizeProfiles(node *yaml.Node) ([]string, bool) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, true
		}
		v := strings.TrimSpace(node.Value)
		if v == "" {
			return nil, true
		}
		return []string{v}, true
	case yaml.SequenceNode:
		var out []string
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, false
			}
			v := strings.TrimSpace(item.Value)
			if v != "" && !slices.Contains(out, v) {
				out = append(out, v)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// =============================================================================
// Volume Parsing
// =============================================================================

var bindPrefixes = []string{"/", "./", "../", "~", "$"}

// IsNamedVolumeSource reports whether a volume source refers to a named volume
// rather than a host path or an interpolated expression.
func IsNamedVolumeSource(source string) bool {
	if source == "" {
		return false
	}
	for _, p := range bindPrefixes {
		if strings.HasPrefix(source, p) {
			return false
		}
	}
	return true
}

func parseServiceVolumes(node *yaml.Node) []string {
	if node == nil || node.Kind != yaml.SequenceNode {
		return nil
	}

	var out []string
	for _, item := range node.Content {
		var source string
		switch item.Kind {
		case yaml.ScalarNode:
			parts := strings.Split(item.Value, ":")
			if len(parts) < 2 {
				continue // anonymous volume
			}
			source = parts[0]
		case yaml.MappingNode:
			if t := mappingValue(item, "type"); t != nil && t.Value != "" && t.Value != "volume" {
				continue
			}
			if s := mappingValue(item, "source"); s != nil {
				source = s.Value
			}
		}
		if IsNamedVolumeSource(source) && !slices.Contains(out, source) {
			out = append(out, source)
		}
	}
	return out
}

func parseVolumeDecls(node *yaml.Node) []VolumeDecl {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	var out []VolumeDecl
	for i := 0; i+1 < len(node.Content); i += 2 {
		name, external := declNameAndExternal(node.Content[i+1])
		out = append(out, VolumeDecl{Key: node.Content[i].Value, Name: name, External: external})
	}
	return out
}

func parseNetworkDecls(node *yaml.Node) []NetworkDecl {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	var out []NetworkDecl
	for i := 0; i+1 < len(node.Content); i += 2 {
		name, external := declNameAndExternal(node.Content[i+1])
		out = append(out, NetworkDecl{Key: node.Content[i].Value, Name: name, External: external})
	}
	return out
}

// declNameAndExternal reads `name:` and `external:` from a top-level volume or
// network body. The legacy `external: {name: x}` form is honoured.
func declNameAndExternal(body *yaml.Node) (string, bool) {
	if body == nil || body.Kind != yaml.MappingNode {
		return "", false
	}
	var name string
	if n := mappingValue(body, "name"); n != nil && n.Kind == yaml.ScalarNode {
		name = n.Value
	}
	ext := mappingValue(body, "external")
	if ext == nil {
		return name, false
	}
	switch ext.Kind {
	case yaml.ScalarNode:
		return name, ext.Value == "true"
	case yaml.MappingNode:
		if n := mappingValue(ext, "name"); n != nil && name == "" {
			name = n.Value
		}
		return name, true
	}
	return name, false
}

// =============================================================================
// Dependencies, Health, Labels
// =============================================================================

func parseDependsOn(node *yaml.Node) []Dependency {
	if node == nil {
		return nil
	}
	var out []Dependency
	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind == yaml.ScalarNode && item.Value != "" {
				out = append(out, Dependency{Service: item.Value, Condition: ConditionStarted})
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			dep := Dependency{Service: node.Content[i].Value, Condition: ConditionStarted}
			if c := mappingValue(node.Content[i+1], "condition"); c != nil && c.Value != "" {
				dep.Condition = DependencyCondition(c.Value)
			}
			out = append(out, dep)
		}
	}
	return out
}

func hasHealthcheck(node *yaml.Node) bool {
	if node == nil || node.Kind != yaml.MappingNode {
		return false
	}
	if d := mappingValue(node, "disable"); d != nil && d.Value == "true" {
		return false
	}
	test := mappingValue(node, "test")
	if test == nil {
		return false
	}
	switch test.Kind {
	case yaml.ScalarNode:
		return test.Value != "" && test.Value != "NONE"
	case yaml.SequenceNode:
		return len(test.Content) > 0 && test.Content[0].Value != "NONE"
	}
	return false
}

func parseLabels(node *yaml.Node) map[string]string {
	if node == nil {
		return nil
	}
	labels := make(map[string]string)
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			labels[node.Content[i].Value] = node.Content[i+1].Value
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			k, v, _ := strings.Cut(item.Value, "=")
			if k != "" {
				labels[k] = v
			}
		}
	}
	if len(labels) == 0 {
		return nil
	}
	return labels
}

// =============================================================================
// Node Helpers
// =============================================================================

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			v := node.Content[i+1]
			if v.Kind == yaml.AliasNode && v.Alias != nil {
				return v.Alias
			}
			return v
		}
	}
	return nil
}

// keysOrItems returns mapping keys or scalar sequence items.
func keysOrItems(node *yaml.Node) []string {
	if node == nil {
		return nil
	}
	var out []string
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			out = append(out, node.Content[i].Value)
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind == yaml.ScalarNode {
				out = append(out, item.Value)
			}
		}
	}
	return out
}
