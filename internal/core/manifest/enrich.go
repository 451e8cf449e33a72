package manifest

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// enrich runs the reference compose loader over the document and copies the
// fields it resolves more precisely than the structural pass: dependency
// conditions, healthchecks, and interpolated names and external flags.
// Service membership and order always come from the structural pass.
func enrich(m *Manifest, content []byte, opts ParseOptions) error {
	project, err := loadProject(content, opts)
	if err != nil {
		return err
	}

	for i := range m.Services {
		svc := &m.Services[i]
		cfg, ok := project.Services[svc.Name]
		if !ok {
			continue
		}
		if len(cfg.DependsOn) > 0 {
			svc.DependsOn = mergeDependencies(svc.DependsOn, cfg.DependsOn)
		}
		if cfg.HealthCheck != nil {
			svc.HasHealthcheck = !cfg.HealthCheck.Disable && !isNoneTest(cfg.HealthCheck.Test)
		}
		if cfg.Build != nil {
			svc.HasBuild = true
		}
		if cfg.Restart != "" {
			svc.Restart = cfg.Restart
		}
	}

	for i := range m.Volumes {
		v := &m.Volumes[i]
		if cfg, ok := project.Volumes[v.Key]; ok {
			v.External = v.External || bool(cfg.External)
			if cfg.Name != "" {
				v.Name = cfg.Name
			}
		}
	}

	for i := range m.Networks {
		n := &m.Networks[i]
		if cfg, ok := project.Networks[n.Key]; ok {
			n.External = n.External || bool(cfg.External)
			if cfg.Name != "" {
				n.Name = cfg.Name
			}
		}
	}

	return nil
}

func loadProject(content []byte, opts ParseOptions) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, err
	}
	if dict == nil {
		return nil, errors.New("empty document")
	}

	name := opts.ProjectName
	if name == "" {
		name = "stackctl"
	}

	return loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Filename: opts.Path,
				Content:  content,
				Config:   dict,
			},
		},
		Environment: types.Mapping(opts.Environment),
	}, func(o *loader.Options) {
		o.SetProjectName(name, true)
		o.Profiles = []string{"*"}
		o.SkipValidation = true
		o.SkipInterpolation = false
		o.SkipNormalization = true
		o.SkipExtends = true
		o.ResolvePaths = false
		o.SkipResolveEnvironment = true
	})
}

// mergeDependencies keeps the structural order and takes conditions from the
// loader. Entries only the loader knows about are appended.
func mergeDependencies(structural []Dependency, resolved types.DependsOnConfig) []Dependency {
	out := make([]Dependency, 0, len(resolved))
	seen := make(map[string]bool)
	for _, d := range structural {
		if r, ok := resolved[d.Service]; ok && r.Condition != "" {
			d.Condition = DependencyCondition(r.Condition)
		}
		out = append(out, d)
		seen[d.Service] = true
	}
	var extra []string
	for name := range resolved {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		r := resolved[name]
		cond := DependencyCondition(r.Condition)
		if cond == "" {
			cond = ConditionStarted
		}
		out = append(out, Dependency{Service: name, Condition: cond})
	}
	return out
}

func isNoneTest(test types.HealthCheckTest) bool {
	return len(test) == 0 || strings.EqualFold(test[0], "NONE")
}
