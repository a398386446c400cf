package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gzhole/eduguard/internal/threat"
)

// Overrides adjusts the built-in spec from an operator-owned YAML file.
type Overrides struct {
	Thresholds    map[threat.Category]Thresholds `yaml:"thresholds"`
	DisabledRules []string                       `yaml:"disabled_rules"`
	ExtraRules    []RuleDef                      `yaml:"extra_rules"`
	ExtraAllow    []AllowDef                     `yaml:"extra_allow"`
}

// LoadOverrides reads overrides from path. A missing file yields empty
// overrides.
func LoadOverrides(path string) (Overrides, error) {
	var o Overrides
	if path == "" {
		return o, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return o, err
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parsing catalog overrides %s: %w", path, err)
	}
	return o, nil
}

// Apply returns a copy of spec with the overrides merged in. Threshold
// entries replace whole step tables; unknown categories surface as errors
// from New.
func (o Overrides) Apply(spec Spec) Spec {
	out := Spec{
		Thresholds: make(map[threat.Category]Thresholds, len(spec.Thresholds)),
	}
	for k, v := range spec.Thresholds {
		out.Thresholds[k] = v
	}
	for k, v := range o.Thresholds {
		out.Thresholds[k] = v
	}

	disabled := make(map[string]bool, len(o.DisabledRules))
	for _, l := range o.DisabledRules {
		disabled[l] = true
	}
	for _, r := range spec.Rules {
		if !disabled[r.Label] {
			out.Rules = append(out.Rules, r)
		}
	}
	out.Rules = append(out.Rules, o.ExtraRules...)

	out.Allow = append(out.Allow, spec.Allow...)
	out.Allow = append(out.Allow, o.ExtraAllow...)
	return out
}
