// Package access maps (role, feature, plan tier) to an allow/deny decision
// and usage limits. Checks are pure table lookups with no I/O.
package access

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Role is a closed set of platform roles.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Feature is a closed set of LLM-backed features.
type Feature string

const (
	FeatureHint        Feature = "hint"
	FeatureExplanation Feature = "explanation"
	FeatureFeedback    Feature = "feedback"
)

// Tier is a closed set of subscription plans.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// AllRoles returns every role in canonical order.
func AllRoles() []Role { return []Role{RoleStudent, RoleInstructor, RoleAdmin} }

// AllFeatures returns every feature in canonical order.
func AllFeatures() []Feature { return []Feature{FeatureHint, FeatureExplanation, FeatureFeedback} }

// AllTiers returns every tier in canonical order.
func AllTiers() []Tier { return []Tier{TierFree, TierStandard, TierPremium} }

func (r Role) Valid() bool {
	for _, v := range AllRoles() {
		if v == r {
			return true
		}
	}
	return false
}

func (f Feature) Valid() bool {
	for _, v := range AllFeatures() {
		if v == f {
			return true
		}
	}
	return false
}

func (t Tier) Valid() bool {
	for _, v := range AllTiers() {
		if v == t {
			return true
		}
	}
	return false
}

// Limits bound one feature for one role and tier. Zero means unlimited.
type Limits struct {
	DailyRequests   int64 `yaml:"daily_requests" json:"daily_requests"`
	MaxInputChars   int   `yaml:"max_input_chars" json:"max_input_chars"`
	MaxOutputTokens int   `yaml:"max_output_tokens" json:"max_output_tokens"`
}

// Entry is one cell of the policy table.
type Entry struct {
	Allowed bool `yaml:"allowed"`
	Limits  `yaml:",inline"`
}

// Table is feature → role → tier → entry.
type Table map[Feature]map[Role]map[Tier]Entry

// Decision reasons.
const (
	ReasonOK             = "ok"
	ReasonNotPermitted   = "not_permitted"
	ReasonUnknownRole    = "unknown_role"
	ReasonUnknownFeature = "unknown_feature"
	ReasonUnknownTier    = "unknown_tier"
	ReasonPolicyGap      = "policy_gap"
)

// Decision is the result of a check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Limits  Limits `json:"limits"`
	Reason  string `json:"reason"`
}

// Checker answers access questions from a validated table.
type Checker struct {
	table Table
}

// NewChecker validates that t covers every feature × role × tier triple
// and names nothing outside the closed sets. Any gap is an error.
func NewChecker(t Table) (*Checker, error) {
	for f, roles := range t {
		if !f.Valid() {
			return nil, fmt.Errorf("access: unknown feature %q", f)
		}
		for r, tiers := range roles {
			if !r.Valid() {
				return nil, fmt.Errorf("access: feature %q: unknown role %q", f, r)
			}
			for tier, e := range tiers {
				if !tier.Valid() {
					return nil, fmt.Errorf("access: %s/%s: unknown tier %q", f, r, tier)
				}
				if e.DailyRequests < 0 || e.MaxInputChars < 0 || e.MaxOutputTokens < 0 {
					return nil, fmt.Errorf("access: %s/%s/%s: negative limit", f, r, tier)
				}
			}
		}
	}
	for _, f := range AllFeatures() {
		for _, r := range AllRoles() {
			for _, tier := range AllTiers() {
				if _, ok := t[f][r][tier]; !ok {
					return nil, fmt.Errorf("access: no policy for %s/%s/%s", f, r, tier)
				}
			}
		}
	}
	return &Checker{table: t}, nil
}

// MustDefault returns a checker over DefaultTable and panics on failure.
func MustDefault() *Checker {
	c, err := NewChecker(DefaultTable())
	if err != nil {
		panic(err)
	}
	return c
}

// Check denies anything unknown.
func (c *Checker) Check(role Role, feature Feature, tier Tier) Decision {
	switch {
	case !role.Valid():
		return Decision{Reason: ReasonUnknownRole}
	case !feature.Valid():
		return Decision{Reason: ReasonUnknownFeature}
	case !tier.Valid():
		return Decision{Reason: ReasonUnknownTier}
	}
	e, ok := c.table[feature][role][tier]
	if !ok {
		return Decision{Reason: ReasonPolicyGap}
	}
	if !e.Allowed {
		return Decision{Limits: e.Limits, Reason: ReasonNotPermitted}
	}
	return Decision{Allowed: true, Limits: e.Limits, Reason: ReasonOK}
}

// Summary checks every feature for one role and tier.
func (c *Checker) Summary(role Role, tier Tier) map[Feature]Decision {
	out := make(map[Feature]Decision, len(AllFeatures()))
	for _, f := range AllFeatures() {
		out[f] = c.Check(role, f, tier)
	}
	return out
}

type tableFile struct {
	Features Table `yaml:"features"`
}

// LoadTable reads a policy table from YAML. A missing file yields
// DefaultTable. Cells present in the file replace the default cells.
func LoadTable(path string) (Table, error) {
	t := DefaultTable()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, err
	}
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing access policy %s: %w", path, err)
	}
	for feat, roles := range f.Features {
		if t[feat] == nil {
			t[feat] = map[Role]map[Tier]Entry{}
		}
		for r, tiers := range roles {
			if t[feat][r] == nil {
				t[feat][r] = map[Tier]Entry{}
			}
			for tier, e := range tiers {
				t[feat][r][tier] = e
			}
		}
	}
	return t, nil
}
