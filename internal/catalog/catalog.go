// Package catalog compiles the fixed detection rule set and the per-category
// score thresholds into an immutable Catalog. A Catalog is built once at
// startup and shared by reference with every detector; it has no mutation
// API, so concurrent readers need no locking.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/gzhole/eduguard/internal/threat"
)

// RuleDef is the uncompiled form of a detection rule.
type RuleDef struct {
	Label     string          `yaml:"label"`
	Category  threat.Category `yaml:"category"`
	Pattern   string          `yaml:"pattern"`
	Score     float64         `yaml:"score"`
	Priority  int             `yaml:"priority,omitempty"`
	Redact    bool            `yaml:"redact,omitempty"`
	Validator string          `yaml:"validator,omitempty"` // "luhn", "entropy"
}

// AllowDef is an allow-list pattern. A deny match lying entirely inside an
// allow match for the same category is suppressed.
type AllowDef struct {
	Label      string            `yaml:"label"`
	Categories []threat.Category `yaml:"categories"`
	Pattern    string            `yaml:"pattern"`
}

// Thresholds is the minimum score for each non-none level. Scores on a
// boundary take the higher level.
type Thresholds struct {
	Low      float64 `yaml:"low"`
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

func (t Thresholds) validate() error {
	steps := []float64{t.Low, t.Medium, t.High, t.Critical}
	prev := 0.0
	for i, s := range steps {
		if s <= 0 || s > 1 {
			return fmt.Errorf("threshold %d out of range (0,1]: %v", i, s)
		}
		if s < prev {
			return fmt.Errorf("thresholds must be non-decreasing: %v", steps)
		}
		prev = s
	}
	return nil
}

// Level maps a score onto the step function.
func (t Thresholds) Level(score float64) threat.Level {
	switch {
	case score >= t.Critical:
		return threat.LevelCritical
	case score >= t.High:
		return threat.LevelHigh
	case score >= t.Medium:
		return threat.LevelMedium
	case score >= t.Low:
		return threat.LevelLow
	default:
		return threat.LevelNone
	}
}

// Spec is the full uncompiled rule set.
type Spec struct {
	Rules      []RuleDef                      `yaml:"rules"`
	Allow      []AllowDef                     `yaml:"allow"`
	Thresholds map[threat.Category]Thresholds `yaml:"thresholds"`
}

// Rule is a compiled detection rule.
type Rule struct {
	Label     string
	Category  threat.Category
	BaseScore float64
	Priority  int
	Redact    bool

	re       *regexp.Regexp
	validate func(string) bool
}

// Match is one accepted rule hit.
type Match struct {
	Rule *Rule
	Span threat.Span
}

// FindAll returns every validated, non-overlapping match of the rule in text.
func (r *Rule) FindAll(text string) []Match {
	locs := r.re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	out := make([]Match, 0, len(locs))
	for _, loc := range locs {
		if r.validate != nil && !r.validate(text[loc[0]:loc[1]]) {
			continue
		}
		out = append(out, Match{Rule: r, Span: threat.Span{Start: loc[0], End: loc[1]}})
	}
	return out
}

type allowRule struct {
	label string
	re    *regexp.Regexp
}

// Catalog is the immutable compiled rule set.
type Catalog struct {
	rules      map[threat.Category][]*Rule
	allow      map[threat.Category][]allowRule
	redactable []*Rule
	thresholds map[threat.Category]Thresholds
	version    string
}

// New compiles spec. Any error here is meant to abort startup.
func New(spec Spec) (*Catalog, error) {
	c := &Catalog{
		rules:      make(map[threat.Category][]*Rule),
		allow:      make(map[threat.Category][]allowRule),
		thresholds: make(map[threat.Category]Thresholds),
	}

	for _, cat := range threat.AllCategories() {
		t, ok := spec.Thresholds[cat]
		if !ok {
			return nil, fmt.Errorf("catalog: no thresholds for category %q", cat)
		}
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("catalog: category %q: %w", cat, err)
		}
		c.thresholds[cat] = t
	}
	for cat := range spec.Thresholds {
		if !cat.Valid() {
			return nil, fmt.Errorf("catalog: thresholds for unknown category %q", cat)
		}
	}

	for _, def := range spec.Rules {
		r, err := compileRule(def)
		if err != nil {
			return nil, err
		}
		c.rules[r.Category] = append(c.rules[r.Category], r)
		if r.Redact {
			c.redactable = append(c.redactable, r)
		}
	}
	for cat := range c.rules {
		sortRules(c.rules[cat])
	}
	sortRules(c.redactable)

	for _, def := range spec.Allow {
		re, err := regexp.Compile(def.Pattern)
		if err != nil {
			return nil, fmt.Errorf("catalog: allow rule %q: %w", def.Label, err)
		}
		if len(def.Categories) == 0 {
			return nil, fmt.Errorf("catalog: allow rule %q has no categories", def.Label)
		}
		for _, cat := range def.Categories {
			if !cat.Valid() {
				return nil, fmt.Errorf("catalog: allow rule %q: unknown category %q", def.Label, cat)
			}
			c.allow[cat] = append(c.allow[cat], allowRule{label: def.Label, re: re})
		}
	}

	c.version = fingerprint(spec)
	return c, nil
}

func compileRule(def RuleDef) (*Rule, error) {
	if def.Label == "" {
		return nil, fmt.Errorf("catalog: rule with empty label (pattern %q)", def.Pattern)
	}
	if !def.Category.Valid() {
		return nil, fmt.Errorf("catalog: rule %q: unknown category %q", def.Label, def.Category)
	}
	if def.Score < 0 || def.Score > 1 {
		return nil, fmt.Errorf("catalog: rule %q: score %v outside [0,1]", def.Label, def.Score)
	}
	re, err := regexp.Compile(def.Pattern)
	if err != nil {
		return nil, fmt.Errorf("catalog: rule %q: %w", def.Label, err)
	}
	r := &Rule{
		Label:     def.Label,
		Category:  def.Category,
		BaseScore: def.Score,
		Priority:  def.Priority,
		Redact:    def.Redact,
		re:        re,
	}
	if def.Validator != "" {
		v, ok := validators[def.Validator]
		if !ok {
			return nil, fmt.Errorf("catalog: rule %q: unknown validator %q", def.Label, def.Validator)
		}
		r.validate = v
	}
	return r, nil
}

// sortRules orders by priority, then score, then label.
func sortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		if rules[i].BaseScore != rules[j].BaseScore {
			return rules[i].BaseScore > rules[j].BaseScore
		}
		return rules[i].Label < rules[j].Label
	})
}

// Rules returns the compiled rules for category in priority order. The
// returned slice must not be modified.
func (c *Catalog) Rules(cat threat.Category) []*Rule {
	return c.rules[cat]
}

// Allowed reports whether span is covered by an allow-list match for cat.
func (c *Catalog) Allowed(cat threat.Category, text string, span threat.Span) bool {
	for _, a := range c.allow[cat] {
		for _, loc := range a.re.FindAllStringIndex(text, -1) {
			if (threat.Span{Start: loc[0], End: loc[1]}).Covers(span) {
				return true
			}
		}
	}
	return false
}

// Thresholds returns the step table for cat.
func (c *Catalog) Thresholds(cat threat.Category) Thresholds {
	return c.thresholds[cat]
}

// LevelFor maps a category score onto a level.
func (c *Catalog) LevelFor(cat threat.Category, score float64) threat.Level {
	t, ok := c.thresholds[cat]
	if !ok {
		return threat.LevelMedium
	}
	return t.Level(score)
}

// Version is a content hash of the compiled spec.
func (c *Catalog) Version() string { return c.version }

// Stricter derives a catalog sharing the same rules with every threshold
// lowered by delta (floored at 0.05). Used for outbound scans.
func (c *Catalog) Stricter(delta float64) *Catalog {
	lower := func(v float64) float64 {
		v -= delta
		if v < 0.05 {
			return 0.05
		}
		return v
	}
	out := &Catalog{
		rules:      c.rules,
		allow:      c.allow,
		redactable: c.redactable,
		thresholds: make(map[threat.Category]Thresholds, len(c.thresholds)),
	}
	for cat, t := range c.thresholds {
		out.thresholds[cat] = Thresholds{
			Low:      lower(t.Low),
			Medium:   lower(t.Medium),
			High:     lower(t.High),
			Critical: lower(t.Critical),
		}
	}
	out.version = fmt.Sprintf("%s-strict%.2f", c.version, delta)
	return out
}

// Redactions returns the spans of every redactable rule match in text,
// ordered by start offset. Overlapping spans are merged, keeping the
// category and label of the earliest match.
func (c *Catalog) Redactions(text string) []threat.RedactionSpan {
	var hits []threat.RedactionSpan
	for _, r := range c.redactable {
		for _, m := range r.FindAll(text) {
			if c.Allowed(r.Category, text, m.Span) {
				continue
			}
			hits = append(hits, threat.RedactionSpan{Category: r.Category, Label: r.Label, Span: m.Span})
		}
	}
	return MergeSpans(hits)
}

// MergeSpans sorts spans and folds overlapping ones together.
func MergeSpans(spans []threat.RedactionSpan) []threat.RedactionSpan {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]threat.RedactionSpan, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Span.Start != sorted[j].Span.Start {
			return sorted[i].Span.Start < sorted[j].Span.Start
		}
		return sorted[i].Span.End > sorted[j].Span.End
	})
	out := []threat.RedactionSpan{sorted[0]}
	for _, s := range sorted[1:] {
		last := &out[len(out)-1]
		if s.Span.Start < last.Span.End {
			if s.Span.End > last.Span.End {
				last.Span.End = s.Span.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Scrub replaces every redactable match with "[category]". It keeps
// evidence snippets and log text free of PII and secrets.
func (c *Catalog) Scrub(text string) string {
	spans := c.Redactions(text)
	if len(spans) == 0 {
		return text
	}
	var sb strings.Builder
	pos := 0
	for _, s := range spans {
		sb.WriteString(text[pos:s.Span.Start])
		sb.WriteString("[" + string(s.Category) + "]")
		pos = s.Span.End
	}
	sb.WriteString(text[pos:])
	return sb.String()
}

func fingerprint(spec Spec) string {
	h := sha256.New()
	rules := make([]string, 0, len(spec.Rules))
	for _, r := range spec.Rules {
		rules = append(rules, fmt.Sprintf("%s|%s|%s|%.4f|%d|%t|%s",
			r.Category, r.Label, r.Pattern, r.Score, r.Priority, r.Redact, r.Validator))
	}
	sort.Strings(rules)
	for _, r := range rules {
		h.Write([]byte(r))
		h.Write([]byte{0})
	}
	allow := make([]string, 0, len(spec.Allow))
	for _, a := range spec.Allow {
		cats := make([]string, len(a.Categories))
		for i, c := range a.Categories {
			cats[i] = string(c)
		}
		sort.Strings(cats)
		allow = append(allow, a.Label+"|"+strings.Join(cats, ",")+"|"+a.Pattern)
	}
	sort.Strings(allow)
	for _, a := range allow {
		h.Write([]byte(a))
		h.Write([]byte{0})
	}
	for _, cat := range threat.AllCategories() {
		t := spec.Thresholds[cat]
		fmt.Fprintf(h, "%s|%.4f|%.4f|%.4f|%.4f", cat, t.Low, t.Medium, t.High, t.Critical)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
