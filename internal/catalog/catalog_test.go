package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gzhole/eduguard/internal/threat"
)

func TestDefaultCompiles(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("default catalog failed to compile: %v", err)
	}
	for _, cat := range []threat.Category{threat.PromptInjection, threat.Jailbreak, threat.PIILeak, threat.SecretLeak} {
		if len(c.Rules(cat)) == 0 {
			t.Errorf("expected rules for %s", cat)
		}
	}
	if c.Version() == "" {
		t.Error("expected a non-empty version")
	}
}

func TestNew_StartupFatalErrors(t *testing.T) {
	missing := DefaultSpec()
	delete(missing.Thresholds, threat.QuotaAbuse)

	badRegex := DefaultSpec()
	badRegex.Rules = append(badRegex.Rules, RuleDef{Label: "broken", Category: threat.Other, Pattern: `(unclosed`, Score: 0.5})

	badScore := DefaultSpec()
	badScore.Rules = append(badScore.Rules, RuleDef{Label: "too_big", Category: threat.Other, Pattern: `x`, Score: 1.5})

	badCategory := DefaultSpec()
	badCategory.Rules = append(badCategory.Rules, RuleDef{Label: "spam", Category: "spam", Pattern: `x`, Score: 0.5})

	badValidator := DefaultSpec()
	badValidator.Rules = append(badValidator.Rules, RuleDef{Label: "v", Category: threat.Other, Pattern: `x`, Score: 0.5, Validator: "crc"})

	decreasing := DefaultSpec()
	decreasing.Thresholds[threat.Other] = Thresholds{Low: 0.5, Medium: 0.4, High: 0.7, Critical: 0.9}

	tests := []struct {
		name string
		spec Spec
	}{
		{"missing thresholds", missing},
		{"bad regex", badRegex},
		{"score out of range", badScore},
		{"unknown category", badCategory},
		{"unknown validator", badValidator},
		{"decreasing thresholds", decreasing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.spec); err == nil {
				t.Errorf("expected compile error")
			}
		})
	}
}

func TestLevelFor_BoundaryRoundsUp(t *testing.T) {
	c := MustDefault()
	th := c.Thresholds(threat.PromptInjection)

	tests := []struct {
		score float64
		want  threat.Level
	}{
		{0, threat.LevelNone},
		{th.Low - 0.01, threat.LevelNone},
		{th.Low, threat.LevelLow},
		{th.Medium, threat.LevelMedium},
		{th.High, threat.LevelHigh},
		{th.Critical, threat.LevelCritical},
		{1, threat.LevelCritical},
	}
	for _, tt := range tests {
		if got := c.LevelFor(threat.PromptInjection, tt.score); got != tt.want {
			t.Errorf("LevelFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestLevelFor_Monotonic(t *testing.T) {
	c := MustDefault()
	for _, cat := range threat.AllCategories() {
		prev := threat.LevelNone
		for i := 0; i <= 100; i++ {
			l := c.LevelFor(cat, float64(i)/100)
			if l < prev {
				t.Fatalf("%s: level decreased at score %d/100", cat, i)
			}
			prev = l
		}
	}
}

func TestStricter(t *testing.T) {
	c := MustDefault()
	s := c.Stricter(0.1)
	for _, cat := range threat.AllCategories() {
		if s.Thresholds(cat).High >= c.Thresholds(cat).High {
			t.Errorf("%s: stricter high threshold not lowered", cat)
		}
	}
	if s.Version() == c.Version() {
		t.Error("stricter catalog should report its own version")
	}
	if len(s.Rules(threat.SecretLeak)) != len(c.Rules(threat.SecretLeak)) {
		t.Error("stricter catalog should share rules")
	}
}

func TestVersionStable(t *testing.T) {
	a := MustDefault()
	b := MustDefault()
	if a.Version() != b.Version() {
		t.Errorf("version not stable: %s vs %s", a.Version(), b.Version())
	}
	spec := DefaultSpec()
	spec.Thresholds[threat.Other] = Thresholds{Low: 0.2, Medium: 0.5, High: 0.7, Critical: 0.95}
	c, err := New(spec)
	if err != nil {
		t.Fatal(err)
	}
	if c.Version() == a.Version() {
		t.Error("changing thresholds should change version")
	}
}

func TestRulesPriorityOrder(t *testing.T) {
	rules := MustDefault().Rules(threat.SecretLeak)
	for i := 1; i < len(rules); i++ {
		if rules[i].Priority > rules[i-1].Priority {
			t.Fatalf("rules out of priority order at %d: %s before %s", i, rules[i-1].Label, rules[i].Label)
		}
	}
}

func TestAllowed(t *testing.T) {
	c := MustDefault()
	text := "Can you explain what prompt injection attacks like ignore previous instructions look like?"
	start := strings.Index(text, "ignore previous instructions")
	span := threat.Span{Start: start, End: start + len("ignore previous instructions")}
	if !c.Allowed(threat.PromptInjection, text, span) {
		t.Error("expected pedagogical phrasing to be allow-listed")
	}
	if c.Allowed(threat.PIILeak, text, span) {
		t.Error("allow-list must be category scoped")
	}
}

func TestRedactions_ArithmeticOperands(t *testing.T) {
	c := MustDefault()
	for _, text := range []string{
		"Compute 123456789 times 3 please",
		"What is 98765432101 divided by 7?",
		"Is 10000000000 + 20000000000 = 30000000000 true?",
	} {
		if got := c.Redactions(text); len(got) != 0 {
			t.Errorf("Redactions(%q) = %v, want none", text, got)
		}
	}
	got := c.Redactions("My ID number is 12345678901, times are hard")
	if len(got) != 1 || got[0].Label != "national_id" {
		t.Errorf("expected the ID to stay redactable, got %v", got)
	}
}

func TestScrub(t *testing.T) {
	c := MustDefault()
	got := c.Scrub("call 555-123-4567 or mail jane@example.com")
	if strings.Contains(got, "555") || strings.Contains(got, "jane@") {
		t.Errorf("scrub left PII behind: %q", got)
	}
	if !strings.Contains(got, "[pii_leak]") {
		t.Errorf("expected category placeholder, got %q", got)
	}
	if c.Scrub("nothing sensitive") != "nothing sensitive" {
		t.Error("scrub should not touch clean text")
	}
}

func TestValidators(t *testing.T) {
	if !luhnValid("4111 1111 1111 1111") {
		t.Error("expected test Visa number to pass Luhn")
	}
	if luhnValid("4111 1111 1111 1112") {
		t.Error("expected bad check digit to fail Luhn")
	}
	if !highEntropy("aB3dE5gH7jK9mN1pQ3sT5vW7yZ9bC2dF4") {
		t.Error("expected random token to be high entropy")
	}
	if highEntropy("this_is_a_very_long_identifier_name_x1") {
		t.Error("identifier should not count as high entropy")
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	data := `
thresholds:
  pii_leak: {low: 0.2, medium: 0.4, high: 0.8, critical: 0.95}
disabled_rules: [street_address]
extra_rules:
  - label: student_number
    category: pii_leak
    pattern: '\bSTU-\d{6}\b'
    score: 0.6
    redact: true
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	o, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c, err := New(o.Apply(DefaultSpec()))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if c.Thresholds(threat.PIILeak).Medium != 0.4 {
		t.Errorf("threshold override not applied")
	}
	for _, r := range c.Rules(threat.PIILeak) {
		if r.Label == "street_address" {
			t.Error("disabled rule still present")
		}
	}
	if !strings.Contains(c.Scrub("id STU-123456"), "[pii_leak]") {
		t.Error("extra rule not active")
	}

	if _, err := LoadOverrides(filepath.Join(dir, "missing.yaml")); err != nil {
		t.Errorf("missing file should yield empty overrides, got %v", err)
	}
}
