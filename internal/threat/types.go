// Package threat defines the closed vocabulary shared by every stage of the
// guard pipeline: threat categories, ordered threat levels, per-detector
// results and the aggregated multi-threat verdict.
package threat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Category is one of a closed set of threat classes.
type Category string

const (
	PromptInjection Category = "prompt_injection"
	Jailbreak       Category = "jailbreak"
	PIILeak         Category = "pii_leak"
	SecretLeak      Category = "secret_leak"
	QuotaAbuse      Category = "quota_abuse"
	Other           Category = "other"
)

var allCategories = []Category{PromptInjection, Jailbreak, PIILeak, SecretLeak, QuotaAbuse, Other}

// AllCategories returns every category in canonical order. Callers that
// iterate results must use this order so output is deterministic.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Valid reports whether c belongs to the closed category set.
func (c Category) Valid() bool {
	for _, k := range allCategories {
		if k == c {
			return true
		}
	}
	return false
}

// Level is a totally ordered threat level.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

var levelNames = [...]string{"none", "low", "medium", "high", "critical"}

func (l Level) String() string {
	if l < LevelNone || l > LevelCritical {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel converts a level name back into a Level.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == s {
			return Level(i), nil
		}
	}
	return LevelNone, fmt.Errorf("unknown threat level %q", s)
}

// MaxLevel returns the more severe of a and b.
func MaxLevel(a, b Level) Level {
	if b > a {
		return b
	}
	return a
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func (l Level) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}

func (l *Level) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Action is the recommended handling for an aggregated verdict.
type Action string

const (
	ActionAllow             Action = "allow"
	ActionAllowWithSanitize Action = "allow_with_sanitize"
	ActionBlockAndLog       Action = "block_and_log"
	ActionBlockAndEscalate  Action = "block_and_escalate"
)

// ActionFor is the fixed level → action table.
func ActionFor(l Level) Action {
	switch {
	case l >= LevelCritical:
		return ActionBlockAndEscalate
	case l == LevelHigh:
		return ActionBlockAndLog
	case l == LevelMedium:
		return ActionAllowWithSanitize
	default:
		return ActionAllow
	}
}

// Blocks reports whether the action rejects the content.
func (a Action) Blocks() bool {
	return a == ActionBlockAndLog || a == ActionBlockAndEscalate
}

// Span is a half-open byte range [Start, End) into scanned text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the span width in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether two spans share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Covers reports whether s fully contains o.
func (s Span) Covers(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

// RedactionSpan marks a region that must be replaced before the text leaves
// the guard.
type RedactionSpan struct {
	Category Category `json:"category"`
	Label    string   `json:"label"`
	Span     Span     `json:"span"`
}

// DetectionResult is one detector's verdict for one call.
type DetectionResult struct {
	Category      Category        `json:"category"`
	Matched       bool            `json:"matched"`
	Score         float64         `json:"score"`
	Level         Level           `json:"level"`
	Labels        []string        `json:"labels,omitempty"`
	Evidence      string          `json:"evidence,omitempty"`
	Spans         []RedactionSpan `json:"-"`
	Truncated     bool            `json:"truncated,omitempty"`
	DetectorError bool            `json:"detector_error,omitempty"`
}

// Clean returns a non-matching result for c.
func Clean(c Category) DetectionResult {
	return DetectionResult{Category: c, Level: LevelNone}
}

// LabelSet sorts and de-duplicates labels.
func LabelSet(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

// MultiResult is the aggregated verdict over every detector.
type MultiResult struct {
	Results      map[Category]DetectionResult `json:"results"`
	OverallLevel Level                        `json:"overall_level"`
	OverallScore float64                      `json:"overall_score"`
	Action       Action                       `json:"recommended_action"`
}

// MatchedCategories lists categories that matched, in canonical order.
func (m MultiResult) MatchedCategories() []Category {
	var out []Category
	for _, c := range allCategories {
		if r, ok := m.Results[c]; ok && r.Matched {
			out = append(out, c)
		}
	}
	return out
}

// Labels returns every matched rule label across categories.
func (m MultiResult) Labels() []string {
	var all []string
	for _, c := range allCategories {
		if r, ok := m.Results[c]; ok {
			all = append(all, r.Labels...)
		}
	}
	return LabelSet(all)
}

// Spans returns every redaction span across categories.
func (m MultiResult) Spans() []RedactionSpan {
	var out []RedactionSpan
	for _, c := range allCategories {
		if r, ok := m.Results[c]; ok {
			out = append(out, r.Spans...)
		}
	}
	return out
}

// HasDetectorError reports whether any detector faulted.
func (m MultiResult) HasDetectorError() bool {
	for _, r := range m.Results {
		if r.DetectorError {
			return true
		}
	}
	return false
}
