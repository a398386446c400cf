package detector

import (
	"strings"

	"github.com/gzhole/eduguard/internal/catalog"
	"github.com/gzhole/eduguard/internal/threat"
)

// labelBonus is added per distinct label beyond the strongest match.
const labelBonus = 0.05

// evidenceRunes bounds the source text copied into an evidence snippet.
const evidenceRunes = 48

// RuleDetector scans the catalog rules of one category.
type RuleDetector struct {
	name     string
	category threat.Category
	catalog  *catalog.Catalog
}

// NewPromptInjection detects instruction overrides, prompt exfiltration,
// chat-template delimiters and encoded payloads.
func NewPromptInjection(c *catalog.Catalog) *RuleDetector {
	return &RuleDetector{name: "prompt_injection", category: threat.PromptInjection, catalog: c}
}

// NewJailbreak detects persona and mode switches aimed at safety controls.
func NewJailbreak(c *catalog.Catalog) *RuleDetector {
	return &RuleDetector{name: "jailbreak", category: threat.Jailbreak, catalog: c}
}

// NewPII detects personal data and returns redaction spans for it.
func NewPII(c *catalog.Catalog) *RuleDetector {
	return &RuleDetector{name: "pii", category: threat.PIILeak, catalog: c}
}

// NewSecret detects credentials and returns redaction spans for them.
func NewSecret(c *catalog.Catalog) *RuleDetector {
	return &RuleDetector{name: "secret", category: threat.SecretLeak, catalog: c}
}

func (d *RuleDetector) Name() string              { return d.name }
func (d *RuleDetector) Category() threat.Category { return d.category }

// Detect scans the rules in priority order. Matches covered by an
// allow-list match for the same category are dropped.
func (d *RuleDetector) Detect(text string, dctx Context) threat.DetectionResult {
	text, truncated := Truncate(text, dctx.maxScan())
	res := threat.Clean(d.category)
	res.Truncated = truncated

	var matches []catalog.Match
	for _, r := range d.catalog.Rules(d.category) {
		for _, m := range r.FindAll(text) {
			if d.catalog.Allowed(d.category, text, m.Span) {
				continue
			}
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		return res
	}

	res.Matched = true
	res.Score, res.Labels = Score(matches)
	res.Level = d.catalog.LevelFor(d.category, res.Score)
	res.Evidence = Evidence(d.catalog, text, first(matches).Span)

	var spans []threat.RedactionSpan
	for _, m := range matches {
		if m.Rule.Redact {
			spans = append(spans, threat.RedactionSpan{Category: d.category, Label: m.Rule.Label, Span: m.Span})
		}
	}
	res.Spans = catalog.MergeSpans(spans)
	return res
}

// Score is the strongest base score plus labelBonus per additional
// distinct label, capped at 1. Labels are returned as a sorted set.
func Score(matches []catalog.Match) (float64, []string) {
	best := 0.0
	labels := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Rule.BaseScore > best {
			best = m.Rule.BaseScore
		}
		labels = append(labels, m.Rule.Label)
	}
	return combine(best, labels)
}

func combine(best float64, labels []string) (float64, []string) {
	labels = threat.LabelSet(labels)
	score := best + labelBonus*float64(len(labels)-1)
	if score > 1 {
		score = 1
	}
	return score, labels
}

func first(matches []catalog.Match) catalog.Match {
	out := matches[0]
	for _, m := range matches[1:] {
		if m.Span.Start < out.Span.Start {
			out = m
		}
	}
	return out
}

// Evidence copies up to evidenceRunes runes around at. Every redactable
// match touching the window is replaced whole by its category placeholder,
// so a window edge never leaves half a phone number behind.
func Evidence(c *catalog.Catalog, text string, at threat.Span) string {
	start, end := window(text, at, evidenceRunes)
	var sb strings.Builder
	pos := start
	for _, r := range c.Redactions(text) {
		if r.Span.End <= start || r.Span.Start >= end {
			continue
		}
		if r.Span.Start > pos {
			sb.WriteString(text[pos:r.Span.Start])
		}
		sb.WriteString("[" + string(r.Category) + "]")
		pos = r.Span.End
	}
	if pos < end {
		sb.WriteString(text[pos:end])
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// window returns byte offsets of a rune window that starts a quarter of
// size before at and extends size runes from there.
func window(text string, at threat.Span, size int) (int, int) {
	lead := size / 4
	start := at.Start
	for n := 0; n < lead && start > 0; n++ {
		start--
		for start > 0 && !isRuneStart(text[start]) {
			start--
		}
	}
	end := start
	for n := 0; n < size && end < len(text); n++ {
		end++
		for end < len(text) && !isRuneStart(text[end]) {
			end++
		}
	}
	return start, end
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
