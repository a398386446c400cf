// Package sanitize neutralizes content the detectors flagged without
// necessarily blocking it. Sanitizers never return errors: a fault yields
// a best-effort Result with Fault set.
package sanitize

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gzhole/eduguard/internal/threat"
)

// Fixed placeholders. None of them matches a detection rule, so sanitizing
// a sanitized text again changes nothing.
const (
	PIIPlaceholder     = "[REDACTED_PII]"
	SecretPlaceholder  = "[REDACTED_SECRET]"
	GenericPlaceholder = "[REDACTED]"
)

// PlaceholderFor returns the replacement text for a category.
func PlaceholderFor(c threat.Category) string {
	switch c {
	case threat.PIILeak:
		return PIIPlaceholder
	case threat.SecretLeak:
		return SecretPlaceholder
	default:
		return GenericPlaceholder
	}
}

// Redaction records one replaced span of the input text.
type Redaction struct {
	Category    threat.Category `json:"category"`
	Label       string          `json:"label,omitempty"`
	Span        threat.Span     `json:"span"`
	Replacement string          `json:"replacement"`
}

// Result is the outcome of a sanitizer pass.
type Result struct {
	OriginalLength int         `json:"original_length"` // in runes
	Text           string      `json:"-"`
	Redactions     []Redaction `json:"redactions,omitempty"`
	WasModified    bool        `json:"was_modified"`
	Refused        bool        `json:"refused,omitempty"`
	Fault          string      `json:"fault,omitempty"`
}

// RedactedRunes counts the runes of input covered by redactions.
func (r Result) RedactedRunes(input string) int {
	n := 0
	for _, red := range r.Redactions {
		n += utf8.RuneCountInString(input[red.Span.Start:red.Span.End])
	}
	return n
}

// redact replaces spans in text. Spans are sorted, merged and validated;
// spans outside text or off rune boundaries are skipped.
func redact(text string, spans []threat.RedactionSpan) Result {
	res := Result{OriginalLength: utf8.RuneCountInString(text), Text: text}
	valid := make([]threat.RedactionSpan, 0, len(spans))
	for _, s := range spans {
		if s.Span.Start < 0 || s.Span.End > len(text) || s.Span.Start >= s.Span.End {
			continue
		}
		if !utf8.RuneStart(text[s.Span.Start]) || (s.Span.End < len(text) && !utf8.RuneStart(text[s.Span.End])) {
			continue
		}
		valid = append(valid, s)
	}
	if len(valid) == 0 {
		return res
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Span.Start != valid[j].Span.Start {
			return valid[i].Span.Start < valid[j].Span.Start
		}
		return valid[i].Span.End > valid[j].Span.End
	})

	var sb strings.Builder
	sb.Grow(len(text))
	pos := 0
	for _, s := range valid {
		start := s.Span.Start
		if s.Span.End <= pos {
			continue
		}
		if start < pos {
			// Overlap: widen the previous redaction instead of adding one.
			last := &res.Redactions[len(res.Redactions)-1]
			last.Span.End = s.Span.End
			pos = s.Span.End
			continue
		}
		sb.WriteString(text[pos:start])
		ph := PlaceholderFor(s.Category)
		sb.WriteString(ph)
		res.Redactions = append(res.Redactions, Redaction{
			Category:    s.Category,
			Label:       s.Label,
			Span:        s.Span,
			Replacement: ph,
		})
		pos = s.Span.End
	}
	sb.WriteString(text[pos:])
	res.Text = sb.String()
	res.WasModified = res.Text != text
	return res
}

func faultString(r interface{}) string {
	return fmt.Sprintf("sanitizer panic: %v", r)
}
