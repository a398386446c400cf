package sanitize

import (
	"unicode/utf8"

	"github.com/gzhole/eduguard/internal/threat"
)

// DefaultMaxRedactedFraction is the share of a response that may be
// redacted before the whole response is refused.
const DefaultMaxRedactedFraction = 0.4

// DefaultRefusal replaces responses that cannot be delivered.
const DefaultRefusal = "I'm sorry, I can't share that response. Please rephrase your question or ask your instructor for help."

// Output sanitizes model responses before delivery.
type Output struct {
	MaxRedactedFraction float64
	Refusal             string
}

// NewOutput fills zero fields with defaults.
func NewOutput(maxFraction float64, refusal string) Output {
	if maxFraction <= 0 || maxFraction > 1 {
		maxFraction = DefaultMaxRedactedFraction
	}
	if refusal == "" {
		refusal = DefaultRefusal
	}
	return Output{MaxRedactedFraction: maxFraction, Refusal: refusal}
}

// Sanitize redacts spans. When the redacted share of runes exceeds the
// limit the text becomes the refusal. A fault also yields the refusal,
// since the unredacted response must not leak.
func (o Output) Sanitize(text string, spans []threat.RedactionSpan) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = o.refuse(text)
			res.Fault = faultString(r)
		}
	}()
	res = redact(text, spans)
	if res.OriginalLength == 0 || len(res.Redactions) == 0 {
		return res
	}
	if float64(res.RedactedRunes(text))/float64(res.OriginalLength) > o.maxFraction() {
		refused := o.refuse(text)
		refused.Redactions = res.Redactions
		return refused
	}
	return res
}

func (o Output) refuse(text string) Result {
	refusal := o.Refusal
	if refusal == "" {
		refusal = DefaultRefusal
	}
	return Result{
		OriginalLength: utf8.RuneCountInString(text),
		Text:           refusal,
		WasModified:    true,
		Refused:        true,
	}
}

func (o Output) maxFraction() float64 {
	if o.MaxRedactedFraction <= 0 || o.MaxRedactedFraction > 1 {
		return DefaultMaxRedactedFraction
	}
	return o.MaxRedactedFraction
}
