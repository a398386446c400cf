package sanitize

import (
	"regexp"

	"github.com/gzhole/eduguard/internal/threat"
	"github.com/gzhole/eduguard/internal/unicode"
)

// Chat-template delimiters are defused so the model sees them as text.
// Every replacement is a fixed point of the pattern that produced it.
var escapes = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`<\|([A-Za-z0-9_]{1,32})\|>`), "< |$1| >"},
	{regexp.MustCompile(`(?i)\[(/?)(INST|SYS)\]`), "[ $1$2 ]"},
	{regexp.MustCompile(`(?i)<<(/?)(SYS)>>`), "&lt;&lt;$1$2&gt;&gt;"},
	{regexp.MustCompile(`(?i)<(/?)(system|assistant|user)>`), "&lt;$1$2&gt;"},
}

// Input sanitizes inbound prompts in two passes: Canonicalize before
// detection, then Sanitize over the spans the detectors reported.
type Input struct{}

// Canonicalize is pass one. The returned unicode result lists the
// smuggling indicators that were removed.
func (Input) Canonicalize(text string) (res Result, uni unicode.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{OriginalLength: len([]rune(text)), Text: text, Fault: faultString(r)}
			uni = unicode.Result{Text: text}
		}
	}()
	uni = unicode.Canonicalize(text)
	return Result{
		OriginalLength: len([]rune(text)),
		Text:           uni.Text,
		WasModified:    uni.Modified,
	}, uni
}

// Redact replaces only the flagged spans, preserving surrounding text.
func (Input) Redact(text string, spans []threat.RedactionSpan) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{OriginalLength: len([]rune(text)), Text: text, Fault: faultString(r)}
		}
	}()
	return redact(text, spans)
}

// Escape defuses chat-template delimiters and reports whether anything
// changed.
func (Input) Escape(text string) (string, bool) {
	out := text
	for _, e := range escapes {
		out = e.re.ReplaceAllString(out, e.repl)
	}
	return out, out != text
}

// Sanitize is pass two: redaction over spans, then escaping.
func (in Input) Sanitize(text string, spans []threat.RedactionSpan) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{OriginalLength: len([]rune(text)), Text: text, Fault: faultString(r)}
		}
	}()
	res = redact(text, spans)
	escaped, changed := in.Escape(res.Text)
	res.Text = escaped
	res.WasModified = res.WasModified || changed
	return res
}
