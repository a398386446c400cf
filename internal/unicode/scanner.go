// Package unicode canonicalizes untrusted text before detection. It strips
// invisible and control characters, applies NFKC and folds look-alike
// Cyrillic and Greek letters that appear inside otherwise Latin words.
package unicode

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Threat is one smuggling indicator found while canonicalizing.
type Threat struct {
	Kind      string `json:"kind"` // zero-width, bidi-override, tag-char, control-char, invalid-utf8, non-canonical, homoglyph-cyrillic, homoglyph-greek
	Position  int    `json:"position"`
	Codepoint string `json:"codepoint"`
	Severity  string `json:"severity"` // "block" or "audit"
}

// Result holds the canonical text and what was changed to produce it.
type Result struct {
	Text     string
	Threats  []Threat
	Modified bool
	// RawHex lists removed or folded code points for forensic logging.
	RawHex string
}

// Kinds returns the distinct threat kinds in first-seen order.
func (r Result) Kinds() []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range r.Threats {
		if !seen[t.Kind] {
			seen[t.Kind] = true
			out = append(out, t.Kind)
		}
	}
	return out
}

// Blocking reports whether any threat has block severity.
func (r Result) Blocking() bool {
	for _, t := range r.Threats {
		if t.Severity == "block" {
			return true
		}
	}
	return false
}

// Canonicalize runs every pass in order: removal, NFKC, homoglyph folding
// and outer whitespace trimming. Plain ASCII text comes back unchanged.
// Modified is set only when a smuggling character was removed or folded;
// NFKC and trimming alone leave it false.
func Canonicalize(input string) Result {
	res := Strip(input)

	if !norm.NFKC.IsNormalString(res.Text) {
		pos := norm.NFKC.QuickSpanString(res.Text)
		r, _ := utf8.DecodeRuneInString(res.Text[pos:])
		res.Threats = append(res.Threats, Threat{
			Kind:      "non-canonical",
			Position:  pos,
			Codepoint: fmt.Sprintf("U+%04X", r),
			Severity:  "audit",
		})
		res.Text = norm.NFKC.String(res.Text)
	}

	folded, threats, hex := foldMixedScript(res.Text)
	res.Text = folded
	res.Threats = append(res.Threats, threats...)
	if len(hex) > 0 {
		if res.RawHex != "" {
			res.RawHex += " "
		}
		res.RawHex += strings.Join(hex, " ")
	}

	res.Text = strings.TrimSpace(res.Text)
	res.Modified = res.Smuggled()
	return res
}

// Smuggled reports whether any threat other than a non-canonical form was
// found, meaning a character was removed or folded.
func (r Result) Smuggled() bool {
	for _, t := range r.Threats {
		if t.Kind != "non-canonical" {
			return true
		}
	}
	return false
}

// Strip removes invalid UTF-8 and invisible or control code points.
// Positions are byte offsets into input.
func Strip(input string) Result {
	var res Result
	var sb strings.Builder
	var hexParts []string
	sb.Grow(len(input))

	i := 0
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])

		if r == utf8.RuneError && size == 1 {
			res.Threats = append(res.Threats, Threat{
				Kind:      "invalid-utf8",
				Position:  i,
				Codepoint: fmt.Sprintf("0x%02X", input[i]),
				Severity:  "block",
			})
			hexParts = append(hexParts, fmt.Sprintf("%02X", input[i]))
			i++
			continue
		}

		if kind := classifyRune(r); kind != "" {
			cp := fmt.Sprintf("U+%04X", r)
			res.Threats = append(res.Threats, Threat{
				Kind:      kind,
				Position:  i,
				Codepoint: cp,
				Severity:  "block",
			})
			hexParts = append(hexParts, cp)
			i += size
			continue
		}

		sb.WriteRune(r)
		i += size
	}

	res.Text = sb.String()
	res.Modified = len(res.Threats) > 0
	if len(hexParts) > 0 {
		res.RawHex = strings.Join(hexParts, " ")
	}
	return res
}

func classifyRune(r rune) string {
	switch {
	case isZeroWidth(r):
		return "zero-width"
	case isBidiOverride(r):
		return "bidi-override"
	case isTagCharacter(r):
		return "tag-char"
	case isUnsafeControl(r):
		return "control-char"
	}
	return ""
}

// foldMixedScript replaces confusable letters only in letter runs that also
// contain ASCII letters, so genuine Cyrillic or Greek words are left alone.
func foldMixedScript(s string) (string, []Threat, []string) {
	var threats []Threat
	var hexParts []string
	var sb strings.Builder
	sb.Grow(len(s))

	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsLetter(r) {
			sb.WriteRune(r)
			i += size
			continue
		}

		j := i
		hasLatin, hasConfusable := false, false
		for j < len(s) {
			r2, sz := utf8.DecodeRuneInString(s[j:])
			if !unicode.IsLetter(r2) {
				break
			}
			if r2 < utf8.RuneSelf {
				hasLatin = true
			} else if _, kind := confusable(r2); kind != "" {
				hasConfusable = true
			}
			j += sz
		}

		if !hasLatin || !hasConfusable {
			sb.WriteString(s[i:j])
			i = j
			continue
		}

		for k := i; k < j; {
			r2, sz := utf8.DecodeRuneInString(s[k:])
			if latin, kind := confusable(r2); kind != "" {
				cp := fmt.Sprintf("U+%04X", r2)
				threats = append(threats, Threat{
					Kind:      kind,
					Position:  k,
					Codepoint: cp,
					Severity:  "audit",
				})
				hexParts = append(hexParts, cp)
				sb.WriteRune(latin)
			} else {
				sb.WriteRune(r2)
			}
			k += sz
		}
		i = j
	}
	return sb.String(), threats, hexParts
}

func confusable(r rune) (rune, string) {
	if l, ok := cyrillicHomoglyphs[r]; ok {
		return l, "homoglyph-cyrillic"
	}
	if l, ok := greekHomoglyphs[r]; ok {
		return l, "homoglyph-greek"
	}
	return 0, ""
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', // ZERO WIDTH SPACE
		'\u200C', // ZERO WIDTH NON-JOINER
		'\u200D', // ZERO WIDTH JOINER
		'\uFEFF', // ZERO WIDTH NO-BREAK SPACE (BOM)
		'\u2060', // WORD JOINER
		'\u180E', // MONGOLIAN VOWEL SEPARATOR
		'\u00AD', // SOFT HYPHEN
		'\u200E', // LEFT-TO-RIGHT MARK
		'\u200F': // RIGHT-TO-LEFT MARK
		return true
	}
	return false
}

func isBidiOverride(r rune) bool {
	switch r {
	case '\u202A', '\u202B', '\u202C', '\u202D', '\u202E',
		'\u2066', '\u2067', '\u2068', '\u2069':
		return true
	}
	return false
}

func isTagCharacter(r rune) bool {
	return r >= 0xE0001 && r <= 0xE007F
}

// isUnsafeControl allows tab, newline and carriage return.
func isUnsafeControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F)
}

var cyrillicHomoglyphs = map[rune]rune{
	'а': 'a', 'А': 'A',
	'В': 'B',
	'с': 'c', 'С': 'C',
	'ԁ': 'd',
	'е': 'e', 'Е': 'E',
	'һ': 'h', 'Н': 'H',
	'і': 'i', 'І': 'I',
	'ј': 'j', 'Ј': 'J',
	'К': 'K',
	'М': 'M',
	'о': 'o', 'О': 'O',
	'р': 'p', 'Р': 'P',
	'ѕ': 's', 'Ѕ': 'S',
	'Т': 'T',
	'х': 'x', 'Х': 'X',
	'у': 'y', 'У': 'Y',
}

var greekHomoglyphs = map[rune]rune{
	'Α': 'A',
	'Β': 'B',
	'Ε': 'E',
	'Η': 'H',
	'Ι': 'I', 'ι': 'i',
	'Κ': 'K', 'κ': 'k',
	'Μ': 'M',
	'Ν': 'N', 'ν': 'v',
	'Ο': 'O', 'ο': 'o',
	'Ρ': 'P', 'ρ': 'p',
	'Τ': 'T',
	'Χ': 'X',
	'Υ': 'Y',
	'Ζ': 'Z',
}
