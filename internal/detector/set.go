package detector

import (
	"github.com/gzhole/eduguard/internal/catalog"
	"github.com/gzhole/eduguard/internal/threat"
)

// Set runs a fixed group of detectors for one call. Every member is
// wrapped by Safe, so one fault never aborts the others.
type Set struct {
	detectors []Detector
}

// NewSet wraps each detector with Safe using hook.
func NewSet(hook FaultHook, detectors ...Detector) *Set {
	s := &Set{detectors: make([]Detector, 0, len(detectors))}
	for _, d := range detectors {
		s.detectors = append(s.detectors, Safe(d, hook))
	}
	return s
}

// Builtin returns every built-in detector over c, unwrapped.
func Builtin(c *catalog.Catalog) []Detector {
	return []Detector{
		NewPromptInjection(c),
		NewJailbreak(c),
		NewPII(c),
		NewSecret(c),
		NewQuota(c),
		NewObfuscation(c),
	}
}

// Defaults builds every built-in detector over c.
func Defaults(c *catalog.Catalog, hook FaultHook) *Set {
	return NewSet(hook, Builtin(c)...)
}

// Run returns at most one result per category in canonical category
// order. Results sharing a category are merged.
func (s *Set) Run(text string, dctx Context) []threat.DetectionResult {
	byCat := make(map[threat.Category]threat.DetectionResult, len(s.detectors))
	for _, d := range s.detectors {
		r := d.Detect(text, dctx)
		if prev, ok := byCat[r.Category]; ok {
			r = Merge(prev, r)
		}
		byCat[r.Category] = r
	}
	out := make([]threat.DetectionResult, 0, len(byCat))
	for _, c := range threat.AllCategories() {
		if r, ok := byCat[c]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Merge combines two results for the same category. The higher level
// supplies the score and evidence; flags and labels are unioned.
func Merge(a, b threat.DetectionResult) threat.DetectionResult {
	hi, lo := a, b
	if b.Level > a.Level || (b.Level == a.Level && b.Score > a.Score) {
		hi, lo = b, a
	}
	out := hi
	out.Matched = a.Matched || b.Matched
	out.Truncated = a.Truncated || b.Truncated
	out.DetectorError = a.DetectorError || b.DetectorError
	out.Labels = threat.LabelSet(append(append([]string{}, hi.Labels...), lo.Labels...))
	if out.Evidence == "" {
		out.Evidence = lo.Evidence
	}
	if len(a.Spans)+len(b.Spans) > 0 {
		out.Spans = catalog.MergeSpans(append(append([]threat.RedactionSpan{}, a.Spans...), b.Spans...))
	}
	return out
}
