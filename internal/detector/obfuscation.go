package detector

import (
	"github.com/gzhole/eduguard/internal/catalog"
	"github.com/gzhole/eduguard/internal/threat"
)

// obfuscationScores maps a unicode threat kind to a label and base score.
// Compatibility forms are absent: fullwidth text is ordinary in CJK input.
var obfuscationScores = map[string]struct {
	label string
	score float64
}{
	"tag-char":           {"unicode_tag_smuggling", 0.75},
	"bidi-override":      {"bidi_override", 0.55},
	"homoglyph-cyrillic": {"mixed_script_homoglyph", 0.50},
	"homoglyph-greek":    {"mixed_script_homoglyph", 0.50},
	"control-char":       {"control_characters", 0.40},
	"invalid-utf8":       {"control_characters", 0.40},
	"zero-width":         {"invisible_characters", 0.30},
}

// Obfuscation reports character-level smuggling found during
// canonicalization under the "other" category.
type Obfuscation struct {
	catalog *catalog.Catalog
}

// NewObfuscation returns the smuggling detector.
func NewObfuscation(c *catalog.Catalog) *Obfuscation {
	return &Obfuscation{catalog: c}
}

func (o *Obfuscation) Name() string              { return "obfuscation" }
func (o *Obfuscation) Category() threat.Category { return threat.Other }

func (o *Obfuscation) Detect(_ string, dctx Context) threat.DetectionResult {
	res := threat.Clean(threat.Other)
	best := 0.0
	var labels []string
	for _, t := range dctx.Unicode {
		s, ok := obfuscationScores[t.Kind]
		if !ok {
			continue
		}
		if s.score > best {
			best = s.score
		}
		labels = append(labels, s.label)
	}
	if len(labels) == 0 {
		return res
	}
	score, labels := combine(best, labels)
	res.Matched = true
	res.Score = score
	res.Labels = labels
	res.Level = o.catalog.LevelFor(threat.Other, score)
	return res
}
