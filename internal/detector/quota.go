package detector

import (
	"github.com/gzhole/eduguard/internal/catalog"
	"github.com/gzhole/eduguard/internal/threat"
)

// Quota classifies a caller-supplied usage snapshot. It owns no counters.
type Quota struct {
	catalog *catalog.Catalog
}

// NewQuota returns the quota abuse detector.
func NewQuota(c *catalog.Catalog) *Quota {
	return &Quota{catalog: c}
}

func (q *Quota) Name() string              { return "quota" }
func (q *Quota) Category() threat.Category { return threat.QuotaAbuse }

// Detect ignores text. A failed lookup is never better than medium.
func (q *Quota) Detect(_ string, dctx Context) threat.DetectionResult {
	res := threat.Clean(threat.QuotaAbuse)
	s := dctx.Quota
	if s == nil {
		return res
	}

	type signal struct {
		label string
		score float64
	}
	var signals []signal
	if s.LookupFailed {
		signals = append(signals, signal{"quota_lookup_failed", 0.75})
	}
	switch ratio := s.Ratio(); {
	case ratio >= 2:
		signals = append(signals, signal{"quota_exceeded", 0.95})
	case ratio >= 1:
		signals = append(signals, signal{"quota_exceeded", 0.75})
	case ratio >= 0.8:
		signals = append(signals, signal{"quota_near_limit", 0.35})
	}
	if s.Burst > 0 && s.WindowRequests > s.Burst {
		signals = append(signals, signal{"burst_rate", 0.60})
	}
	if len(signals) == 0 {
		return res
	}

	best := 0.0
	var labels []string
	for _, sig := range signals {
		if sig.score > best {
			best = sig.score
		}
		labels = append(labels, sig.label)
	}
	score, labels := combine(best, labels)

	res.Matched = true
	res.Score = score
	res.Labels = labels
	res.Level = q.catalog.LevelFor(threat.QuotaAbuse, score)
	if s.LookupFailed {
		res.Level = threat.MaxLevel(res.Level, threat.LevelMedium)
	}
	return res
}
