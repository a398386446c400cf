// Package aggregate combines per-category detection results into a single
// multi-threat verdict. The worst category level is a floor that nothing
// downstream may lower.
package aggregate

import (
	"github.com/gzhole/eduguard/internal/threat"
)

// Strategy determines how the weighted score may influence the level.
type Strategy string

const (
	// StrategyMaxLevel uses the highest category level only. The weighted
	// score is reported but never changes the level. This is the default.
	StrategyMaxLevel Strategy = "max_level"

	// StrategyScoreEscalation additionally raises the level to high when
	// several moderate signals add up past EscalationScore.
	StrategyScoreEscalation Strategy = "score_escalation"
)

// DefaultEscalationScore is the weighted score that escalates to high under
// StrategyScoreEscalation.
const DefaultEscalationScore = 0.85

// DefaultWeights weights injection and jailbreak above leak and quota
// signals.
func DefaultWeights() map[threat.Category]float64 {
	return map[threat.Category]float64{
		threat.PromptInjection: 1.0,
		threat.Jailbreak:       1.0,
		threat.SecretLeak:      0.7,
		threat.PIILeak:         0.5,
		threat.QuotaAbuse:      0.5,
		threat.Other:           0.5,
	}
}

// Aggregator merges detection results. It holds no per-call state.
type Aggregator struct {
	Strategy        Strategy
	Weights         map[threat.Category]float64
	EscalationScore float64
}

// New creates an Aggregator. Nil weights fall back to DefaultWeights and
// missing categories take weight 0.5.
func New(strategy Strategy, weights map[threat.Category]float64) *Aggregator {
	if strategy == "" {
		strategy = StrategyMaxLevel
	}
	w := DefaultWeights()
	for c, v := range weights {
		w[c] = v
	}
	return &Aggregator{Strategy: strategy, Weights: w, EscalationScore: DefaultEscalationScore}
}

// Aggregate combines results in canonical category order. Results sharing
// a category keep the worse of the two.
func (a *Aggregator) Aggregate(results []threat.DetectionResult) threat.MultiResult {
	byCat := make(map[threat.Category]threat.DetectionResult, len(results))
	for _, r := range results {
		if prev, ok := byCat[r.Category]; ok {
			if worse(prev, r) {
				prev.DetectorError = prev.DetectorError || r.DetectorError
				byCat[r.Category] = prev
				continue
			}
			r.DetectorError = r.DetectorError || prev.DetectorError
		}
		byCat[r.Category] = r
	}

	out := threat.MultiResult{
		Results:      byCat,
		OverallLevel: threat.LevelNone,
	}
	score := 0.0
	for _, c := range threat.AllCategories() {
		r, ok := byCat[c]
		if !ok {
			continue
		}
		out.OverallLevel = threat.MaxLevel(out.OverallLevel, r.Level)
		score += a.weight(c) * r.Score
	}
	if score > 1 {
		score = 1
	}
	out.OverallScore = score

	if a.Strategy == StrategyScoreEscalation && score >= a.escalationScore() {
		out.OverallLevel = threat.MaxLevel(out.OverallLevel, threat.LevelHigh)
	}
	out.Action = threat.ActionFor(out.OverallLevel)
	return out
}

func (a *Aggregator) weight(c threat.Category) float64 {
	if w, ok := a.Weights[c]; ok {
		return w
	}
	return 0.5
}

func (a *Aggregator) escalationScore() float64 {
	if a.EscalationScore <= 0 {
		return DefaultEscalationScore
	}
	return a.EscalationScore
}

// worse reports whether a is at least as severe as b.
func worse(a, b threat.DetectionResult) bool {
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	return a.Score >= b.Score
}
