package aggregate

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/gzhole/eduguard/internal/threat"
)

func res(c threat.Category, l threat.Level, score float64) threat.DetectionResult {
	return threat.DetectionResult{Category: c, Matched: l > threat.LevelNone, Level: l, Score: score}
}

func TestAggregate_MaxLevelWins(t *testing.T) {
	a := New(StrategyMaxLevel, nil)
	m := a.Aggregate([]threat.DetectionResult{
		res(threat.PIILeak, threat.LevelMedium, 0.6),
		res(threat.PromptInjection, threat.LevelHigh, 0.9),
		res(threat.QuotaAbuse, threat.LevelLow, 0.35),
	})
	if m.OverallLevel != threat.LevelHigh {
		t.Errorf("expected high, got %s", m.OverallLevel)
	}
	if m.Action != threat.ActionBlockAndLog {
		t.Errorf("expected block_and_log, got %s", m.Action)
	}
	if len(m.Results) != 3 {
		t.Errorf("expected 3 results, got %d", len(m.Results))
	}
}

func TestAggregate_Empty(t *testing.T) {
	m := New("", nil).Aggregate(nil)
	if m.OverallLevel != threat.LevelNone || m.Action != threat.ActionAllow || m.OverallScore != 0 {
		t.Errorf("expected clean verdict, got %+v", m)
	}
	if m.Results == nil {
		t.Error("expected non-nil results map")
	}
}

func TestAggregate_ActionTable(t *testing.T) {
	tests := []struct {
		level threat.Level
		want  threat.Action
	}{
		{threat.LevelNone, threat.ActionAllow},
		{threat.LevelLow, threat.ActionAllow},
		{threat.LevelMedium, threat.ActionAllowWithSanitize},
		{threat.LevelHigh, threat.ActionBlockAndLog},
		{threat.LevelCritical, threat.ActionBlockAndEscalate},
	}
	a := New(StrategyMaxLevel, nil)
	for _, tt := range tests {
		m := a.Aggregate([]threat.DetectionResult{res(threat.Jailbreak, tt.level, 0.1)})
		if m.Action != tt.want {
			t.Errorf("level %s: expected %s, got %s", tt.level, tt.want, m.Action)
		}
	}
}

func TestAggregate_WeightedScore(t *testing.T) {
	a := New(StrategyMaxLevel, nil)
	m := a.Aggregate([]threat.DetectionResult{
		res(threat.PIILeak, threat.LevelMedium, 0.6),  // 0.30
		res(threat.SecretLeak, threat.LevelLow, 0.4),  // 0.28
		res(threat.QuotaAbuse, threat.LevelNone, 0.2), // 0.10
	})
	if m.OverallScore < 0.679 || m.OverallScore > 0.681 {
		t.Errorf("expected weighted score 0.68, got %v", m.OverallScore)
	}

	m = a.Aggregate([]threat.DetectionResult{
		res(threat.PromptInjection, threat.LevelHigh, 0.9),
		res(threat.Jailbreak, threat.LevelCritical, 0.95),
	})
	if m.OverallScore != 1 {
		t.Errorf("expected score capped at 1, got %v", m.OverallScore)
	}
}

func TestAggregate_CustomWeights(t *testing.T) {
	a := New(StrategyMaxLevel, map[threat.Category]float64{threat.PIILeak: 1.0})
	m := a.Aggregate([]threat.DetectionResult{res(threat.PIILeak, threat.LevelMedium, 0.6)})
	if m.OverallScore < 0.599 || m.OverallScore > 0.601 {
		t.Errorf("expected 0.6 with weight 1.0, got %v", m.OverallScore)
	}
	if a.Weights[threat.Jailbreak] != 1.0 {
		t.Error("unspecified categories should keep default weights")
	}
}

func TestAggregate_ScoreNeverDowngrades(t *testing.T) {
	for _, s := range []Strategy{StrategyMaxLevel, StrategyScoreEscalation} {
		a := New(s, map[threat.Category]float64{threat.Jailbreak: 0})
		m := a.Aggregate([]threat.DetectionResult{res(threat.Jailbreak, threat.LevelCritical, 0.99)})
		if m.OverallLevel != threat.LevelCritical {
			t.Errorf("%s: zero weight must not lower the level, got %s", s, m.OverallLevel)
		}
	}
}

func TestAggregate_ScoreEscalation(t *testing.T) {
	results := []threat.DetectionResult{
		res(threat.PromptInjection, threat.LevelMedium, 0.6),
		res(threat.Jailbreak, threat.LevelMedium, 0.55),
	}

	m := New(StrategyMaxLevel, nil).Aggregate(results)
	if m.OverallLevel != threat.LevelMedium {
		t.Errorf("max_level: expected medium, got %s", m.OverallLevel)
	}

	m = New(StrategyScoreEscalation, nil).Aggregate(results)
	if m.OverallLevel != threat.LevelHigh {
		t.Errorf("score_escalation: expected high, got %s (score %.2f)", m.OverallLevel, m.OverallScore)
	}
	if m.Action != threat.ActionBlockAndLog {
		t.Errorf("expected block_and_log, got %s", m.Action)
	}
}

func TestAggregate_DuplicateCategoryKeepsWorse(t *testing.T) {
	faulted := threat.DetectionResult{Category: threat.Other, Level: threat.LevelMedium, Score: 0.5, DetectorError: true}
	m := New("", nil).Aggregate([]threat.DetectionResult{
		res(threat.Other, threat.LevelHigh, 0.75),
		faulted,
	})
	got := m.Results[threat.Other]
	if got.Level != threat.LevelHigh {
		t.Errorf("expected high to survive, got %s", got.Level)
	}
	if !got.DetectorError {
		t.Error("detector error flag should survive the merge")
	}
	if !m.HasDetectorError() {
		t.Error("expected HasDetectorError")
	}
}

func TestAggregate_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cats := threat.AllCategories()
	strategies := []*Aggregator{New(StrategyMaxLevel, nil), New(StrategyScoreEscalation, nil)}

	for i := 0; i < 2000; i++ {
		var results []threat.DetectionResult
		for _, c := range cats {
			if rng.Intn(2) == 0 {
				continue
			}
			results = append(results, res(c, threat.Level(rng.Intn(5)), rng.Float64()))
		}
		for _, a := range strategies {
			m := a.Aggregate(results)
			for _, r := range results {
				if m.OverallLevel < r.Level {
					t.Fatalf("overall %s below constituent %s level %s", m.OverallLevel, r.Category, r.Level)
				}
			}
			if m.OverallScore < 0 || m.OverallScore > 1 {
				t.Fatalf("score out of range: %v", m.OverallScore)
			}
		}
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	a := New(StrategyScoreEscalation, nil)
	results := []threat.DetectionResult{
		res(threat.SecretLeak, threat.LevelHigh, 0.9),
		res(threat.PIILeak, threat.LevelMedium, 0.6),
		res(threat.Other, threat.LevelLow, 0.3),
	}
	reversed := []threat.DetectionResult{results[2], results[1], results[0]}
	m1 := a.Aggregate(results)
	m2 := a.Aggregate(reversed)
	if !reflect.DeepEqual(m1, m2) {
		t.Errorf("input order changed the verdict:\n%+v\n%+v", m1, m2)
	}
}
