package threat

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLevelOrdering(t *testing.T) {
	order := []Level{LevelNone, LevelLow, LevelMedium, LevelHigh, LevelCritical}
	for i := 1; i < len(order); i++ {
		if !(order[i-1] < order[i]) {
			t.Errorf("expected %s < %s", order[i-1], order[i])
		}
	}
}

func TestLevel_JSONAndYAML(t *testing.T) {
	data, err := json.Marshal(struct {
		L Level `json:"l"`
	}{LevelHigh})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"l":"high"}` {
		t.Errorf("unexpected JSON %s", data)
	}

	var parsed struct {
		L Level `yaml:"l"`
	}
	if err := yaml.Unmarshal([]byte("l: critical\n"), &parsed); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if parsed.L != LevelCritical {
		t.Errorf("expected critical, got %s", parsed.L)
	}

	if _, err := ParseLevel("severe"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		level Level
		want  Action
	}{
		{LevelNone, ActionAllow},
		{LevelLow, ActionAllow},
		{LevelMedium, ActionAllowWithSanitize},
		{LevelHigh, ActionBlockAndLog},
		{LevelCritical, ActionBlockAndEscalate},
	}
	for _, tt := range tests {
		if got := ActionFor(tt.level); got != tt.want {
			t.Errorf("ActionFor(%s) = %s, want %s", tt.level, got, tt.want)
		}
	}
	if ActionAllowWithSanitize.Blocks() {
		t.Error("allow_with_sanitize must not block")
	}
	if !ActionBlockAndEscalate.Blocks() {
		t.Error("block_and_escalate must block")
	}
}

func TestCategoryValid(t *testing.T) {
	for _, c := range AllCategories() {
		if !c.Valid() {
			t.Errorf("%s should be valid", c)
		}
	}
	if Category("spam").Valid() {
		t.Error("spam should not be a valid category")
	}
}

func TestSpanCoversAndOverlaps(t *testing.T) {
	a := Span{Start: 0, End: 10}
	b := Span{Start: 2, End: 5}
	c := Span{Start: 9, End: 12}
	if !a.Covers(b) || a.Covers(c) {
		t.Error("unexpected Covers result")
	}
	if !a.Overlaps(c) || b.Overlaps(c) {
		t.Error("unexpected Overlaps result")
	}
}

func TestLabelSet(t *testing.T) {
	got := LabelSet([]string{"b", "a", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected label set %v", got)
	}
}
