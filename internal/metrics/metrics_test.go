package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestChecksCounter(t *testing.T) {
	labels := map[string]string{"direction": "input", "feature": "hint", "state": "completed"}
	before := counterValue(t, "eduguard_checks_total", labels)
	Checks.WithLabelValues("input", "hint", "completed").Inc()
	if got := counterValue(t, "eduguard_checks_total", labels); got != before+1 {
		t.Errorf("expected counter %v, got %v", before+1, got)
	}
}

func TestRegisterPending(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 3
	if err := RegisterPending(reg, func() int { return n }); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 || families[0].GetMetric()[0].GetGauge().GetValue() != 3 {
		t.Errorf("expected pending gauge of 3, got %v", families)
	}
	if err := RegisterPending(reg, func() int { return 0 }); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}
