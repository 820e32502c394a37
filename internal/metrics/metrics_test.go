package metrics

import (
	"testing"
)

func counterValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.Forwards.WithLabelValues("ok").Inc()
	a.Forwards.WithLabelValues("ok").Inc()

	if got := counterValue(t, a, "beegfs_mirror_executor_forwards_total"); got != 2 {
		t.Errorf("expected 2 forwards on a, got %v", got)
	}
	if got := counterValue(t, b, "beegfs_mirror_executor_forwards_total"); got != 0 {
		t.Errorf("registries must not share state, got %v", got)
	}
}
