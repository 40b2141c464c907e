package prometrics

import (
	"testing"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if matches(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("%s%v not found", name, labels)
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestCounterToleratesMissingAndExtraLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, "")
	c, err := r.Counter("payments_total", "test", "gateway", "outcome")
	if err != nil {
		t.Fatal(err)
	}
	c.Add(1, observability.L("gateway", "khalti"), observability.L("order_id", "o-1"))
	c.Bind(observability.L("gateway", "khalti"), observability.L("outcome", "success")).Add(2)

	if got := counterValue(t, reg, "payments_total", map[string]string{"gateway": "khalti", "outcome": ""}); got != 1 {
		t.Fatalf("partial labels = %v", got)
	}
	if got := counterValue(t, reg, "payments_total", map[string]string{"gateway": "khalti", "outcome": "success"}); got != 2 {
		t.Fatalf("bound = %v", got)
	}
}

func TestRegisteringTwiceReusesTheVector(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg, "").Counter("events_total", "test", "event")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(reg, "").Counter("events_total", "test", "event")
	if err != nil {
		t.Fatalf("second registry: %v", err)
	}
	a.Add(1, observability.L("event", "order_placed"))
	b.Add(1, observability.L("event", "order_placed"))
	if got := counterValue(t, reg, "events_total", map[string]string{"event": "order_placed"}); got != 2 {
		t.Fatalf("events_total = %v", got)
	}

	if _, err := New(reg, "").Histogram("events_total", "test", nil, "event"); err == nil {
		t.Fatal("histogram over a counter name accepted")
	}
}
