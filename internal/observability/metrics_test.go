package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestDomainCollectors_Registered(t *testing.T) {
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// Vec collectors only show up once a child exists.
	AdmissionDecisions.WithLabelValues("allowed")
	Lookups.WithLabelValues("dedup", "hit")
	mfs, _ = prometheus.DefaultGatherer.Gather()

	want := map[string]bool{
		"gate_admission_decisions_total": false,
		"gate_lookups_total":             false,
		"gate_ban_expiries_total":        false,
		"gate_store_pool_inflight":       false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("collector %s not registered", name)
		}
	}
}

func TestDomainCollectors_Increment(t *testing.T) {
	c := BansIssued.WithLabelValues("admin")
	before := counterValue(t, c)
	c.Inc()
	if got := counterValue(t, c); got != before+1 {
		t.Fatalf("counter = %v; want %v", got, before+1)
	}
}
