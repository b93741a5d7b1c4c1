package prom

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/finwerk/fintsflow"
)

type fakeSource struct {
	snapshot fintsflow.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() fintsflow.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) AuditDropped() uint64                       { return f.dropped }

func testSource() *fakeSource {
	return &fakeSource{
		snapshot: fintsflow.MetricsSnapshot{
			Counters: map[fintsflow.MetricID]uint64{
				fintsflow.MetricDialogOpened: 7,
				fintsflow.MetricTANConfirmed: 2,
			},
			Histograms: map[fintsflow.MetricID][]uint64{
				fintsflow.MetricDialogOpenLatency: {4, 2, 1, 0, 0, 0, 0, 1},
			},
		},
		dropped: 3,
	}
}

func TestCollectorRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollectorFromSource(testSource())); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	byName := make(map[string]bool, len(families))
	for _, fam := range families {
		byName[fam.GetName()] = true
	}
	for _, want := range []string{
		"fintsflow_dialog_opened_total",
		"fintsflow_tan_confirmed_total",
		"fintsflow_dialog_open_latency_seconds",
		"fintsflow_audit_dropped_total",
	} {
		if !byName[want] {
			t.Fatalf("missing metric family %s", want)
		}
	}
}

func TestHistogramCumulativeCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollectorFromSource(testSource())); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != "fintsflow_dialog_open_latency_seconds" {
			continue
		}
		hist := fam.GetMetric()[0].GetHistogram()
		if got := hist.GetSampleCount(); got != 8 {
			t.Fatalf("sample count = %d, want 8", got)
		}
		// First bucket holds 4 samples; the second is cumulative at 6.
		buckets := hist.GetBucket()
		if buckets[0].GetCumulativeCount() != 4 || buckets[1].GetCumulativeCount() != 6 {
			t.Fatalf("cumulative buckets = %d, %d", buckets[0].GetCumulativeCount(), buckets[1].GetCumulativeCount())
		}
		return
	}
	t.Fatal("histogram family not gathered")
}

func TestHandlerServesExposition(t *testing.T) {
	handler, err := Handler(testSource())
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "fintsflow_dialog_opened_total 7") {
		t.Fatalf("exposition missing counter:\n%s", body)
	}
	if !strings.Contains(body, "fintsflow_audit_dropped_total 3") {
		t.Fatalf("exposition missing dropped counter:\n%s", body)
	}
}
