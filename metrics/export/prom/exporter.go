// Package prom exposes engine counters as a Prometheus collector. Metrics are
// read from a snapshot at scrape time, so registering the collector adds no
// cost to the engine's hot path.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finwerk/fintsflow"
	"github.com/finwerk/fintsflow/metrics/export/internaldefs"
)

// MetricsSource is the read surface the collector needs; *fintsflow.Engine
// satisfies it.
type MetricsSource interface {
	MetricsSnapshot() fintsflow.MetricsSnapshot
	AuditDropped() uint64
}

// Collector implements prometheus.Collector over an engine's metrics.
type Collector struct {
	source       MetricsSource
	counterDescs map[fintsflow.MetricID]*prometheus.Desc
	histDescs    map[fintsflow.MetricID]*prometheus.Desc
	droppedDesc  *prometheus.Desc
}

// NewCollector builds a collector reading from the engine.
func NewCollector(engine *fintsflow.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

// NewCollectorFromSource builds a collector over an arbitrary source.
func NewCollectorFromSource(source MetricsSource) *Collector {
	c := &Collector{
		source:       source,
		counterDescs: make(map[fintsflow.MetricID]*prometheus.Desc, len(internaldefs.CounterDefs)),
		histDescs:    make(map[fintsflow.MetricID]*prometheus.Desc, len(internaldefs.HistogramDefs)),
		droppedDesc: prometheus.NewDesc("fintsflow_audit_dropped_total",
			"Dropped audit events due to dispatcher backpressure.", nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counterDescs[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histDescs[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.counterDescs {
		ch <- desc
	}
	for _, desc := range c.histDescs {
		ch <- desc
	}
	ch <- c.droppedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for _, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(c.counterDescs[def.ID], prometheus.CounterValue,
			float64(snapshot.Counters[def.ID]))
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBoundValues))
		for i, bound := range internaldefs.HistogramBoundValues {
			buckets[bound] = cumulative[i]
		}
		count := cumulative[len(cumulative)-1]
		// The engine tracks bucket counts only; the sum is not available.
		ch <- prometheus.MustNewConstHistogram(c.histDescs[def.ID], count, 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue,
		float64(c.source.AuditDropped()))
}

// Handler registers the collector in a fresh registry and returns a scrape
// handler for it.
func Handler(source MetricsSource) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollectorFromSource(source)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
