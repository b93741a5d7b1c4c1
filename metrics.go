package fintsflow

import (
	"sync/atomic"
	"time"
)

// MetricID names one engine counter.
type MetricID uint16

const (
	// MetricDialogOpened counts freshly opened bank dialogs.
	MetricDialogOpened MetricID = iota
	// MetricDialogResumed counts dialogs re-entered from a pause.
	MetricDialogResumed
	// MetricDialogPaused counts dialogs suspended for later resumption.
	MetricDialogPaused
	// MetricDialogClosed counts cleanly closed dialogs.
	MetricDialogClosed
	// MetricDialogLeaked counts dialogs force-closed at scope exit.
	MetricDialogLeaked
	// MetricAuthFailure counts PIN rejections by the bank.
	MetricAuthFailure
	// MetricLoginBusy counts operations refused because the login's dialog
	// lock was held elsewhere.
	MetricLoginBusy
	// MetricStaleDialog counts resumptions rejected by the bank as stale.
	MetricStaleDialog
	// MetricTANRequested counts TAN challenges raised by the bank.
	MetricTANRequested
	// MetricTANConfirmed counts TAN responses the bank accepted.
	MetricTANConfirmed
	// MetricTANFailed counts TAN responses the bank rejected.
	MetricTANFailed
	// MetricEnrollStarted counts enrollment workflows begun.
	MetricEnrollStarted
	// MetricEnrollCompleted counts enrollments that produced a user login.
	MetricEnrollCompleted
	// MetricWorkflowSuspended counts workflow suspensions across requests.
	MetricWorkflowSuspended
	// MetricWorkflowResumed counts successful workflow resumptions.
	MetricWorkflowResumed
	// MetricWorkflowExpired counts resume attempts on expired workflows.
	MetricWorkflowExpired
	// MetricTransferSubmitted counts transfer workflows begun.
	MetricTransferSubmitted
	// MetricTransferCompleted counts transfers the bank accepted.
	MetricTransferCompleted
	// MetricPINCached counts PINs written to the vault.
	MetricPINCached
	// MetricPINPurged counts vault purges.
	MetricPINPurged
	// MetricStatementsFetched counts statement retrievals.
	MetricStatementsFetched
	// MetricDialogOpenLatency is the dialog initialization latency histogram.
	MetricDialogOpenLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps hot counters on separate cache lines.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed-size set of atomic counters plus one latency histogram.
// All methods are safe for concurrent use and no-ops when disabled.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics constructs the counter set from configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are collected.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is collected.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a dialog open duration into the latency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricDialogOpenLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and histogram bucket.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricDialogOpenLatency].buckets[i])
		}
		s.Histograms[MetricDialogOpenLatency] = buckets
	}

	return s
}

// bucketIndex maps a duration to a histogram bucket. Bank round trips are
// slow; buckets top out in the seconds.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 100:
		return 0
	case ms <= 250:
		return 1
	case ms <= 500:
		return 2
	case ms <= 1000:
		return 3
	case ms <= 2500:
		return 4
	case ms <= 5000:
		return 5
	case ms <= 10000:
		return 6
	default:
		return 7
	}
}
