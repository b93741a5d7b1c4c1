// Package internaldefs holds the shared metric naming used by every exporter,
// keeping OTel and Prometheus output consistent.
package internaldefs

import (
	"github.com/finwerk/fintsflow"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   fintsflow.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   fintsflow.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: fintsflow.MetricDialogOpened, Name: "fintsflow_dialog_opened_total", Help: "Freshly opened bank dialogs."},
	{ID: fintsflow.MetricDialogResumed, Name: "fintsflow_dialog_resumed_total", Help: "Dialogs re-entered from a pause."},
	{ID: fintsflow.MetricDialogPaused, Name: "fintsflow_dialog_paused_total", Help: "Dialogs suspended for later resumption."},
	{ID: fintsflow.MetricDialogClosed, Name: "fintsflow_dialog_closed_total", Help: "Cleanly closed dialogs."},
	{ID: fintsflow.MetricDialogLeaked, Name: "fintsflow_dialog_leaked_total", Help: "Dialogs force-closed at scope exit."},
	{ID: fintsflow.MetricAuthFailure, Name: "fintsflow_auth_failure_total", Help: "PIN rejections by the bank."},
	{ID: fintsflow.MetricLoginBusy, Name: "fintsflow_login_busy_total", Help: "Operations refused because the login dialog lock was held."},
	{ID: fintsflow.MetricStaleDialog, Name: "fintsflow_stale_dialog_total", Help: "Resumptions rejected by the bank as stale."},
	{ID: fintsflow.MetricTANRequested, Name: "fintsflow_tan_requested_total", Help: "TAN challenges raised by the bank."},
	{ID: fintsflow.MetricTANConfirmed, Name: "fintsflow_tan_confirmed_total", Help: "TAN responses the bank accepted."},
	{ID: fintsflow.MetricTANFailed, Name: "fintsflow_tan_failed_total", Help: "TAN responses the bank rejected."},
	{ID: fintsflow.MetricEnrollStarted, Name: "fintsflow_enroll_started_total", Help: "Enrollment workflows begun."},
	{ID: fintsflow.MetricEnrollCompleted, Name: "fintsflow_enroll_completed_total", Help: "Enrollments that produced a user login."},
	{ID: fintsflow.MetricWorkflowSuspended, Name: "fintsflow_workflow_suspended_total", Help: "Workflow suspensions across requests."},
	{ID: fintsflow.MetricWorkflowResumed, Name: "fintsflow_workflow_resumed_total", Help: "Successful workflow resumptions."},
	{ID: fintsflow.MetricWorkflowExpired, Name: "fintsflow_workflow_expired_total", Help: "Resume attempts on expired workflows."},
	{ID: fintsflow.MetricTransferSubmitted, Name: "fintsflow_transfer_submitted_total", Help: "Transfer workflows begun."},
	{ID: fintsflow.MetricTransferCompleted, Name: "fintsflow_transfer_completed_total", Help: "Transfers the bank accepted."},
	{ID: fintsflow.MetricPINCached, Name: "fintsflow_pin_cached_total", Help: "PINs written to the vault."},
	{ID: fintsflow.MetricPINPurged, Name: "fintsflow_pin_purged_total", Help: "PIN vault purges."},
	{ID: fintsflow.MetricStatementsFetched, Name: "fintsflow_statements_fetched_total", Help: "Statement retrievals."},
}

var HistogramDefs = []HistogramDef{
	{ID: fintsflow.MetricDialogOpenLatency, Name: "fintsflow_dialog_open_latency_seconds", Help: "Dialog initialization latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds. Bank round trips
// are slow; buckets top out at ten seconds.
var HistogramBounds = []string{
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"10",
	"+Inf",
}

// HistogramBoundValues are the numeric bounds matching HistogramBounds, +Inf
// excluded.
var HistogramBoundValues = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// HistogramBoundSuffix are instrument-name-safe bound spellings for backends
// without labeled buckets.
var HistogramBoundSuffix = []string{
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"10",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed bucket
// count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form both
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
