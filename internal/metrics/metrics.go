// Package metrics exposes Prometheus instrumentation for the scanner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scanrec"

// Orchestrator metrics.
var (
	AutoMode = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "auto_mode",
		Help:      "1 while the orchestrator is in auto mode, 0 otherwise",
	})
	ScanIndex = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scan_index",
		Help:      "Current position in the frequency scan list",
	})
	TuneFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tune_failures_total",
		Help:      "Total tuning failures",
	})
	ConsecutiveTuneFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "consecutive_tune_failures",
		Help:      "Tuning failures in a row at the current scan index",
	})
	ScanIterations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_iterations_total",
		Help:      "Completed scan loop iterations",
	})
)

// Recorder metrics.
var (
	CaptureActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "capture_active",
		Help:      "1 while a capture is in progress, 0 otherwise",
	})
	CapturesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_started_total",
		Help:      "Total captures started",
	})
	CapturesSaved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_saved_total",
		Help:      "Total captures converted and saved",
	})
	CapturesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_discarded_total",
		Help:      "Total captures discarded below the minimum duration",
	})
	ConversionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversion_failures_total",
		Help:      "Total failed staging conversions",
	})
	UploadsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_completed_total",
		Help:      "Total successful S3 uploads",
	})
	UploadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_failed_total",
		Help:      "Total failed S3 uploads",
	})
)

// Presence metrics.
var (
	RemoteClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "remote_clients",
		Help:      "Currently connected remote clients",
	})
	LocalClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "local_clients",
		Help:      "Currently connected local clients",
	})
)

// Decoding metrics.
var (
	DecodingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decodings_total",
		Help:      "Total decodings collected across sessions",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
