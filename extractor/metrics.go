package extractor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"landrecord-extractor/internal/types"
)

// Metrics bundles Prometheus collectors for portal runs.
type Metrics struct {
	Registry         *prometheus.Registry
	RunsTotal        *prometheus.CounterVec
	PagesTotal       *prometheus.CounterVec
	RowsTotal        *prometheus.CounterVec
	RetrievalsTotal  *prometheus.CounterVec
	WaitsTotal       *prometheus.CounterVec
	DownloadDuration prometheus.Histogram
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landrecord_runs_total",
			Help: "Total portal runs by terminal status.",
		},
		[]string{"portal", "status"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landrecord_result_pages_total",
			Help: "Total result pages read.",
		},
		[]string{"portal"},
	)
	rows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landrecord_result_rows_total",
			Help: "Total result rows read.",
		},
		[]string{"portal"},
	)
	retrievals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landrecord_retrievals_total",
			Help: "Document retrieval outcomes by strategy.",
		},
		[]string{"portal", "strategy", "result"},
	)
	waits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landrecord_waits_total",
			Help: "Bounded UI waits by outcome.",
		},
		[]string{"outcome"},
	)
	downloadDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "landrecord_download_duration_seconds",
			Help:    "Latency of authenticated document downloads.",
			Buckets: prometheus.DefBuckets,
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landrecord_errors_total",
			Help: "Total number of errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(runs, pages, rows, retrievals, waits, downloadDuration, errorsTotal)

	return &Metrics{
		Registry:         registry,
		RunsTotal:        runs,
		PagesTotal:       pages,
		RowsTotal:        rows,
		RetrievalsTotal:  retrievals,
		WaitsTotal:       waits,
		DownloadDuration: downloadDuration,
		ErrorsTotal:      errorsTotal,
	}
}

// IncRun records a finished run.
func (m *Metrics) IncRun(portal, status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(portal, status).Inc()
}

// ObservePage records one result page and its rows.
func (m *Metrics) ObservePage(portal string, rows int) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(portal).Inc()
	m.RowsTotal.WithLabelValues(portal).Add(float64(rows))
}

// ObserveRetrieval records the outcome of one row.
func (m *Metrics) ObserveRetrieval(portal string, outcome types.RetrievalOutcome) {
	if m == nil {
		return
	}
	result := "ok"
	if !outcome.OK() {
		result = string(outcome.Failure)
	}
	strategy := outcome.Strategy
	if strategy == "" {
		strategy = "none"
	}
	m.RetrievalsTotal.WithLabelValues(portal, strategy, result).Inc()
}

// ObserveWait records the outcome of a bounded wait.
func (m *Metrics) ObserveWait(name string, outcome types.WaitOutcome, attempts int) {
	if m == nil {
		return
	}
	m.WaitsTotal.WithLabelValues(outcome.String()).Inc()
}

// ObserveDownload records a download duration.
func (m *Metrics) ObserveDownload(d time.Duration) {
	if m == nil {
		return
	}
	m.DownloadDuration.Observe(d.Seconds())
}

// IncError increments the errors counter for err's kind.
func (m *Metrics) IncError(err error) {
	if m == nil || err == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(types.ErrorKind(err)).Inc()
}
