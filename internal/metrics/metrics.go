// Package metrics exposes Prometheus instruments for the import pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the import instruments. A nil *Metrics records nothing.
type Metrics struct {
	importsTotal   *prometheus.CounterVec
	rowsTotal      *prometheus.CounterVec
	batchesTotal   *prometheus.CounterVec
	importDuration *prometheus.HistogramVec
	rejectedTotal  *prometheus.CounterVec
}

// New registers the instruments on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		importsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "importer",
			Name:      "imports_total",
			Help:      "Imports that reached a terminal state, by type, status and dry run.",
		}, []string{"type", "status", "dry_run"}),
		rowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "importer",
			Name:      "rows_total",
			Help:      "Rows handled by the pipeline, by type and result.",
		}, []string{"type", "result"}),
		batchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "importer",
			Name:      "batches_total",
			Help:      "Destination calls, by type and result.",
		}, []string{"type", "result"}),
		importDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "importer",
			Name:      "import_duration_seconds",
			Help:      "Wall time from request validation to terminal state.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"type", "dry_run"}),
		rejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "importer",
			Name:      "rejected_requests_total",
			Help:      "Import requests refused before streaming, by error code.",
		}, []string{"code"}),
	}
}

// ObserveImport records one finished import
func (m *Metrics) ObserveImport(importType, status string, dryRun bool, d time.Duration) {
	if m == nil {
		return
	}
	dr := boolLabel(dryRun)
	m.importsTotal.WithLabelValues(importType, status, dr).Inc()
	m.importDuration.WithLabelValues(importType, dr).Observe(d.Seconds())
}

// AddRows records row outcomes
func (m *Metrics) AddRows(importType string, processed, invalid, failed int) {
	if m == nil {
		return
	}
	m.rowsTotal.WithLabelValues(importType, "processed").Add(float64(processed))
	m.rowsTotal.WithLabelValues(importType, "invalid").Add(float64(invalid))
	m.rowsTotal.WithLabelValues(importType, "failed").Add(float64(failed))
}

// AddBatches records destination call outcomes
func (m *Metrics) AddBatches(importType string, ok, failed int) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(importType, "ok").Add(float64(ok))
	m.batchesTotal.WithLabelValues(importType, "failed").Add(float64(failed))
}

// Rejected records a request refused during validation
func (m *Metrics) Rejected(code string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(code).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
