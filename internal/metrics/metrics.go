// Package metrics exposes sync counters and gauges in Prometheus format.
//
// Every method is safe to call on a nil *Metrics, so components can take
// an optional collector without branching.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

const namespace = "stridesync"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	pagesFetched   *prometheus.CounterVec
	recordsFetched *prometheus.CounterVec
	retries        *prometheus.CounterVec
	chunks         *prometheus.CounterVec
	rowsWritten    *prometheus.CounterVec
	stageOutcomes  *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastRun        prometheus.Gauge
	tableRows      *prometheus.GaugeVec
}

// New creates a Metrics with its own registry, including Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Source pages fetched, by entity.",
		}, []string{"entity"}),
		recordsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Source records fetched, by entity.",
		}, []string{"entity"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Failed page attempts followed by a backoff wait.",
		}, []string{"entity"}),
		chunks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_chunks_total",
			Help:      "Sink write chunks, by table and status.",
		}, []string{"table", "status"}),
		rowsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written to the sink, by table.",
		}, []string{"table"}),
		stageOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_outcomes_total",
			Help:      "Stage results, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"stage"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs, by final status.",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Pipeline run wall time.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		tableRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_rows",
			Help:      "Row count per sink table after the last run.",
		}, []string{"table"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePage counts a fetched page.
func (m *Metrics) ObservePage(entity core.Entity, records int) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(string(entity)).Inc()
	m.recordsFetched.WithLabelValues(string(entity)).Add(float64(records))
}

// ObserveRetry counts a failed page attempt.
func (m *Metrics) ObserveRetry(entity core.Entity) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(string(entity)).Inc()
}

// ObserveChunk counts a sink write chunk.
func (m *Metrics) ObserveChunk(table string, rows int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.chunks.WithLabelValues(table, "failure").Inc()
		return
	}
	m.chunks.WithLabelValues(table, "success").Inc()
	m.rowsWritten.WithLabelValues(table).Add(float64(rows))
}

// ObserveStage records a stage result.
func (m *Metrics) ObserveStage(res core.StageResult) {
	if m == nil {
		return
	}
	m.stageOutcomes.WithLabelValues(res.Stage, string(res.Outcome)).Inc()
	if res.Outcome != core.OutcomeSkipped {
		m.stageDuration.WithLabelValues(res.Stage).Observe(res.Duration.Seconds())
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status core.RunStatus, d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
	m.runDuration.Observe(d.Seconds())
	m.lastRun.Set(float64(finished.Unix()))
}

// SetTableRows records a table row count.
func (m *Metrics) SetTableRows(table string, n int64) {
	if m == nil {
		return
	}
	m.tableRows.WithLabelValues(table).Set(float64(n))
}
