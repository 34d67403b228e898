// Package metrics holds the prometheus collectors for the ledger, the
// indexer and the verifier. Each Metrics owns its registry so tests and
// multiple ledgers in one process do not collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "atomledger"

// Append outcomes.
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Metrics is the set of collectors exported by atomledger.
type Metrics struct {
	registry *prometheus.Registry

	AppendTotal    *prometheus.CounterVec
	AppendRetries  prometheus.Counter
	BatchesTotal   prometheus.Counter
	BatchEvents    prometheus.Counter
	BatchDuration  prometheus.Histogram
	BatchErrors    prometheus.Counter
	Watermark      prometheus.Gauge
	VerifyRuns     prometheus.Counter
	VerifyFailures prometheus.Counter
	Divergent      prometheus.Gauge
}

// New creates and registers every collector on a fresh registry, along
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AppendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Append calls by outcome.",
		}, []string{"outcome"}),
		AppendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "append_retries_total",
			Help:      "Append attempts retried after a transient storage error.",
		}),
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "batches_total",
			Help:      "Completed indexer batches.",
		}),
		BatchEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "events_folded_total",
			Help:      "Events folded into the index.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one indexer batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		BatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "batch_errors_total",
			Help:      "Indexer batches that ended in an error.",
		}),
		Watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "watermark",
			Help:      "Last ledger store id reflected in the index.",
		}),
		VerifyRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "runs_total",
			Help:      "Shadow verification runs.",
		}),
		VerifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "failures_total",
			Help:      "Shadow verification runs that found a divergent index.",
		}),
		Divergent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "divergent_entries",
			Help:      "Index entries that differed from a full replay in the last run.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AppendTotal,
		m.AppendRetries,
		m.BatchesTotal,
		m.BatchEvents,
		m.BatchDuration,
		m.BatchErrors,
		m.Watermark,
		m.VerifyRuns,
		m.VerifyFailures,
		m.Divergent,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
