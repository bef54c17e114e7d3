// Package metrics exposes batch progress on a Prometheus endpoint.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/giro-cli/internal/batch"
)

const namespace = "giro"

// Metrics holds the collectors fed by batch progress events. It implements
// batch.Observer.
type Metrics struct {
	registry *prometheus.Registry

	outcomes      *prometheus.CounterVec
	records       prometheus.Counter
	attempts      prometheus.Histogram
	queryDuration prometheus.Histogram
	processed     prometheus.Gauge
	total         prometheus.Gauge

	mu   sync.Mutex
	last batch.Progress
}

// New creates Metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identifier_outcomes_total",
				Help:      "Final outcomes per identifier by status.",
			},
			[]string{"status"},
		),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Payment records parsed before consolidation.",
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "identifier_attempts",
			Help:      "Query attempts spent per identifier.",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "identifier_duration_seconds",
			Help:      "Wall time per identifier including retries and recreations.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		processed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_processed",
			Help:      "Identifiers with a final outcome in the current run.",
		}),
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_total",
			Help:      "Identifiers in the current run.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.outcomes,
		m.records,
		m.attempts,
		m.queryDuration,
		m.processed,
		m.total,
	)

	return m
}

// OnProgress records one identifier's outcome.
func (m *Metrics) OnProgress(p batch.Progress) {
	m.outcomes.WithLabelValues(string(p.Status)).Inc()
	m.records.Add(float64(p.Records))
	m.attempts.Observe(float64(p.Attempts))
	m.queryDuration.Observe(p.Duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Processed >= m.last.Processed {
		m.last = p
		m.processed.Set(float64(p.Processed))
		m.total.Set(float64(p.Total))
	}
}

// Last returns the most recent progress event.
func (m *Metrics) Last() batch.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
