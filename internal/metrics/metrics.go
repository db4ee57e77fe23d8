// Package metrics exposes Prometheus metrics for the embedder.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns an isolated registry and the embedder's collectors.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	queueDuration     prometheus.Histogram
	modelLoads        *prometheus.CounterVec
	loadDuration      *prometheus.HistogramVec
}

// New registers the embedder collectors on a fresh registry. Go runtime and
// process collectors are added when defaultCollectors is true.
func New(namespace string, defaultCollectors bool) *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		Registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_requests_total",
			Help:      "Embedding requests by model, output format and outcome.",
		}, []string{"model", "output", "outcome"}),
		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_duration_seconds",
			Help:      "Time spent transforming documents, excluding queueing.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"model"}),
		queueDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_queue_duration_seconds",
			Help:      "Time a transform waited for a free worker.",
			Buckets:   prometheus.DefBuckets,
		}),
		modelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model load attempts by outcome.",
		}, []string{"model", "outcome"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_load_duration_seconds",
			Help:      "Time spent loading a model.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"model"}),
	}
	registry.MustRegister(
		m.requestsTotal,
		m.transformDuration,
		m.queueDuration,
		m.modelLoads,
		m.loadDuration,
	)
	if defaultCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// IncrementRequests counts one finished embedding request.
func (m *Metrics) IncrementRequests(model, output, outcome string) {
	m.requestsTotal.WithLabelValues(model, output, outcome).Inc()
}

// ObserveTransform records the transform time of one request.
func (m *Metrics) ObserveTransform(model string, d time.Duration) {
	m.transformDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveQueue records how long a task waited for a worker.
func (m *Metrics) ObserveQueue(d time.Duration) {
	m.queueDuration.Observe(d.Seconds())
}

// ObserveModelLoad records one load attempt.
func (m *Metrics) ObserveModelLoad(model string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.modelLoads.WithLabelValues(model, outcome).Inc()
	m.loadDuration.WithLabelValues(model).Observe(d.Seconds())
}
