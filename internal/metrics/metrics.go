// Package metrics wires the store's retry/error counters into Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/relay/pkg/types"
)

// Collector implements store.Metrics against a Prometheus registry labeled
// globally with app="relay", mirroring the source CLI's global label.
type Collector struct {
	retries *prometheus.CounterVec
	errors  *prometheus.CounterVec
	jobs    *prometheus.GaugeVec
	latency *prometheus.HistogramVec
}

// New creates and registers the collector's vectors under a registerer
// wrapped with the app global label.
func New(reg prometheus.Registerer) *Collector {
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"app": "relay"}, reg)

	return &Collector{
		retries: promauto.With(wrapped).NewCounterVec(prometheus.CounterOpts{
			Name: "relay_retries_total",
			Help: "Number of job retry transitions, labeled by queue.",
		}, []string{"queue"}),
		errors: promauto.With(wrapped).NewCounterVec(prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Number of swallowed or surfaced errors, labeled by queue and type.",
		}, []string{"queue", "type"}),
		jobs: promauto.With(wrapped).NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_jobs",
			Help: "Current job count, labeled by queue and state (pending, in_flight).",
		}, []string{"queue", "state"}),
		latency: promauto.With(wrapped).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_job_latency_seconds",
			Help:    "Time from a job's dispatch (Next) to its completion, labeled by queue.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
	}
}

// IncRetries implements store.Metrics.
func (c *Collector) IncRetries(queue types.QueueName) {
	c.retries.WithLabelValues(string(queue)).Inc()
}

// IncErrors implements store.Metrics.
func (c *Collector) IncErrors(queue types.QueueName, errType string) {
	c.errors.WithLabelValues(string(queue), errType).Inc()
}

// SetQueueDepth implements store.Metrics.
func (c *Collector) SetQueueDepth(queue types.QueueName, pending, inFlight int) {
	c.jobs.WithLabelValues(string(queue), "pending").Set(float64(pending))
	c.jobs.WithLabelValues(string(queue), "in_flight").Set(float64(inFlight))
}

// ObserveLatency implements store.Metrics.
func (c *Collector) ObserveLatency(queue types.QueueName, d time.Duration) {
	c.latency.WithLabelValues(string(queue)).Observe(d.Seconds())
}

// Handler returns the promhttp handler for the default gatherer, suitable
// for mounting on a dedicated metrics port.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns the promhttp handler for a specific registry, used
// when the collector was built against its own prometheus.Registry rather
// than the global default.
func HandlerFor(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
