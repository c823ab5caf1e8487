// Package metrics provides Prometheus metrics for nodesync runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a nodesync run.
type Metrics struct {
	registry *prometheus.Registry

	// Listing
	ListPages   *prometheus.CounterVec // Pages fetched, labeled by node
	ListErrors  *prometheus.CounterVec // Truncated resources, labeled by node
	PathsListed *prometheus.CounterVec // Paths kept after suffix filtering, labeled by node

	// Replication
	Jobs        *prometheus.CounterVec // Finished jobs, labeled by decision
	BytesCopied prometheus.Counter
	CopyRetries prometheus.Counter
	JobsActive  prometheus.Gauge
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		ListPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodesync_list_pages_total",
			Help: "Listing pages fetched per node.",
		}, []string{"node"}),
		ListErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodesync_list_errors_total",
			Help: "Listing resources truncated by a transport or protocol failure.",
		}, []string{"node"}),
		PathsListed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodesync_paths_listed_total",
			Help: "Container paths kept after suffix filtering.",
		}, []string{"node"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodesync_jobs_total",
			Help: "Replication jobs finished, by terminal decision.",
		}, []string{"decision"}),
		BytesCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nodesync_bytes_copied_total",
			Help: "Object bytes transferred to the target node.",
		}),
		CopyRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nodesync_copy_retries_total",
			Help: "Transfer attempts beyond the first, across all jobs.",
		}),
		JobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodesync_jobs_active",
			Help: "Replication jobs currently executing.",
		}),
	}

	reg.MustRegister(m.ListPages, m.ListErrors, m.PathsListed,
		m.Jobs, m.BytesCopied, m.CopyRetries, m.JobsActive)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
