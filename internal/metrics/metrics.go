// Package metrics records per-invocation Prometheus metrics and flushes
// them to a node_exporter textfile-collector file, since NexCage is a
// one-shot process with no long-lived /metrics endpoint to scrape.
package metrics

import (
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the metrics for one invocation. A fresh Registry
// should be constructed per process run rather than shared, since
// prometheus.WriteToTextfile overwrites the whole output file.
type Registry struct {
	registry *prometheus.Registry

	OperationsTotal  *prometheus.CounterVec
	OperationSeconds *prometheus.HistogramVec
	LastRunTimestamp prometheus.Gauge
}

// NewRegistry constructs a Registry with NexCage's fixed metric set
// registered under the nexcage_ namespace.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexcage",
			Name:      "operations_total",
			Help:      "Total number of NexCage operations, by verb and outcome.",
		}, []string{"operation", "backend", "outcome"}),
		OperationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nexcage",
			Name:      "operation_duration_seconds",
			Help:      "Duration of NexCage operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "backend"}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexcage",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix timestamp of the most recent NexCage invocation.",
		}),
	}

	reg.MustRegister(r.OperationsTotal, r.OperationSeconds, r.LastRunTimestamp)
	return r
}

// ObserveOperation records one completed operation's outcome and
// duration.
func (r *Registry) ObserveOperation(operation, backendName, outcome string, d time.Duration) {
	r.OperationsTotal.WithLabelValues(operation, backendName, outcome).Inc()
	r.OperationSeconds.WithLabelValues(operation, backendName).Observe(d.Seconds())
}

// Flush writes the current metric values to path/nexcage.prom, the
// convention node_exporter's textfile collector expects: one file per
// collector, atomically replaced on each write.
func (r *Registry) Flush(dir string) error {
	r.LastRunTimestamp.SetToCurrentTime()
	return prometheus.WriteToTextfile(textfilePath(dir), r.registry)
}

func textfilePath(dir string) string {
	return filepath.Join(dir, "nexcage.prom")
}
