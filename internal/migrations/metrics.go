package migrations

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts migration runs on its own registry, which the CLI writes to
// a node-exporter textfile after each command.
type Metrics struct {
	registry *prometheus.Registry

	Runs     *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schemaflow",
			Name:      "migration_runs_total",
			Help:      "Migrations applied or unapplied, by backend, direction and status.",
		}, []string{"backend", "direction", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "schemaflow",
			Name:      "migration_duration_seconds",
			Help:      "Time spent running a single migration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "direction"}),
	}
	reg.MustRegister(m.Runs, m.Duration)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observe(backend, direction string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.Runs.WithLabelValues(backend, direction, status).Inc()
	m.Duration.WithLabelValues(backend, direction).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes every collected metric in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
