// Package metrics exposes Prometheus collectors for migration runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nitro_migrate"

// Deployment statuses used as the status label.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusDryRun  = "dry_run"
)

// Metrics holds the collectors and the registry they are registered in.
type Metrics struct {
	registry *prometheus.Registry

	deployments   *prometheus.CounterVec
	gasUsed       *prometheus.HistogramVec
	duration      *prometheus.HistogramVec
	lastCompleted *prometheus.GaugeVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Contract deployments attempted, by contract and outcome.",
		}, []string{"contract", "status"}),
		gasUsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deployment_gas_used",
			Help:      "Gas used by confirmed contract deployments.",
			Buckets:   prometheus.ExponentialBuckets(100_000, 2, 8),
		}, []string{"contract"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_duration_seconds",
			Help:      "Wall time spent executing a migration.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"migration"}),
		lastCompleted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_completed_migration",
			Help:      "Number of the last migration recorded as completed on chain.",
		}, []string{"chain_id"}),
	}

	m.registry.MustRegister(
		m.deployments,
		m.gasUsed,
		m.duration,
		m.lastCompleted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDeployment records one deployment outcome. gasUsed is ignored unless
// status is StatusSuccess.
func (m *Metrics) ObserveDeployment(contract, status string, gasUsed uint64) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(contract, status).Inc()
	if status == StatusSuccess {
		m.gasUsed.WithLabelValues(contract).Observe(float64(gasUsed))
	}
}

// ObserveMigration records how long a migration took.
func (m *Metrics) ObserveMigration(number uint64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(strconv.FormatUint(number, 10)).Observe(elapsed.Seconds())
}

// SetLastCompleted publishes the tracker value for a chain.
func (m *Metrics) SetLastCompleted(chainID, number uint64) {
	if m == nil {
		return
	}
	m.lastCompleted.WithLabelValues(strconv.FormatUint(chainID, 10)).Set(float64(number))
}
