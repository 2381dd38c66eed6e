package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "flotilla"
)

// Metrics holds all Prometheus metrics for the autoscaler
type Metrics struct {
	// Cycle metrics
	CycleTotal    *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Fleet metrics
	ServersTotal        prometheus.Gauge
	ServersInitializing prometheus.Gauge
	ServersReady        prometheus.Gauge
	ServersBusy         prometheus.Gauge
	ServersRecyclable   prometheus.Gauge
	QueuedRuns          prometheus.Gauge

	// Scaling metrics
	ProvisionTotal     *prometheus.CounterVec
	ProvisionDuration  *prometheus.HistogramVec
	Evictions          prometheus.Counter
	CapacityExhausted  prometheus.Counter
	StandbyReplenished prometheus.Counter

	// System metrics
	BuildInfo *prometheus.GaugeVec
	Leader    prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	m := &Metrics{
		// Cycle metrics
		CycleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of reconciliation cycles",
			},
			[]string{"status"},
		),
		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of reconciliation cycles including provisioning waits",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),

		// Fleet metrics
		ServersTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "servers_total",
				Help:      "Number of servers in the fleet",
			},
		),
		ServersInitializing: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "servers_initializing",
				Help:      "Number of servers whose runner has not registered yet",
			},
		),
		ServersReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "servers_ready",
				Help:      "Number of servers with an idle online runner",
			},
		),
		ServersBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "servers_busy",
				Help:      "Number of servers executing a job",
			},
		),
		ServersRecyclable: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "servers_recyclable",
				Help:      "Number of servers parked in the recycle namespace",
			},
		),
		QueuedRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_runs",
				Help:      "Number of workflow runs waiting for runners",
			},
		),

		// Scaling metrics
		ProvisionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provision_operations_total",
				Help:      "Total number of provisioning operations",
			},
			[]string{"operation", "status"},
		),
		ProvisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provision_duration_seconds",
				Help:      "Duration of provisioning operations",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
		Evictions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Total number of servers evicted to free capacity",
			},
		),
		CapacityExhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capacity_exhausted_total",
				Help:      "Times demand could not be met because the fleet was at its maximum",
			},
		),
		StandbyReplenished: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "standby_replenished_total",
				Help:      "Total number of standby servers provisioned",
			},
		),

		// System metrics
		BuildInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Information about the autoscaler build",
			},
			[]string{"version"},
		),
		Leader: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "leader_status",
				Help:      "Leader election status (1 if leader, 0 otherwise)",
			},
		),
	}

	return m
}
