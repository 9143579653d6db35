// Package metrics registers the coordinator's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the coordinator's collectors. cmd/coordinator sets the
// three gauges from a periodic poll; nothing in the repository observes
// the two filter-latency histograms.
type Metrics struct {
	WorkersConnected prometheus.Gauge
	ResourcesTotal   *prometheus.GaugeVec
	LifecycleState   prometheus.Gauge
	FilterApply      *prometheus.HistogramVec
	FilterCallback   *prometheus.HistogramVec
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_workers_connected",
			Help: "Number of currently open connections, workers and managers alike.",
		}),
		ResourcesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coordinator_resources_total",
			Help: "Current resource count by status.",
		}, []string{"status"}),
		LifecycleState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_lifecycle_state",
			Help: "Current lifecycle state: 0=running, 1=finishing, 2=shutting-down.",
		}),
		FilterApply: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "coordinator_filter_apply_seconds",
			Help: "Latency of filter Apply calls.",
		}, []string{"filter", "stage"}),
		FilterCallback: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "coordinator_filter_callback_seconds",
			Help: "Latency of filter Callback calls.",
		}, []string{"filter", "stage"}),
	}

	reg.MustRegister(
		m.WorkersConnected,
		m.ResourcesTotal,
		m.LifecycleState,
		m.FilterApply,
		m.FilterCallback,
	)
	return m
}

// SetCounts updates the per-status resource gauges from a resource.Counts
// snapshot's six fields, keyed by the wire status spelling.
func (m *Metrics) SetCounts(total, succeeded, inProgress, available, failed, errored int) {
	m.ResourcesTotal.WithLabelValues("TOTAL").Set(float64(total))
	m.ResourcesTotal.WithLabelValues("SUCCEEDED").Set(float64(succeeded))
	m.ResourcesTotal.WithLabelValues("INPROGRESS").Set(float64(inProgress))
	m.ResourcesTotal.WithLabelValues("AVAILABLE").Set(float64(available))
	m.ResourcesTotal.WithLabelValues("FAILED").Set(float64(failed))
	m.ResourcesTotal.WithLabelValues("ERROR").Set(float64(errored))
}
