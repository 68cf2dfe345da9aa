// Package metrics exposes the flock's runtime counters over Prometheus,
// using the real client rather than a hand-rolled exposition writer: slot
// progress, quorum outcomes, fail-stop unit count, and RPC latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the flock binary registers.
// Construct one per process with New and pass it to the coordinator and
// RPC server that produce observations.
type Metrics struct {
	SlotCurrent       prometheus.Gauge
	QuorumTotal       *prometheus.CounterVec
	FailStopUnits     prometheus.Gauge
	RPCLatencySeconds prometheus.Histogram
}

// New registers a fresh set of collectors on a dedicated registry and
// returns both the Metrics handle and that registry; pass the registry to
// Handler to serve them in Prometheus text format. Using a dedicated
// registry (rather than the
// global DefaultRegisterer) keeps repeated construction in tests
// collision-free.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SlotCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bounce",
			Name:      "slot_current",
			Help:      "Current slot index observed by the flock coordinator.",
		}),
		QuorumTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bounce",
			Name:      "quorum_total",
			Help:      "Aggregates returned by the coordinator, labeled by commit type.",
		}, []string{"type"}),
		FailStopUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bounce",
			Name:      "failstop_units",
			Help:      "Number of bounce units configured as FailStop in this flock.",
		}),
		RPCLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bounce",
			Name:      "rpc_latency_seconds",
			Help:      "Round-trip latency of Bounce RPC calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.SlotCurrent, m.QuorumTotal, m.FailStopUnits, m.RPCLatencySeconds)
	return m, reg
}

// Handler returns the HTTP handler serving reg's metrics in Prometheus
// text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveLatency records the duration since start against
// RPCLatencySeconds. Called by the RPC server after every Bounce call.
func (m *Metrics) ObserveLatency(start time.Time) {
	if m == nil {
		return
	}
	m.RPCLatencySeconds.Observe(time.Since(start).Seconds())
}
