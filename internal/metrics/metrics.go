// Package metrics provides Prometheus metrics for the tunnel fabric.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry for all ztconnect metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// FabricMetrics holds all Prometheus metrics for the tunnel fabric
// supervisor. The hub dashboard scrapes these through the local metrics
// helper endpoint.
type FabricMetrics struct {
	// Per-hub tunnel state (labels: hub, state; 1 for the current state)
	TunnelState *prometheus.GaugeVec

	// Per-hub up/down view ({Connected,Degraded} -> 1)
	TunnelUp *prometheus.GaugeVec

	// Per-hub supervised restart count
	Restarts *prometheus.CounterVec

	// Overall reachability: OR across all tunnel units
	Reachable prometheus.Gauge

	// Watchdog loop health
	WatchdogCycles        prometheus.Counter
	WatchdogCycleDuration prometheus.Histogram
	WatchdogQueryErrors   prometheus.Counter

	// Key registration outcome (1 = deferred, manual action pending)
	RegistrationDeferred prometheus.Gauge
}

// tunnelStates are the label values published for TunnelState.
var tunnelStates = []string{"stopped", "starting", "connected", "degraded", "failed"}

// InitMetrics initializes all fabric metrics with the node name as a
// constant label.
func InitMetrics(nodeName string) *FabricMetrics {
	constLabels := prometheus.Labels{"node": nodeName}

	return &FabricMetrics{
		TunnelState: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name:        "ztconnect_tunnel_state",
			Help:        "Current tunnel state per hub (1 for the active state)",
			ConstLabels: constLabels,
		}, []string{"hub", "state"}),
		TunnelUp: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name:        "ztconnect_tunnel_up",
			Help:        "1 when the hub is reachable through this tunnel (connected or degraded)",
			ConstLabels: constLabels,
		}, []string{"hub"}),
		Restarts: promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
			Name:        "ztconnect_tunnel_restarts_total",
			Help:        "Total watchdog-triggered tunnel restarts per hub",
			ConstLabels: constLabels,
		}, []string{"hub"}),
		Reachable: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name:        "ztconnect_node_reachable",
			Help:        "1 when at least one tunnel unit is connected or degraded",
			ConstLabels: constLabels,
		}),
		WatchdogCycles: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name:        "ztconnect_watchdog_cycles_total",
			Help:        "Total watchdog poll cycles completed",
			ConstLabels: constLabels,
		}),
		WatchdogCycleDuration: promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
			Name:        "ztconnect_watchdog_cycle_duration_seconds",
			Help:        "Duration of watchdog poll cycles",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		WatchdogQueryErrors: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name:        "ztconnect_watchdog_query_errors_total",
			Help:        "Total supervisor liveness queries that failed or timed out",
			ConstLabels: constLabels,
		}),
		RegistrationDeferred: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name:        "ztconnect_key_registration_deferred",
			Help:        "1 when key registration was deferred and needs manual follow-up",
			ConstLabels: constLabels,
		}),
	}
}

// SetTunnelState publishes the current state for a hub, clearing the other
// state label values.
func (m *FabricMetrics) SetTunnelState(hubHost, state string) {
	for _, s := range tunnelStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.TunnelState.WithLabelValues(hubHost, s).Set(v)
	}
}

// SetTunnelUp publishes a hub's up/down view.
func (m *FabricMetrics) SetTunnelUp(hubHost string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.TunnelUp.WithLabelValues(hubHost).Set(v)
}

// SetReachable publishes the node's overall reachability.
func (m *FabricMetrics) SetReachable(reachable bool) {
	v := 0.0
	if reachable {
		v = 1.0
	}
	m.Reachable.Set(v)
}

// SetRegistrationDeferred publishes whether the install-time key registration
// still needs manual follow-up.
func (m *FabricMetrics) SetRegistrationDeferred(deferred bool) {
	v := 0.0
	if deferred {
		v = 1.0
	}
	m.RegistrationDeferred.Set(v)
}
