// Package metrics holds the Prometheus collectors shared across the panel.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DaemonRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_daemon_requests_total",
		Help: "Calls made to node daemons, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	DaemonLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hearth_daemon_request_seconds",
		Help:    "Latency of calls made to node daemons.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	ConsoleSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_console_sessions",
		Help: "Console relays currently open.",
	})

	ConsoleCloses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_console_closes_total",
		Help: "Console relay terminations, by reason.",
	}, []string{"reason"})

	LifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_lifecycle_events_total",
		Help: "Committed server lifecycle events, by type.",
	}, []string{"event"})

	NodeReachable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hearth_node_reachable",
		Help: "1 when the node daemon answered its last health poll.",
	}, []string{"node"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
