// Package metrics exposes gateway counters and gauges to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Handshakes counts finished device handshakes by result
	// ("success" or a failure reason).
	Handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raidware_handshakes_total",
			Help: "Number of device handshakes by result",
		},
		[]string{"result"},
	)
	// FallbackAuths counts devices authenticated with the org fallback secret.
	FallbackAuths = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raidware_fallback_auth_total",
			Help: "Number of devices authenticated with the fallback secret",
		},
	)
	Pulses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raidware_pulses_total",
			Help: "Number of device pulses by result",
		},
		[]string{"result"},
	)
	RelayedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raidware_relayed_messages_total",
			Help: "Number of dashboard messages relayed to devices by outcome",
		},
		[]string{"outcome"},
	)
	CredentialSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raidware_credential_syncs_total",
			Help: "Number of credential cache sync runs by result",
		},
		[]string{"result"},
	)
	DevicesOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raidware_devices_online",
			Help: "Number of authenticated device connections",
		},
	)
	DashboardClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raidware_dashboard_clients",
			Help: "Number of connected dashboard subscribers",
		},
	)
	BroadcastsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raidware_broadcasts_dropped_total",
			Help: "Number of presence events dropped for slow dashboards",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Handshakes,
		FallbackAuths,
		Pulses,
		RelayedMessages,
		CredentialSyncs,
		DevicesOnline,
		DashboardClients,
		BroadcastsDropped,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
