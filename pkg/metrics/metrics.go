// Package metrics provides Prometheus metrics for the energyid monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Registry holds every metric below plus the Go runtime collectors. It is
// served by the status server.
var Registry = prometheus.NewRegistry()

var (
	// TokenCacheHitsTotal counts ticks that reused a cached token.
	TokenCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "energyid_monitor",
			Subsystem: "token",
			Name:      "cache_hits_total",
			Help:      "Total number of times a cached token was still valid",
		},
	)

	// TokenRefreshTotal counts hello handshakes.
	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "energyid_monitor",
			Subsystem: "token",
			Name:      "refresh_total",
			Help:      "Total number of hello handshakes performed",
		},
		[]string{"result"},
	)

	// TokenExpiryTimestamp is the exp of the token in use.
	TokenExpiryTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "energyid_monitor",
			Subsystem: "token",
			Name:      "expiry_timestamp_seconds",
			Help:      "Unix time the current token expires",
		},
	)

	// InverterReadsTotal counts inverter reads by reading and result.
	InverterReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "energyid_monitor",
			Subsystem: "inverter",
			Name:      "reads_total",
			Help:      "Total number of inverter reads",
		},
		[]string{"reading", "result"},
	)

	// OutputKW is the last live output read.
	OutputKW = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "energyid_monitor",
			Subsystem: "inverter",
			Name:      "output_kw",
			Help:      "Last live output in kW",
		},
	)

	// LifetimeKWH is the last lifetime energy read.
	LifetimeKWH = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "energyid_monitor",
			Subsystem: "inverter",
			Name:      "lifetime_kwh",
			Help:      "Last lifetime energy in kWh",
		},
	)

	// WebhookPostsTotal counts webhook posts.
	WebhookPostsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "energyid_monitor",
			Subsystem: "webhook",
			Name:      "posts_total",
			Help:      "Total number of webhook posts",
		},
		[]string{"result"},
	)

	// TicksTotal counts polling ticks.
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "energyid_monitor",
			Subsystem: "monitor",
			Name:      "ticks_total",
			Help:      "Total number of polling ticks",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TokenCacheHitsTotal,
		TokenRefreshTotal,
		TokenExpiryTimestamp,
		InverterReadsTotal,
		OutputKW,
		LifetimeKWH,
		WebhookPostsTotal,
		TicksTotal,
	)
}

// Result returns ResultSuccess if err is nil and ResultFailure otherwise.
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
