// Package metrics provides Prometheus instrumentation for the report bot. It
// exposes counters for the report lifecycle, item lookups and direct-message
// throughput, plus a gauge for gateway connections.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of gateway connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reportbot_connections",
		Help: "Current number of active gateway connections",
	})

	// DMTotal counts direct messages, labeled by outcome: "received",
	// "rate_limited" or "rejected".
	DMTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportbot_dm_total",
		Help: "Total number of direct messages processed",
	}, []string{"type"})

	// DMLatency records the time to answer one direct message.
	DMLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reportbot_dm_latency_seconds",
		Help:    "Direct message handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ReportsStarted counts reports opened with the start keyword.
	ReportsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reportbot_reports_started_total",
		Help: "Total number of reports started",
	})

	// ReportsSubmitted counts confirmed reports, labeled by reason.
	ReportsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportbot_reports_submitted_total",
		Help: "Total number of reports submitted",
	}, []string{"reason"})

	// ReportsCancelled counts reports abandoned with the cancel keyword.
	ReportsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reportbot_reports_cancelled_total",
		Help: "Total number of reports cancelled",
	})

	// ItemLookups counts reported-item lookups by result: "found",
	// "not_found" or "error".
	ItemLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportbot_item_lookups_total",
		Help: "Total number of reported item lookups",
	}, []string{"result"})

	// ReportsTriaged counts triaged reports by assigned priority.
	ReportsTriaged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportbot_reports_triaged_total",
		Help: "Total number of reports triaged",
	}, []string{"priority"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		DMTotal,
		DMLatency,
		ReportsStarted,
		ReportsSubmitted,
		ReportsCancelled,
		ItemLookups,
		ReportsTriaged,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
