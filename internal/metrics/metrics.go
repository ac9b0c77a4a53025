// Package metrics
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetch_attempts_total",
			Help: "HTTP attempts issued by the retrying transport, labeled by host and outcome.",
		},
		[]string{"host", "outcome"},
	)
	FetchHostSwitches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_fetch_host_switches_total",
			Help: "Number of times the transport failed over to the next host candidate.",
		},
	)
	FetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetch_failures_total",
			Help: "Terminal fetch failures, labeled by failure kind.",
		},
		[]string{"kind"},
	)
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_fetch_duration_seconds",
			Help:    "Duration of single HTTP attempts in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)
	PagesFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_pages_fetched_total",
			Help: "Catalog pages fetched, labeled by source.",
		},
		[]string{"source"},
	)
	RowsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_rows_emitted_total",
			Help: "Canonical rows handed to sinks, labeled by source.",
		},
		[]string{"source"},
	)
	EnrichmentFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_enrichment_failures_total",
			Help: "Per-product enrichment fetches that failed, labeled by source and stage.",
		},
		[]string{"source", "stage"},
	)
	OutboxRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_outbox_relayed_total",
			Help: "Outbox events handed to Redis streams, labeled by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(FetchAttempts)
	prometheus.MustRegister(FetchHostSwitches)
	prometheus.MustRegister(FetchFailures)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(PagesFetched)
	prometheus.MustRegister(RowsEmitted)
	prometheus.MustRegister(EnrichmentFailures)
	prometheus.MustRegister(OutboxRelayed)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ExposeMetrics(addr string) {
	slog.Info("Exposing Prometheus metrics", "address", addr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Failed to start Prometheus metrics server", "error", err)
	}
}
