package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ubikemap_feed_calls_total",
			Help: "Total station feed requests",
		},
		[]string{"status"},
	)

	FeedLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ubikemap_feed_latency_seconds",
			Help:    "Station feed request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StationsIngested = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ubikemap_stations",
			Help: "Stations in the current collection",
		},
	)

	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ubikemap_refreshes_total",
			Help: "Directory refreshes by outcome (applied, failed, discarded)",
		},
		[]string{"outcome"},
	)

	RefreshesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ubikemap_refreshes_skipped_total",
			Help: "Scheduled refreshes skipped while auto-refresh was paused",
		},
	)

	ProviderInits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ubikemap_map_provider_inits_total",
			Help: "Map provider initialisations by provider and result",
		},
		[]string{"provider", "result"},
	)
)
