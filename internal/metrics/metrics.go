// ABOUTME: Prometheus metrics for the gateway: cache, builds, connections, turns.
// ABOUTME: Exposed on /metrics via the promhttp handler.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheHits counts graph cache lookups served from a warm entry.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agency_gateway_graph_cache_hits_total",
			Help: "Graph cache lookups served from cache",
		},
	)

	// CacheMisses counts lookups that required a store load or build.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agency_gateway_graph_cache_misses_total",
			Help: "Graph cache lookups that missed",
		},
	)

	// CacheEvictions counts entries dropped by TTL expiry.
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agency_gateway_graph_cache_evictions_total",
			Help: "Graph cache entries evicted by expiry",
		},
	)

	// GraphBuilds counts remote graph builds started.
	GraphBuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agency_gateway_graph_builds_total",
			Help: "Agent graph builds executed against the remote API",
		},
	)

	// GraphBuildFailures counts builds that returned an error.
	GraphBuildFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agency_gateway_graph_build_failures_total",
			Help: "Agent graph builds that failed",
		},
	)

	// ActiveConnections tracks currently open WebSocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agency_gateway_active_connections",
			Help: "Open WebSocket connections",
		},
	)

	// TurnsTotal counts processed conversation turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_gateway_turns_total",
			Help: "Conversation turns processed",
		},
		[]string{"status"},
	)

	// TurnDuration tracks end-to-end turn latency.
	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agency_gateway_turn_duration_seconds",
			Help:    "Turn duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// FramesSent counts outbound frames by type.
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_gateway_frames_sent_total",
			Help: "Outbound WebSocket frames sent",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() { CacheHits.Inc() }

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() { CacheMisses.Inc() }

// RecordCacheEviction increments the eviction counter.
func RecordCacheEviction() { CacheEvictions.Inc() }

// RecordGraphBuild increments the build counter.
func RecordGraphBuild() { GraphBuilds.Inc() }

// RecordGraphBuildFailure increments the failed-build counter.
func RecordGraphBuildFailure() { GraphBuildFailures.Inc() }

// ConnectionOpened increments the active connection gauge.
func ConnectionOpened() { ActiveConnections.Inc() }

// ConnectionClosed decrements the active connection gauge.
func ConnectionClosed() { ActiveConnections.Dec() }

// RecordTurn records one processed turn with its outcome and duration.
func RecordTurn(status string, seconds float64) {
	TurnsTotal.WithLabelValues(status).Inc()
	TurnDuration.Observe(seconds)
}

// RecordFrame counts one outbound frame of the given type.
func RecordFrame(frameType string) { FramesSent.WithLabelValues(frameType).Inc() }
