package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Discovery cache metrics (spec §4.5 "Metrics exposed")
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_discovery_cache_hits_total",
			Help: "Discovery cache hits by service",
		},
		[]string{"service"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_discovery_cache_misses_total",
			Help: "Discovery cache misses by service",
		},
		[]string{"service"},
	)

	InvalidationsFromWatch = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_discovery_invalidations_from_watch_total",
			Help: "Cache entries invalidated by a KV watch event",
		},
	)

	InvalidationsFromTTL = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_discovery_invalidations_from_ttl_total",
			Help: "Cache entries invalidated by absolute TTL expiry",
		},
	)

	WatchReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_discovery_watch_reconnects_total",
			Help: "Number of times the registry watcher reconnected",
		},
	)

	WatchEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_discovery_watch_events_total",
			Help: "Total watch events observed on service-instances/",
		},
	)

	// RPC metrics
	RPCCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_rpc_calls_total",
			Help: "Outgoing RPC calls by target service and outcome",
		},
		[]string{"target_service", "outcome"},
	)

	RPCRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_rpc_not_active_retries_total",
			Help: "Retries issued after a NOT_ACTIVE response",
		},
		[]string{"target_service"},
	)

	RPCCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meridian_rpc_call_duration_seconds",
			Help:    "Outgoing RPC call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target_service", "method"},
	)

	// Election metrics
	ElectionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_election_transitions_total",
			Help: "Leader election state transitions by group and new state",
		},
		[]string{"group", "state"},
	)

	ElectionIsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_election_is_active",
			Help: "Whether this instance currently holds the lease for the group (1=active)",
		},
		[]string{"group"},
	)

	FencingToken = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_election_fencing_token",
			Help: "Last observed fencing token for the group",
		},
		[]string{"group"},
	)

	// Registry / heartbeat metrics
	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_heartbeats_total",
			Help: "Heartbeats sent to the registry",
		},
	)

	HeartbeatFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_heartbeat_failures_total",
			Help: "Heartbeats that failed and were swallowed per spec",
		},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_registry_instances_total",
			Help: "Known instances by service and status",
		},
		[]string{"service", "status"},
	)

	// Event dispatch metrics
	EventsHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_events_handled_total",
			Help: "Events delivered to a handler by pattern, mode, and outcome",
		},
		[]string{"pattern", "mode", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		CacheHits,
		CacheMisses,
		InvalidationsFromWatch,
		InvalidationsFromTTL,
		WatchReconnects,
		WatchEventsTotal,
		RPCCallsTotal,
		RPCRetriesTotal,
		RPCCallDuration,
		ElectionTransitionsTotal,
		ElectionIsActive,
		FencingToken,
		HeartbeatsTotal,
		HeartbeatFailuresTotal,
		InstancesTotal,
		EventsHandledTotal,
	)
}

// Handler returns the Prometheus HTTP handler for an app to mount.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
