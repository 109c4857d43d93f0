package metrics

import (
	"sync/atomic"
	"time"
)

var processStart = time.Now()

// Snapshot is the point-in-time metrics summary the heartbeat task
// attaches to its tick (spec.md §4.7 "update a local metrics
// snapshot"), grounded on the original implementation's
// enhanced_metrics/metrics modules that kept a parallel plain-struct
// view of counters for logging and heartbeat payloads alongside the
// Prometheus registry.
type Snapshot struct {
	UptimeSeconds      float64
	RPCCallsTotal      int64
	RPCFailuresTotal   int64
	EventsHandledTotal int64
	HeartbeatsTotal    int64
}

var (
	snapRPCCalls      int64
	snapRPCFailures   int64
	snapEventsHandled int64
	snapHeartbeats    int64
)

// RecordRPCCall increments the snapshot's outgoing RPC counters.
func RecordRPCCall(success bool) {
	atomic.AddInt64(&snapRPCCalls, 1)
	if !success {
		atomic.AddInt64(&snapRPCFailures, 1)
	}
}

// RecordEventHandled increments the snapshot's handled-event counter.
func RecordEventHandled() {
	atomic.AddInt64(&snapEventsHandled, 1)
}

// RecordHeartbeat increments the snapshot's heartbeat counter.
func RecordHeartbeat() {
	atomic.AddInt64(&snapHeartbeats, 1)
}

// TakeSnapshot returns the current counters and process uptime.
func TakeSnapshot() Snapshot {
	return Snapshot{
		UptimeSeconds:      time.Since(processStart).Seconds(),
		RPCCallsTotal:      atomic.LoadInt64(&snapRPCCalls),
		RPCFailuresTotal:   atomic.LoadInt64(&snapRPCFailures),
		EventsHandledTotal: atomic.LoadInt64(&snapEventsHandled),
		HeartbeatsTotal:    atomic.LoadInt64(&snapHeartbeats),
	}
}
