/*
Package discovery implements Service Discovery + the Watchable Cache
(spec.md §4.5): discover_instances with staleness/status filtering,
select_instance with ROUND_ROBIN/RANDOM/STICKY policies, and a
per-service cache invalidated lazily by a single background KV watcher
plus an absolute TTL floor.

The watcher-plus-ticker-loop shape is grounded on the teacher's
pkg/worker.HealthMonitor (a per-item ticker loop with context
cancellation, generalized here to a single prefix watcher shared across
every cached service) and pkg/manager's raft.FSM apply-loop style of
reacting to an external event stream by mutating local state under a
lock.
*/
package discovery
