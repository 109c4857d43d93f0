/*
Package election implements the Leader-Election / Sticky-Active
Controller (spec.md §4.6): a per-(service, group) state machine cycling
STANDBY → CAMPAIGNING → ACTIVE over CAS operations on a single lease key,
with a heartbeat-style refresh while ACTIVE and best-effort release on
shutdown.

The lock-free is_active/fencing-token read path is grounded on the
teacher's pkg/manager.Manager.IsLeader (an atomically-read leadership
flag consulted by request handlers without touching the Raft log), here
generalized to a value the dispatch gate in pkg/service can read without
synchronizing with the election loop's own task (spec.md §5: "the
is_active flag ... may be read lock-free"). The ticker-driven
observe/campaign/refresh loop follows the same per-item background-loop
shape as pkg/worker.HealthMonitor, one loop per group instead of one per
health check.
*/
package election
