/*
Package boltkv is a durable, single-process kvstore.KVStore backed by
go.etcd.io/bbolt — the teacher's storage engine, repurposed from its
node/service/container tables (pkg/storage.BoltStore) into the generic
(key, value, revision, expires_at) tuples the registry store adapter
port needs. Useful for standalone development and for integration
tests that want persistence across process restarts without a live
NATS server.

bbolt has no native change-notification primitive, so Watch is
implemented by a polling loop (grounded on the teacher's
pkg/worker.HealthMonitor ticker pattern) that diffs per-key revisions
within a prefix and synthesizes put/delete events — the same "watch
events may be delayed or coalesced" contract spec.md §4.3 already
documents for backend-side TTL sweeps.
*/
package boltkv
