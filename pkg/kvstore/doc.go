/*
Package kvstore defines the Registry Store Adapter Port (spec.md §4.3):
the abstract KV capability set the registry and election state machine
require from a broker-side key/value backend — get, put-with-ttl,
create (fail-if-exists), CAS update (fail-if-revision-mismatch),
delete, list-by-prefix, keys-by-prefix, and watch-by-prefix.

Concrete adapters live in sibling packages: pkg/kvstore/memkv (in-memory,
for tests), pkg/kvstore/boltkv (bbolt-backed, for standalone/offline use
and durable integration tests), and pkg/natskv (NATS JetStream KV, the
production adapter). None of those packages is imported by this one;
the dependency always runs adapter -> port, never the reverse.
*/
package kvstore
