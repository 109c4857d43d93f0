/*
Package registry implements the Service Registry (spec.md §4.4):
register/heartbeat/deregister/list/get against a kvstore.KVStore, plus
the supplemented ServiceDefinition catalog (SPEC_FULL.md §4) for
service-level metadata independent of running instances.

Grounded on the teacher's pkg/storage.Store consumer pattern (manager.go
calling store.CreateNode/UpdateNode/ListNodes) generalized to the
registry's TTL + transparent-re-registration semantics, which storage.Store
has no equivalent of (Warren's nodes never expire).
*/
package registry
