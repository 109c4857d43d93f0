// Package memkv is an in-memory kvstore.KVStore used by the SDK's own
// tests and by callers that want to drive the registry/discovery/
// election packages without a broker. It is grounded on the shape of
// the teacher's pkg/storage.BoltStore: a single mutex-guarded map, a
// monotonic revision counter standing in for bbolt's/JetStream's
// revision token, and lazy TTL expiry checked on read.
package memkv
