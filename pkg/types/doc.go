/*
Package types defines the core data structures shared by every other
package in the SDK: the registry's ServiceInstance and ServiceDefinition
records, the election package's LeaderLease, and the wire envelopes
(RPCRequest, RPCResponse, Event, Command) that pkg/codec serializes and
pkg/service dispatches.

Types here carry no behavior beyond small predicates (IsStale, Expired)
used by discovery and the election state machine to decide staleness
without duplicating clock logic at every call site. Mutation is the
caller's responsibility; nothing here is safe for concurrent writes.
*/
package types
