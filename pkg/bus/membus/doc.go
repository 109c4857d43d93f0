// Package membus is an in-process bus.MessageBus used by the SDK's own
// tests and by callers exercising the runtime without a broker. It is
// grounded on the teacher's pkg/events.Broker: a single dispatch
// goroutine draining a buffered channel and fanning out to matching
// subscribers, generalized from Broker's fixed Subscriber-channel model
// to subject-pattern matching plus queue-group load balancing (for
// COMPETE) and request/reply (for RPC).
package membus
