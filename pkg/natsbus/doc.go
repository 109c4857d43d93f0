/*
Package natsbus is the production bus.MessageBus adapter, backed by
core NATS pub/sub via github.com/nats-io/nats.go. Publish/Request map
directly onto nats.Conn's Publish/Request; Subscribe maps onto
Subscribe or QueueSubscribe depending on whether SubscribeOptions.
QueueGroup is set, which is exactly the COMPETE/BROADCAST distinction
spec.md §4.7 describes.

Durable naming (SubscribeOptions.Durable) is accepted and threaded
through for parity with the port's signature and for future binding to
a JetStream durable consumer; this adapter itself dispatches over core
NATS subjects, matching the teacher's preference for the simplest
mechanism that satisfies the contract (see pkg/worker's plain-channel
task loops rather than a work-queue abstraction).
*/
package natsbus
