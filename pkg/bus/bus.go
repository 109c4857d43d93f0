package bus

import (
	"context"
	"time"
)

// ConnectionState classifies the bus's connection lifecycle, surfaced
// through OnStateChange so the runtime can pause outgoing RPC during an
// outage (SPEC_FULL.md §4).
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
)

// Message is a single inbound message delivered to a subscription
// handler.
type Message struct {
	Subject string
	Data    []byte
	Reply   string // non-empty on an RPC request awaiting a response
}

// Handler processes one delivered message. An error return causes a
// negative acknowledgement; durable/JetStream-backed adapters redeliver
// after their configured delay (spec.md §4.7 "at-least-once delivery").
type Handler func(ctx context.Context, msg Message) error

// Subscription is a live subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
}

// SubscribeOptions configures a Subscribe call.
type SubscribeOptions struct {
	// QueueGroup, if non-empty, load-balances delivery among every
	// subscriber sharing the same group name (COMPETE mode).
	QueueGroup string
	// Durable names the consumer so its delivery progress/identity
	// persists across reconnects (spec.md §4.7 subscription modes).
	Durable string
}

// MessageBus is the broker capability set the runtime consumes
// (spec.md §6.1). Implementations must be safe for concurrent use.
type MessageBus interface {
	Connect(ctx context.Context, servers []string) error
	Disconnect() error
	IsConnected() bool

	Publish(ctx context.Context, subject string, data []byte) error

	// Request publishes data to subject and blocks for a single reply,
	// failing with an error if none arrives within timeout (membus and
	// natsbus return an RPCError with code TIMEOUT).
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	Subscribe(ctx context.Context, subject string, opts SubscribeOptions, handler Handler) (Subscription, error)

	// OnStateChange registers a callback invoked on every connection
	// state transition. Registering is additive; there is no Unregister
	// because the runtime registers exactly once at startup.
	OnStateChange(func(ConnectionState))
}
