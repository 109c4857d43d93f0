/*
Package bus defines the MessageBus port (spec.md §6.1): the broker
capability the runtime needs for RPC and event delivery — connect,
disconnect, is_connected, publish, request, subscribe (with optional
queue group and durable name), unsubscribe.

It also carries the supplemented connection-state callback (SPEC_FULL.md
§4, original's test_connection_state_persistence.py): adapters report
Connected/Disconnected/Reconnecting transitions through OnStateChange so
the runtime can pause outgoing RPC during an outage and log it, without
the port inventing new broker semantics.

Concrete adapters: pkg/bus/membus (in-process fake, grounded on the
teacher's pkg/events.Broker) and pkg/natsbus (NATS core pub/sub, the
production adapter).
*/
package bus
