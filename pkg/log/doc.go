/*
Package log provides structured logging for the SDK using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all SDK packages
  - Thread-safe concurrent writes

Context Loggers:
  - WithComponent: tag logs with a subsystem name (registry, discovery,
    election, runtime)
  - WithService: add service_name
  - WithInstance: add instance_id
  - WithGroup: add group_id (the sticky-active group)
  - WithTrace: add trace_id, for correlating a request across RPC hops
  - WithServiceInstance / WithServiceGroup: two-field combinators for
    call sites that tag both fields on every line

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	svcLog := log.WithServiceInstance("order", "order-7f3a")
	svcLog.Info().Str("method", "create_order").Msg("handling exclusive rpc")
	svcLog.Error().Err(err).Msg("heartbeat failed, will retry next tick")

# Design notes

Heartbeat and watcher failures are logged at Warn, never Error, unless
they are followed by a state transition (e.g. election losing the
lease) — this keeps steady-state CAS contention, which is expected and
routine, from paging anyone.

Never log RPCRequest.Params or Event.Payload verbatim; log their size
and a handful of identifying fields instead. Handlers may carry
customer data in those maps.
*/
package log
