/*
Package runtime provides the message processing core of commitguard.

# Architecture Overview

The runtime package drives each inbound message through one processing
cycle on top of a Watermill router: begin, decode, redelivery check, handler
and commit. Typed handlers for JSON and Protocol Buffers messages run inside
that cycle; cross-cutting concerns stay in the middleware chain.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - Message router (Watermill)
  - Publisher and subscriber connections, one transport per consumer group
  - Middleware chain
  - Dedup store, producer and Coordinator
  - HTTP servers for metrics and the admin endpoints

## Commit Cycle (coordinator.go, cycle.go, producer.go)

The Coordinator opens a Cycle per inbound message. A Cycle owns the outbox of
messages to send at commit and the list of topics produced to. Commit flushes
the outbox in order, acknowledges manually acknowledged messages, checks the
overtime window and records the committed position.

## Handler Registration (registration*.go)

  - registration.go: Raw Watermill handlers and the cycle around typed handlers
  - registration_json.go: Typed JSON message handlers
  - registration_proto.go: Typed Protocol Buffer message handlers
  - loglevel.go: Consumer that changes logger levels at runtime

## Middleware (middleware.go)

  - CorrelationID: Ensures message traceability
  - LogMessages: Debug logging of message payloads
  - Tracer: OpenTelemetry distributed tracing
  - Metrics: Prometheus router metrics
  - Recoverer: Panic recovery

## Monitoring (metrics.go, hooks.go, channels.go, admin.go)

Commit, duplicate, overtime and publish failure counters, cycle hooks, the
startup channel report and JSON admin endpoints.

# Sub-packages

  - config/: Service configuration with validation
  - dedup/: Committed position stores (memory, Redis, SQL)
  - envelope/: Message model handed to handlers
  - errors/: Sentinel errors and error types
  - handlers/: Message context types and typed processors
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface, adapters and runtime levels
  - metadata/: Standard headers, identities and positions
  - outbox/: Ordered buffer of messages sent at commit
  - overtime/: Processing time windows
  - payload/: Decoding, encoding and deep copies of payloads

# Usage Example

	cfg := &commitguard.Config{
		PubSubSystem:  "kafka",
		KafkaBrokers:  []string{"localhost:9092"},
		ConsumerGroup: "orders-worker",
		Bindings:      map[string]string{"orders-in-0": "orders.created"},
	}

	svc, err := commitguard.NewService(cfg, logger, ctx, commitguard.ServiceDependencies{})
	if err != nil {
		return err
	}

	err = commitguard.RegisterJSONHandler(svc, commitguard.JSONHandlerRegistration[OrderCreated]{
		Name:           "order-processor",
		ConsumeBinding: "orders-in-0",
		Handler:        processOrder,
	})

	svc.Start(ctx)
*/
package runtime
