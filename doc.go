// Package commitguard coordinates message processing for consumers that run
// under at-least-once delivery. It sits on top of Watermill and wires routers,
// publishers, subscribers and middleware the same way for every transport
// (Kafka, RabbitMQ, AWS SNS/SQS, NATS, NATS JetStream, HTTP or Go channels).
//
// Every inbound message goes through one processing cycle: BeginProcessing
// opens an overtime window for the message identity (topic and consumer
// group), the payload is decoded, and a redelivery of the position last
// committed for that identity is recognised and skipped. Business logic then
// sends messages right away with Send or buffers them with Enqueue. Commit
// flushes the buffer in order, acknowledges the message when manual
// acknowledgment is in use, logs how long processing took and records the
// committed position in the dedup store.
//
// Service hosts the router and exposes typed helpers: RegisterJSONHandler and
// RegisterProtoHandler run the whole cycle around a handler and commit when it
// returns nil. A handler error leaves the message uncommitted so the broker
// redelivers it; anything it buffered is discarded when the next cycle of the
// same identity begins.
//
// # Dedup stores
//
// Committed positions live in memory by default. Redis, PostgreSQL (lib/pq or
// pgx) and SQLite stores keep them across restarts; select one with
// Config.DedupBackend.
//
// # Middleware
//
// The default middleware chain includes correlation ID injection, message
// logging, OpenTelemetry tracing, Prometheus metrics and panic recovery.
// Custom middleware can be added via ServiceDependencies.Middlewares.
//
// # Hooks
//
// CycleHooks provide OnBegin, OnCommit, OnDuplicate and OnOvertime callbacks
// for custom logging, metrics and alerting around each cycle.
package commitguard
