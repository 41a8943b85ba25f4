package handlers

import metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"

// Metadata keys set by commitguard on outbound messages. They are reserved and
// should not be used for custom metadata.
const (
	// MetadataKeyCorrelationID tracks related messages across services.
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID

	// MetadataKeyEventSchema identifies the Go type of an outbound payload.
	MetadataKeyEventSchema = "event_message_schema"

	// MetadataKeyTraceID stores distributed tracing ID.
	MetadataKeyTraceID = "trace_id"

	// MetadataKeySpanID stores distributed tracing span ID.
	MetadataKeySpanID = "span_id"
)
