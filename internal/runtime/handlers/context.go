package handlers

import (
	"context"
	"fmt"

	envelopepkg "github.com/drblury/commitguard/internal/runtime/envelope"
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
)

// Cycle is the processing cycle of the inbound message a handler works on.
// Messages sent with SendNow are published right away; messages passed to
// EnqueueAtCommit are published when the cycle commits.
type Cycle interface {
	SendNow(ctx context.Context, binding string, env *envelopepkg.Envelope) bool
	EnqueueAtCommit(binding string, env *envelopepkg.Envelope) error
	Commit(ctx context.Context) error
	Committed() bool
}

// Invocation runs a handler on a payload that has already been decoded.
type Invocation func(ctx context.Context, base MessageContextBase) error

// Processor decodes an inbound envelope for one handler and returns the bound
// invocation. Decoding has no side effects; a decode failure is reported as
// *errors.DecodeError.
type Processor func(env *envelopepkg.Envelope) (Invocation, error)

// MessageContextBase provides common functionality for all message context types.
// It holds the envelope, metadata, logger and processing cycle shared by JSON
// and Proto handlers.
type MessageContextBase struct {
	Envelope *envelopepkg.Envelope
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
	Cycle    Cycle
}

// CloneMetadata returns a copy of the current metadata map so handlers can safely
// mutate headers for outgoing events without touching the original map.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the correlation ID from metadata, if present.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata[MetadataKeyCorrelationID]
}

// IsHeaderPresent reports whether header key carries one of candidates.
func (b MessageContextBase) IsHeaderPresent(key string, candidates ...string) bool {
	return b.Metadata.IsPresent(b.Logger, key, candidates...)
}

// StandardSummary renders the standard inbound headers.
func (b MessageContextBase) StandardSummary() string {
	return b.Metadata.StandardSummary()
}

// Send publishes payload on binding immediately.
func (b MessageContextBase) Send(ctx context.Context, binding string, payload any) bool {
	if b.Cycle == nil {
		return false
	}
	return b.Cycle.SendNow(ctx, binding, b.Outbound(payload, nil))
}

// Enqueue buffers payload for binding until the inbound message commits.
func (b MessageContextBase) Enqueue(binding string, payload any) error {
	if b.Cycle == nil {
		return errspkg.ErrNoCycle
	}
	return b.Cycle.EnqueueAtCommit(binding, b.Outbound(payload, nil))
}

// Commit commits the inbound message ahead of the handler returning.
func (b MessageContextBase) Commit(ctx context.Context) error {
	if b.Cycle == nil {
		return errspkg.ErrNoCycle
	}
	return b.Cycle.Commit(ctx)
}

// Outbound builds an envelope for payload that carries the inbound correlation
// ID and the payload's schema name on top of md.
func (b MessageContextBase) Outbound(payload any, md metadatapkg.Metadata) *envelopepkg.Envelope {
	out := md.Clone()
	if id := b.CorrelationID(); id != "" {
		if _, ok := out[MetadataKeyCorrelationID]; !ok {
			out[MetadataKeyCorrelationID] = id
		}
	}
	switch payload.(type) {
	case nil, []byte, string:
	default:
		out[MetadataKeyEventSchema] = fmt.Sprintf("%T", payload)
	}
	return envelopepkg.New(payload, out)
}
