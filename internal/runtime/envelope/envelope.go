// Package envelope defines the message model handed to business logic: a
// payload that may be raw bytes, text or an already decoded value, its
// headers and an optional manual acknowledgment handle.
package envelope

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/drblury/commitguard/internal/runtime/ids"
	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
)

// Acknowledger is a manual acknowledgment handle. *message.Message satisfies it.
type Acknowledger interface {
	Ack() bool
}

// Envelope carries one inbound or outbound message.
type Envelope struct {
	UUID         string
	Payload      any
	Metadata     metadatapkg.Metadata
	Acknowledger Acknowledger

	ctx context.Context
}

// New builds an outbound envelope with a fresh ULID.
func New(payload any, md metadatapkg.Metadata) *Envelope {
	if md == nil {
		md = metadatapkg.Metadata{}
	}
	return &Envelope{
		UUID:     idspkg.CreateULID(),
		Payload:  payload,
		Metadata: md,
	}
}

// FromWatermill wraps a consumed Watermill message. The raw payload bytes are
// kept as-is; decoding happens lazily. When manualAck is set the message
// itself becomes the acknowledgment handle.
func FromWatermill(msg *message.Message, manualAck bool) *Envelope {
	if msg == nil {
		return nil
	}
	env := &Envelope{
		UUID:     msg.UUID,
		Payload:  []byte(msg.Payload),
		Metadata: metadatapkg.FromWatermill(msg.Metadata),
		ctx:      msg.Context(),
	}
	if manualAck {
		env.Acknowledger = msg
	}
	return env
}

// Context returns the context the message was received with.
func (e *Envelope) Context() context.Context {
	if e == nil || e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// WithContext returns a shallow copy bound to ctx.
func (e *Envelope) WithContext(ctx context.Context) *Envelope {
	clone := *e
	clone.ctx = ctx
	return &clone
}

// ManualAck reports whether a manual acknowledgment handle is attached.
func (e *Envelope) ManualAck() bool {
	return e != nil && e.Acknowledger != nil
}

type envelopeKey struct{}

// NewContext stores env in ctx.
func NewContext(ctx context.Context, env *Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env)
}

// FromContext returns the envelope stored in ctx, if any.
func FromContext(ctx context.Context) (*Envelope, bool) {
	if ctx == nil {
		return nil, false
	}
	env, ok := ctx.Value(envelopeKey{}).(*Envelope)
	return env, ok && env != nil
}
