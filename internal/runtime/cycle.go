package runtime

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	envelopepkg "github.com/drblury/commitguard/internal/runtime/envelope"
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
	outboxpkg "github.com/drblury/commitguard/internal/runtime/outbox"
	payloadpkg "github.com/drblury/commitguard/internal/runtime/payload"
)

const tracerName = "github.com/drblury/commitguard"

// Cycle is the processing cycle of one inbound message, from
// BeginProcessing to Commit. It owns the outbox of that message.
type Cycle struct {
	coordinator *Coordinator
	ctx         context.Context
	env         *envelopepkg.Envelope
	key         string
	slot        string
	identity    metadatapkg.Identity
	hasIdentity bool
	startedAt   time.Time

	mu        sync.Mutex
	buffer    *outboxpkg.Buffer
	produced  []string
	committed bool
}

// Envelope returns the inbound message.
func (c *Cycle) Envelope() *envelopepkg.Envelope {
	return c.env
}

// Key returns the dedup key the committed position is recorded under.
func (c *Cycle) Key() string {
	return c.key
}

// Slot returns the identity and partition the open cycle is tracked under.
func (c *Cycle) Slot() string {
	return c.slot
}

// Committed reports whether Commit has run.
func (c *Cycle) Committed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}

// Produced returns the destination topics sent to so far, in first-use order.
func (c *Cycle) Produced() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.produced)
}

// Pending returns the number of messages waiting for the commit.
func (c *Cycle) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed {
		return 0
	}
	return c.buffer.Len()
}

// SendNow publishes env on binding immediately. The destination is recorded
// as produced by this cycle.
func (c *Cycle) SendNow(ctx context.Context, binding string, env *envelopepkg.Envelope) bool {
	destination := c.coordinator.producer.Destination(binding)
	c.mu.Lock()
	if !slices.Contains(c.produced, destination) {
		c.produced = append(c.produced, destination)
	}
	c.mu.Unlock()
	return c.coordinator.producer.SendNow(ctx, binding, env)
}

// EnqueueAtCommit buffers an independent copy of env for binding. Later
// changes to env do not affect what is sent. Nothing is published until
// Commit.
func (c *Cycle) EnqueueAtCommit(binding string, env *envelopepkg.Envelope) error {
	if c.Committed() {
		return errspkg.ErrCycleCommitted
	}
	if binding == "" {
		return errspkg.ErrBindingRequired
	}
	copied, err := payloadpkg.Duplicate(env)
	if err != nil {
		c.coordinator.logger.Error("Failed to copy message for sending at commit", err, loggingpkg.LogFields{
			"binding": binding,
		})
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed {
		return errspkg.ErrCycleCommitted
	}
	c.buffer.Enqueue(binding, copied)
	return nil
}

// Commit finishes the cycle: buffered messages are published in enqueue
// order, the message is acknowledged, the processing time is checked against
// the limit and the message position is recorded so a redelivery is
// recognised. Calling Commit again is a no-op.
func (c *Cycle) Commit(ctx context.Context) error {
	c.mu.Lock()
	if c.committed {
		c.mu.Unlock()
		return nil
	}
	c.committed = true
	c.mu.Unlock()

	if ctx == nil {
		ctx = c.ctx
	}
	coord := c.coordinator

	ctx, span := otel.Tracer(tracerName).Start(ctx, "Commit")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.uuid", c.env.UUID),
		attribute.String("commitguard.identity", c.key),
	)

	// Once committed no other goroutine touches the buffer.
	c.buffer.Flush(ctx, c.SendNow)
	if produced := c.Produced(); len(produced) > 0 {
		coord.logger.Info("Std msgs produced on ["+strings.Join(produced, ", ")+"]", nil)
	}

	prefix, ackMode := "Std commit (auto):", AckModeAuto
	if c.env.ManualAck() {
		prefix, ackMode = "Std commit (man ack):", AckModeManual
		c.env.Acknowledger.Ack()
	}

	elapsed, over := coord.overtime.ElapsedAndCheck(c.slot)
	coord.logger.Info(fmt.Sprintf("%s %dms %s", prefix, elapsed.Milliseconds(), c.env.Metadata.StandardSummary()), nil)

	var recordErr error
	if position, ok := c.env.Metadata.Position(); ok && c.hasIdentity {
		if err := coord.store.Record(ctx, c.key, position.String()); err != nil {
			coord.logger.Error("Failed to record committed position", err, loggingpkg.LogFields{
				"identity": c.key,
				"position": position.String(),
			})
			span.RecordError(err)
			span.SetStatus(codes.Error, "record position")
			recordErr = fmt.Errorf("record position: %w", err)
		}
	}

	coord.attempts.reset(c.slot)
	coord.forget(c)

	evt := c.event()
	evt.Duration = elapsed
	evt.AckMode = ackMode
	evt.Produced = c.Produced()
	coord.metrics.RecordCommit(c.identity.Topic, ackMode, elapsed, over)
	if over {
		coord.hooks.overtime(evt)
	}
	coord.hooks.commit(evt)
	return recordErr
}

// Release closes the cycle without committing, e.g. after a duplicate was
// skipped. Buffered messages are dropped.
func (c *Cycle) Release() {
	c.mu.Lock()
	if c.committed {
		c.mu.Unlock()
		return
	}
	discarded := c.buffer.DiscardIfNonEmpty()
	c.mu.Unlock()

	c.coordinator.metrics.RecordDiscarded(discarded)
	c.coordinator.release(c)
}

// discard drops what an abandoned cycle buffered. A cycle that already
// committed keeps its entries.
func (c *Cycle) discard() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed {
		return 0
	}
	return c.buffer.DiscardIfNonEmpty()
}

func (c *Cycle) event() CycleEvent {
	evt := CycleEvent{
		Context:     c.ctx,
		MessageUUID: c.env.UUID,
		Identity:    c.key,
		Topic:       c.identity.Topic,
		Metadata:    c.env.Metadata,
		StartedAt:   c.startedAt,
	}
	if position, ok := c.env.Metadata.Position(); ok {
		evt.Position = position.String()
	}
	return evt
}
