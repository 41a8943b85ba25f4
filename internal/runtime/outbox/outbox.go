// Package outbox buffers outbound messages produced while an inbound message
// is processed so they are only published once that message commits.
package outbox

import (
	"context"

	envelopepkg "github.com/drblury/commitguard/internal/runtime/envelope"
	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
)

// Entry is one buffered outbound message and the binding it goes to.
type Entry struct {
	Binding string
	Message *envelopepkg.Envelope
}

// Sender publishes a single message and reports whether it succeeded.
type Sender func(ctx context.Context, binding string, env *envelopepkg.Envelope) bool

// FlushResult summarises a flush.
type FlushResult struct {
	Sent           int
	Failed         int
	FailedBindings []string
}

// Buffer is an ordered outbox scoped to one processing cycle. It is not safe
// for concurrent use.
type Buffer struct {
	entries []Entry
	logger  loggingpkg.ServiceLogger
}

// NewBuffer returns an empty buffer logging through logger.
func NewBuffer(logger loggingpkg.ServiceLogger) *Buffer {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	return &Buffer{logger: logger}
}

// Enqueue appends env for binding. Nothing is published.
func (b *Buffer) Enqueue(binding string, env *envelopepkg.Envelope) {
	b.entries = append(b.entries, Entry{Binding: binding, Message: env})
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Entries returns a copy of the buffered entries in enqueue order.
func (b *Buffer) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Flush sends every entry in enqueue order. A failed send does not stop the
// remaining ones. The buffer is empty afterwards, so a second flush is a no-op.
func (b *Buffer) Flush(ctx context.Context, send Sender) FlushResult {
	entries := b.entries
	b.entries = nil

	var result FlushResult
	for _, entry := range entries {
		if send(ctx, entry.Binding, entry.Message) {
			result.Sent++
			continue
		}
		result.Failed++
		result.FailedBindings = append(result.FailedBindings, entry.Binding)
	}
	if result.Failed > 0 {
		b.logger.Warn("Outbox flush incomplete", loggingpkg.LogFields{
			"sent":            result.Sent,
			"failed":          result.Failed,
			"failed_bindings": result.FailedBindings,
		})
	}
	return result
}

// DiscardIfNonEmpty drops entries left over from a cycle that never committed
// and returns how many were dropped.
func (b *Buffer) DiscardIfNonEmpty() int {
	n := len(b.entries)
	if n == 0 {
		return 0
	}
	b.logger.Warn("Discarding messages buffered for commit; previous message was not committed", loggingpkg.LogFields{
		"count": n,
	})
	b.entries = nil
	return n
}
