package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
)

// CycleEvent describes a processing cycle to hooks.
type CycleEvent struct {
	// Context is the context the inbound message was received with.
	Context context.Context
	// MessageUUID is the unique identifier of the inbound message.
	MessageUUID string
	// Identity is the topic/group key of the inbound message, or the UUID
	// when the message carries no identity headers.
	Identity string
	// Topic is the topic the message was received from.
	Topic string
	// Position is the partition/offset of the message when known.
	Position string
	// Metadata contains the inbound headers.
	Metadata metadatapkg.Metadata
	// StartedAt is when the cycle began.
	StartedAt time.Time
	// Duration is how long the cycle ran (only set in OnCommit and OnOvertime).
	Duration time.Duration
	// AckMode is AckModeManual or AckModeAuto (only set in OnCommit and OnOvertime).
	AckMode string
	// Produced lists the topics sent to during the cycle (only set in OnCommit).
	Produced []string
}

// CycleHooks defines callbacks for processing cycle events.
// All hooks are optional - nil hooks are simply not called.
type CycleHooks struct {
	// OnBegin is called when a cycle opens, before the payload is decoded.
	OnBegin func(CycleEvent)

	// OnCommit is called after the outbox is flushed, the message is
	// acknowledged and its position is recorded.
	OnCommit func(CycleEvent)

	// OnDuplicate is called when a redelivery of an already committed
	// message is detected.
	OnDuplicate func(CycleEvent)

	// OnOvertime is called at commit when processing exceeded the max
	// processing time.
	OnOvertime func(CycleEvent)
}

// Merge combines two CycleHooks, creating a new CycleHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h CycleHooks) Merge(other CycleHooks) CycleHooks {
	return CycleHooks{
		OnBegin:     chainHooks(h.OnBegin, other.OnBegin),
		OnCommit:    chainHooks(h.OnCommit, other.OnCommit),
		OnDuplicate: chainHooks(h.OnDuplicate, other.OnDuplicate),
		OnOvertime:  chainHooks(h.OnOvertime, other.OnOvertime),
	}
}

func chainHooks(a, b func(CycleEvent)) func(CycleEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(evt CycleEvent) {
		a(evt)
		b(evt)
	}
}

func (h CycleHooks) begin(evt CycleEvent) {
	if h.OnBegin != nil {
		h.OnBegin(evt)
	}
}

func (h CycleHooks) commit(evt CycleEvent) {
	if h.OnCommit != nil {
		h.OnCommit(evt)
	}
}

func (h CycleHooks) duplicate(evt CycleEvent) {
	if h.OnDuplicate != nil {
		h.OnDuplicate(evt)
	}
}

func (h CycleHooks) overtime(evt CycleEvent) {
	if h.OnOvertime != nil {
		h.OnOvertime(evt)
	}
}

// LoggingHooks returns pre-built hooks that log cycle events at debug level.
func LoggingHooks(logger loggingpkg.ServiceLogger) CycleHooks {
	return CycleHooks{
		OnBegin: func(evt CycleEvent) {
			logger.Debug("Cycle started", loggingpkg.LogFields{
				"identity":     evt.Identity,
				"position":     evt.Position,
				"message_uuid": evt.MessageUUID,
			})
		},
		OnCommit: func(evt CycleEvent) {
			logger.Debug("Cycle committed", loggingpkg.LogFields{
				"identity":     evt.Identity,
				"position":     evt.Position,
				"message_uuid": evt.MessageUUID,
				"duration_ms":  evt.Duration.Milliseconds(),
				"ack_mode":     evt.AckMode,
				"produced":     evt.Produced,
			})
		},
		OnDuplicate: func(evt CycleEvent) {
			logger.Debug("Cycle skipped duplicate", loggingpkg.LogFields{
				"identity":     evt.Identity,
				"position":     evt.Position,
				"message_uuid": evt.MessageUUID,
			})
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on overtime.
func AlertingHooks(alertFunc func(evt CycleEvent)) CycleHooks {
	return CycleHooks{
		OnOvertime: alertFunc,
	}
}
