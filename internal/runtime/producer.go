package runtime

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"

	envelopepkg "github.com/drblury/commitguard/internal/runtime/envelope"
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
	payloadpkg "github.com/drblury/commitguard/internal/runtime/payload"
)

// DestinationResolver maps a binding name to its destination topic.
type DestinationResolver func(binding string) string

// Producer publishes outbound envelopes on named bindings.
type Producer struct {
	publisher   message.Publisher
	destination DestinationResolver
	logger      loggingpkg.ServiceLogger
	metrics     *CommitMetrics
}

// NewProducer creates a Producer. A nil resolver publishes on the binding name.
func NewProducer(publisher message.Publisher, resolve DestinationResolver, logger loggingpkg.ServiceLogger, metrics *CommitMetrics) (*Producer, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if resolve == nil {
		resolve = func(binding string) string { return binding }
	}
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	return &Producer{
		publisher:   publisher,
		destination: resolve,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// ProducerID derives the producer id from a binding name: everything before
// the first '-', e.g. "orders" for "orders-out-0".
func ProducerID(binding string) string {
	id, _, _ := strings.Cut(binding, "-")
	return id
}

// Destination resolves the topic a binding publishes to.
func (p *Producer) Destination(binding string) string {
	return p.destination(binding)
}

// SendNow publishes env on binding immediately and reports whether the
// publish succeeded. Failures are logged, never returned. env itself is left
// untouched; the producer id goes on a copy of its headers.
func (p *Producer) SendNow(ctx context.Context, binding string, env *envelopepkg.Envelope) bool {
	destination := p.Destination(binding)
	fields := loggingpkg.LogFields{
		"binding":     binding,
		"destination": destination,
	}
	if binding == "" {
		p.fail(binding, errspkg.ErrBindingRequired, fields)
		return false
	}
	if env == nil {
		p.fail(binding, errspkg.ErrEnvelopeRequired, fields)
		return false
	}

	outbound := *env
	outbound.Metadata = env.Metadata.With(metadatapkg.KeyProducerID, ProducerID(binding))

	msg, err := payloadpkg.ToWatermill(&outbound)
	if err != nil {
		p.fail(binding, err, fields)
		return false
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}

	if err := p.publisher.Publish(destination, msg); err != nil {
		p.fail(binding, err, fields)
		return false
	}
	p.logger.Debug("Message sent", loggingpkg.LogFields{
		"binding":      binding,
		"destination":  destination,
		"message_uuid": msg.UUID,
	})
	return true
}

func (p *Producer) fail(binding string, err error, fields loggingpkg.LogFields) {
	p.logger.Error("Failed to send message", err, fields)
	p.metrics.RecordPublishFailure(binding)
}
