// Package transport defines the broker-facing types used by commitguard. Each
// transport implementation (kafka, rabbitmq, aws, ...) lives in its own
// sub-package and registers a Builder with the registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the subscriber and then the publisher.
func (t Transport) Close() error {
	var firstErr error
	if t.Subscriber != nil {
		firstErr = t.Subscriber.Close()
	}
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Assemble creates the publisher and then the subscriber of a transport. The
// publisher is closed again when the subscriber cannot be created.
func Assemble(newPublisher func() (message.Publisher, error), newSubscriber func() (message.Subscriber, error)) (Transport, error) {
	publisher, err := newPublisher()
	if err != nil {
		return Transport{}, err
	}
	subscriber, err := newSubscriber()
	if err != nil {
		_ = publisher.Close()
		return Transport{}, err
	}
	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports need without depending on the full
// config package.
type Config interface {
	// GetPubSubSystem returns the transport name.
	GetPubSubSystem() string

	// GetConsumerGroup names the consumer group. Transports without native
	// groups map it onto queue names or durable consumers.
	GetConsumerGroup() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// GroupScoper is implemented by subscribers that can consume for another
// consumer group without building a new transport. In-memory transports need
// it because a second build would not share their channels.
type GroupScoper interface {
	ForGroup(group string) message.Subscriber
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
