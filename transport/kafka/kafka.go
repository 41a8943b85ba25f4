// Package kafka provides the Kafka transport. Consumed records are stamped
// with the standard received-* headers so the commit coordinator can detect
// redelivery by partition and offset.
package kafka

import (
	"context"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
	"github.com/drblury/commitguard/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a publisher and a subscriber for the configured consumer
// group. Both share the client ID when one is set.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	consumerGroup := cfg.GetConsumerGroup()

	publisherSarama := kafka.DefaultSaramaSyncPublisherConfig()
	subscriberSarama := kafka.DefaultSaramaSubscriberConfig()
	if clientID := cfg.GetKafkaClientID(); clientID != "" {
		publisherSarama.ClientID = clientID
		subscriberSarama.ClientID = clientID
	}

	return transport.Assemble(
		func() (message.Publisher, error) {
			return PublisherFactory(kafka.PublisherConfig{
				Brokers:               brokers,
				Marshaler:             kafka.DefaultMarshaler{},
				OverwriteSaramaConfig: publisherSarama,
			}, logger)
		},
		func() (message.Subscriber, error) {
			return SubscriberFactory(kafka.SubscriberConfig{
				Brokers:               brokers,
				Unmarshaler:           PositionUnmarshaler{ConsumerGroup: consumerGroup},
				ConsumerGroup:         consumerGroup,
				OverwriteSaramaConfig: subscriberSarama,
			}, logger)
		},
	)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// PositionUnmarshaler decodes records with Inner (DefaultMarshaler when nil)
// and adds the topic, consumer group, partition, offset and record timestamp
// as text headers.
type PositionUnmarshaler struct {
	ConsumerGroup string
	Inner         kafka.Unmarshaler
}

func (u PositionUnmarshaler) Unmarshal(record *sarama.ConsumerMessage) (*message.Message, error) {
	inner := u.Inner
	if inner == nil {
		inner = kafka.DefaultMarshaler{}
	}
	msg, err := inner.Unmarshal(record)
	if err != nil {
		return nil, err
	}
	if msg.Metadata == nil {
		msg.Metadata = message.Metadata{}
	}

	msg.Metadata.Set(metadatapkg.KeyReceivedTopic, record.Topic)
	if u.ConsumerGroup != "" {
		msg.Metadata.Set(metadatapkg.KeyConsumerGroup, u.ConsumerGroup)
	}
	msg.Metadata.Set(metadatapkg.KeyReceivedPartition, strconv.FormatInt(int64(record.Partition), 10))
	msg.Metadata.Set(metadatapkg.KeyOffset, strconv.FormatInt(record.Offset, 10))
	if !record.Timestamp.IsZero() {
		msg.Metadata.Set(metadatapkg.KeyReceivedTimestamp, strconv.FormatInt(record.Timestamp.UnixMilli(), 10))
	}
	return msg, nil
}
