// Package rabbitmq provides a RabbitMQ/AMQP transport. Each consumer group
// gets its own durable queue bound to the topic exchange, so groups receive
// every message while instances inside a group compete for it.
package rabbitmq

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/commitguard/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// Swappable constructors; tests replace them to avoid a live broker.
var (
	ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
	SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
		return amqp.NewSubscriberWithConnection(cfg, logger, conn)
	}
	CloseConnection = func(conn *amqp.ConnectionWrapper) error {
		return conn.Close()
	}
)

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

// NewConfig returns a durable pub/sub config whose queues are named
// "<topic>_<group>". Prefetch is limited to one message so a queue is handled
// strictly in order.
func NewConfig(url, consumerGroup string) amqp.Config {
	generator := amqp.GenerateQueueNameTopicName
	if consumerGroup != "" {
		generator = amqp.GenerateQueueNameTopicNameWithSuffix(consumerGroup)
	}
	cfg := amqp.NewDurablePubSubConfig(url, generator)
	cfg.Consume.Qos.PrefetchCount = 1
	return cfg
}

// Build opens one reconnecting connection shared by the publisher and the
// group's subscriber. The connection is closed again if either side fails.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, errors.New("commitguard: rabbitmq url is required")
	}
	amqpCfg := NewConfig(url, cfg.GetConsumerGroup())

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	tr, err := transport.Assemble(
		func() (message.Publisher, error) { return PublisherFactory(amqpCfg, logger, conn) },
		func() (message.Subscriber, error) { return SubscriberFactory(amqpCfg, logger, conn) },
	)
	if err != nil {
		_ = CloseConnection(conn)
	}
	return tr, err
}
