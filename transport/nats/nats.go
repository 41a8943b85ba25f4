// Package nats provides a NATS Core transport. The consumer group becomes the
// queue group so instances of one service share the work. Core NATS has no
// redelivery, so messages carry no positions and every delivery is its own
// commit cycle.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/commitguard/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// Swappable constructors; tests replace them to avoid a live server.
var (
	PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nats.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return nats.NewSubscriber(cfg, logger)
	}
)

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

// Configs returns the publisher and subscriber configs for cfg. JetStream is
// switched off on both; the jetstream transport covers persistent streams.
// One subscriber per topic keeps a queue group's deliveries in order on
// each instance.
func Configs(cfg transport.Config) (nats.PublisherConfig, nats.SubscriberConfig, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return nats.PublisherConfig{}, nats.SubscriberConfig{}, errors.New("commitguard: nats url is required")
	}
	codec := &nats.NATSMarshaler{}
	core := nats.JetStreamConfig{Disabled: true}

	pub := nats.PublisherConfig{URL: url, Marshaler: codec, JetStream: core}
	sub := nats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.GetConsumerGroup(),
		SubscribersCount: 1,
		Unmarshaler:      codec,
		JetStream:        core,
	}
	return pub, sub, nil
}

// Build connects a publisher and a queue-group subscriber.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pubCfg, subCfg, err := Configs(cfg)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Assemble(
		func() (message.Publisher, error) { return PublisherFactory(pubCfg, logger) },
		func() (message.Subscriber, error) { return SubscriberFactory(subCfg, logger) },
	)
}
