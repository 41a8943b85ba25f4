package transport

// Capabilities describes what a transport offers the commit coordinator.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsOrdering means messages within a partition or queue arrive in order.
	SupportsOrdering bool

	// SupportsAck means consumed messages are explicitly acknowledged.
	SupportsAck bool

	// SupportsNack means a negative acknowledgment triggers redelivery.
	SupportsNack bool

	// SupportsPartitioning means topics are split into partitions.
	SupportsPartitioning bool

	// ProvidesPositions means consumed messages carry partition and offset
	// headers, which redelivery detection needs.
	ProvidesPositions bool

	// MaxMessageSize is the maximum message size in bytes (0 = unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once delivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// SupportsDeduplication reports whether redelivered messages can be recognised
// by their position.
func (c Capabilities) SupportsDeduplication() bool {
	return c.ProvidesPositions
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:              "channel",
		SupportsOrdering:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		ProvidesPositions: true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsAck:          true,
		SupportsPartitioning: true,
		ProvidesPositions:    true,
		MaxMessageSize:       1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:              "nats-jetstream",
		SupportsOrdering:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		ProvidesPositions: true,
		MaxMessageSize:    1048576,
	}

	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		MaxMessageSize:   262144,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
// Unknown transports report a zero value carrying only the name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
