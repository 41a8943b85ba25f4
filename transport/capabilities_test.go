package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_SupportsReliableDelivery(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{"ack and nack", Capabilities{SupportsAck: true, SupportsNack: true}, true},
		{"ack only", Capabilities{SupportsAck: true}, false},
		{"neither", Capabilities{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SupportsReliableDelivery())
		})
	}
}

func TestCapabilities_SupportsDeduplication(t *testing.T) {
	assert.True(t, KafkaCapabilities.SupportsDeduplication())
	assert.True(t, ChannelCapabilities.SupportsDeduplication())
	assert.True(t, NATSJetStreamCapabilities.SupportsDeduplication())
	assert.False(t, RabbitMQCapabilities.SupportsDeduplication())
	assert.False(t, NATSCapabilities.SupportsDeduplication())
	assert.False(t, AWSCapabilities.SupportsDeduplication())
	assert.False(t, HTTPCapabilities.SupportsDeduplication())
}

func TestPredefinedCapabilityNames(t *testing.T) {
	for want, caps := range map[string]Capabilities{
		"channel":        ChannelCapabilities,
		"kafka":          KafkaCapabilities,
		"rabbitmq":       RabbitMQCapabilities,
		"nats":           NATSCapabilities,
		"nats-jetstream": NATSJetStreamCapabilities,
		"aws":            AWSCapabilities,
		"http":           HTTPCapabilities,
	} {
		assert.Equal(t, want, caps.Name)
	}
	assert.True(t, KafkaCapabilities.SupportsPartitioning)
	assert.Equal(t, int64(262144), AWSCapabilities.MaxMessageSize)
}
