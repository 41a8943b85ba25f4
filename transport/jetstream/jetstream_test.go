package jetstream

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
	"github.com/drblury/commitguard/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats-jetstream", caps.Name)
	assert.True(t, caps.ProvidesPositions)
	assert.True(t, caps.SupportsReliableDelivery())
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.NATSJetStreamCapabilities, Capabilities())
	assert.Equal(t, transport.NATSJetStreamCapabilities, (&Transport{}).Capabilities())
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		result := Config{}.withDefaults()

		assert.Equal(t, DefaultStreamName, result.StreamName)
		assert.Equal(t, "default", result.ConsumerGroup)
		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, 1, result.Replicas)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{
			URL:             "nats://localhost:4222",
			StreamName:      "CUSTOM",
			ConsumerGroup:   "worker-1",
			MaxDeliver:      9,
			AckWait:         time.Minute,
			Replicas:        3,
			RetentionPolicy: "workqueue",
		}
		assert.Equal(t, cfg, cfg.withDefaults())
	})

	t.Run("negative values get defaults", func(t *testing.T) {
		result := Config{MaxDeliver: -1, AckWait: -1, Replicas: -1}.withDefaults()

		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, 1, result.Replicas)
	})
}

func TestRetention(t *testing.T) {
	assert.Equal(t, nats.LimitsPolicy, Config{}.retention())
	assert.Equal(t, nats.InterestPolicy, Config{RetentionPolicy: "interest"}.retention())
	assert.Equal(t, nats.WorkQueuePolicy, Config{RetentionPolicy: "workqueue"}.retention())
}

func TestStreamAndConsumerConfig(t *testing.T) {
	cfg := Config{ConsumerGroup: "billing", MaxDeliver: 3, AckWait: 5 * time.Second, RetentionPolicy: "interest"}.withDefaults()

	stream := cfg.streamConfig()
	assert.Equal(t, DefaultStreamName, stream.Name)
	assert.Equal(t, []string{"COMMITGUARD.>"}, stream.Subjects)
	assert.Equal(t, nats.InterestPolicy, stream.Retention)

	consumer := cfg.consumerConfig("billing_orders", "COMMITGUARD.orders")
	assert.Equal(t, "billing_orders", consumer.Durable)
	assert.Equal(t, "COMMITGUARD.orders", consumer.FilterSubject)
	assert.Equal(t, nats.AckExplicitPolicy, consumer.AckPolicy)
	assert.Equal(t, 3, consumer.MaxDeliver)
	assert.Equal(t, 5*time.Second, consumer.AckWait)
}

func TestCloseIsIdempotent(t *testing.T) {
	tr := &Transport{config: Config{}.withDefaults(), done: make(chan struct{})}

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.ErrorIs(t, tr.Publish("orders", message.NewMessage("01HX", nil)), ErrClosed)
	_, err := tr.Subscribe(context.Background(), "orders")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubjectAndDurable(t *testing.T) {
	tr := &Transport{config: Config{ConsumerGroup: "billing.v2"}.withDefaults()}

	assert.Equal(t, "COMMITGUARD.orders", tr.subject("orders"))
	assert.Equal(t, "billing_v2_orders_eu", tr.durable("orders.eu"))
}

func TestToNATS(t *testing.T) {
	msg := message.NewMessage("01HX", []byte(`{"id":1}`))
	msg.Metadata.Set(metadatapkg.KeyProducerID, "orders")

	out := toNATS("COMMITGUARD.orders", msg)

	assert.Equal(t, "COMMITGUARD.orders", out.Subject)
	assert.Equal(t, []byte(`{"id":1}`), out.Data)
	assert.Equal(t, "01HX", out.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, "orders", out.Header.Get(metadatapkg.KeyProducerID))
}

func TestToWatermill(t *testing.T) {
	in := &nats.Msg{Data: []byte(`{}`), Header: nats.Header{}}
	in.Header.Set(nats.MsgIdHdr, "01HX")
	in.Header.Set("custom", "x")

	meta := &nats.MsgMetadata{
		Sequence:     nats.SequencePair{Stream: 42, Consumer: 7},
		NumDelivered: 2,
		Timestamp:    time.UnixMilli(1700000000000),
	}
	msg := toWatermill(in, "orders", "worker-1", meta)

	assert.Equal(t, "01HX", msg.UUID)
	assert.Equal(t, "x", msg.Metadata.Get("custom"))
	assert.Empty(t, msg.Metadata.Get(nats.MsgIdHdr))
	assert.Equal(t,
		"topic/group: orders/worker-1, part/off: 0/42, produced: 1700000000000, attempt: 2",
		metadatapkg.Metadata(msg.Metadata).StandardSummary())
}

func TestToWatermillWithoutMetadata(t *testing.T) {
	msg := toWatermill(&nats.Msg{Data: []byte(`{}`)}, "orders", "worker-1", nil)

	require.NotEmpty(t, msg.UUID)
	_, ok := metadatapkg.Metadata(msg.Metadata).Position()
	assert.False(t, ok)
	assert.Equal(t, "orders", msg.Metadata.Get(metadatapkg.KeyReceivedTopic))
}
