package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
	"github.com/drblury/commitguard/transport"
	"github.com/drblury/commitguard/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.True(t, caps.ProvidesPositions)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("creates transport with default factory", func(t *testing.T) {
		tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})

		require.NoError(t, err)
		assert.NotNil(t, tr.Publisher)
		assert.IsType(t, &PositionSubscriber{}, tr.Subscriber)
		assert.NoError(t, tr.Close())
	})

	t.Run("uses custom factory", func(t *testing.T) {
		originalFactory := Factory
		defer func() { Factory = originalFactory }()

		mockPub := &transporttest.Publisher{}
		mockSub := &transporttest.Subscriber{}
		Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
			return mockPub, mockSub
		}

		tr, err := Build(context.Background(), &transporttest.Config{ConsumerGroup: "g"}, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockPub, tr.Publisher)
		require.NoError(t, tr.Subscriber.Close())
		assert.True(t, mockSub.Closed)
	})
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPositionSubscriberStampsHeaders(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	sub := NewPositionSubscriber(pubSub, "worker-1")
	sub.now = func() time.Time { return time.UnixMilli(1700000000000) }
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := sub.Subscribe(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, pubSub.Publish("orders",
		message.NewMessage("a", []byte(`{}`)),
		message.NewMessage("b", []byte(`{}`)),
	))

	first := receive(t, msgs)
	md := metadatapkg.Metadata(first.Metadata)
	assert.Equal(t, "topic/group: orders/worker-1, part/off: 0/0, produced: 1700000000000, attempt: -1", md.StandardSummary())
	first.Ack()

	second := receive(t, msgs)
	assert.Equal(t, "1", second.Metadata.Get(metadatapkg.KeyOffset))
	second.Ack()
}

func TestPositionSubscriberKeepsOffsetOnRedelivery(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	sub := NewPositionSubscriber(pubSub, "")
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := sub.Subscribe(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, pubSub.Publish("orders", message.NewMessage("a", nil), message.NewMessage("b", nil)))

	first := receive(t, msgs)
	assert.Equal(t, "0", first.Metadata.Get(metadatapkg.KeyOffset))
	assert.Empty(t, first.Metadata.Get(metadatapkg.KeyConsumerGroup))
	first.Nack()

	again := receive(t, msgs)
	assert.Equal(t, "a", again.UUID)
	assert.Equal(t, "0", again.Metadata.Get(metadatapkg.KeyOffset))
	again.Ack()

	next := receive(t, msgs)
	assert.Equal(t, "b", next.UUID)
	assert.Equal(t, "1", next.Metadata.Get(metadatapkg.KeyOffset))
	next.Ack()
}

func TestPositionSubscriberForGroup(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	sub := NewPositionSubscriber(pubSub, "worker-1")
	defer sub.Close()

	var scoper transport.GroupScoper = sub
	audit := scoper.ForGroup("audit")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workerMsgs, err := sub.Subscribe(ctx, "orders")
	require.NoError(t, err)
	auditMsgs, err := audit.Subscribe(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, pubSub.Publish("orders", message.NewMessage("a", nil)))

	worker := receive(t, workerMsgs)
	assert.Equal(t, "worker-1", worker.Metadata.Get(metadatapkg.KeyConsumerGroup))
	worker.Ack()
	audited := receive(t, auditMsgs)
	assert.Equal(t, "audit", audited.Metadata.Get(metadatapkg.KeyConsumerGroup))
	assert.Equal(t, "0", audited.Metadata.Get(metadatapkg.KeyOffset))
	audited.Ack()
}

func TestSequence(t *testing.T) {
	var seq sequence
	assert.Equal(t, int64(0), seq.offsetFor("a"))
	assert.Equal(t, int64(0), seq.offsetFor("a"))
	assert.Equal(t, int64(1), seq.offsetFor("b"))
	assert.Equal(t, int64(2), seq.offsetFor(""))
	assert.Equal(t, int64(3), seq.offsetFor(""))
}
