// Package channel provides an in-memory Go channel transport. It is meant for
// tests and local development. Subscriptions are wrapped so every delivery
// carries partition and offset headers, which lets redelivery detection work
// without a broker.
package channel

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
	"github.com/drblury/commitguard/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{}, logger)
	group := ""
	if cfg != nil {
		group = cfg.GetConsumerGroup()
	}
	return transport.Transport{
		Publisher:  pub,
		Subscriber: NewPositionSubscriber(sub, group),
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// PositionSubscriber stamps the standard received-* headers on messages from
// an in-memory subscriber. Everything lands on partition 0; offsets count up
// per subscription. A message that comes back with the UUID of the previous
// delivery is a redelivery after nack and keeps its offset.
type PositionSubscriber struct {
	inner         message.Subscriber
	consumerGroup string
	now           func() time.Time
}

// NewPositionSubscriber wraps inner.
func NewPositionSubscriber(inner message.Subscriber, consumerGroup string) *PositionSubscriber {
	return &PositionSubscriber{inner: inner, consumerGroup: consumerGroup, now: time.Now}
}

// ForGroup returns a subscriber on the same channels that stamps group.
func (s *PositionSubscriber) ForGroup(group string) message.Subscriber {
	return &PositionSubscriber{inner: s.inner, consumerGroup: group, now: s.now}
}

func (s *PositionSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	in, err := s.inner.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan *message.Message)
	seq := &sequence{}
	go func() {
		defer close(out)
		for msg := range in {
			s.stamp(msg, topic, seq.offsetFor(msg.UUID))
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *PositionSubscriber) stamp(msg *message.Message, topic string, offset int64) {
	if msg.Metadata == nil {
		msg.Metadata = message.Metadata{}
	}
	msg.Metadata.Set(metadatapkg.KeyReceivedTopic, topic)
	if s.consumerGroup != "" {
		msg.Metadata.Set(metadatapkg.KeyConsumerGroup, s.consumerGroup)
	}
	msg.Metadata.Set(metadatapkg.KeyReceivedPartition, "0")
	msg.Metadata.Set(metadatapkg.KeyOffset, strconv.FormatInt(offset, 10))
	if msg.Metadata.Get(metadatapkg.KeyReceivedTimestamp) == "" {
		msg.Metadata.Set(metadatapkg.KeyReceivedTimestamp, strconv.FormatInt(s.now().UnixMilli(), 10))
	}
}

func (s *PositionSubscriber) Close() error {
	return s.inner.Close()
}

type sequence struct {
	mu       sync.Mutex
	next     int64
	lastUUID string
	last     int64
}

func (q *sequence) offsetFor(uuid string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if uuid != "" && uuid == q.lastUUID {
		return q.last
	}
	q.last = q.next
	q.lastUUID = uuid
	q.next++
	return q.last
}
