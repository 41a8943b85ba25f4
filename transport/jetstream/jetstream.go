// Package jetstream provides a NATS JetStream transport. Each topic maps to a
// subject inside one stream and each consumer group to a durable pull
// consumer. The stream sequence serves as the offset on a single partition,
// so redelivered messages keep their position.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
	"github.com/drblury/commitguard/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when Config.StreamName is empty.
	DefaultStreamName = "COMMITGUARD"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 5

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// DefaultFetchBatch is how many messages one pull requests.
	DefaultFetchBatch = 10
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("jetstream: transport is closed")

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{
		URL:           cfg.GetNATSURL(),
		ConsumerGroup: cfg.GetConsumerGroup(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the name of the JetStream stream to use.
	StreamName string

	// ConsumerGroup names the durable consumers, one per topic.
	ConsumerGroup string

	// MaxDeliver is the maximum number of delivery attempts.
	MaxDeliver int

	// AckWait is the duration to wait for acknowledgment.
	AckWait time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// RetentionPolicy: "limits" (default), "interest", or "workqueue"
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "default"
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

func (c Config) retention() nats.RetentionPolicy {
	switch c.RetentionPolicy {
	case "interest":
		return nats.InterestPolicy
	case "workqueue":
		return nats.WorkQueuePolicy
	default:
		return nats.LimitsPolicy
	}
}

// Transport is both the publisher and the subscriber of one consumer group
// on one stream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	mu   sync.Mutex
	subs []*nats.Subscription

	done      chan struct{}
	closeOnce sync.Once
}

// New connects to NATS and creates or updates the stream so it captures
// every "<stream>.>" subject.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("commitguard-"+cfg.ConsumerGroup))
	if err != nil {
		return nil, fmt.Errorf("commitguard: jetstream connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("commitguard: jetstream context: %w", err)
	}

	t := &Transport{nc: nc, js: js, config: cfg, logger: logger, done: make(chan struct{})}
	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("commitguard: jetstream stream %s: %w", cfg.StreamName, err)
	}
	return t, nil
}

// streamConfig keeps a week of history so a lagging group can still replay.
func (c Config) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      c.StreamName,
		Subjects:  []string{c.StreamName + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  c.Replicas,
		Retention: c.retention(),
	}
}

// consumerConfig describes the group's durable consumer for one subject.
// Redelivery after AckWait is what lets the coordinator see a message again
// after a failed commit.
func (c Config) consumerConfig(durable, subject string) *nats.ConsumerConfig {
	return &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		MaxDeliver:    c.MaxDeliver,
		AckWait:       c.AckWait,
	}
}

func (t *Transport) ensureStream() error {
	cfg := t.config.streamConfig()
	_, err := t.js.StreamInfo(cfg.Name)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = t.js.AddStream(cfg)
		return err
	case err != nil:
		return err
	}
	if _, err := t.js.UpdateStream(cfg); err != nil {
		return err
	}
	t.logger.Debug("JetStream stream updated", watermill.LogFields{"stream": cfg.Name})
	return nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Publish publishes messages to the JetStream stream. The watermill UUID is
// sent as Nats-Msg-Id, which also lets the server drop duplicate publishes.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}
	subject := t.subject(topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(toNATS(subject, msg)); err != nil {
			return fmt.Errorf("commitguard: jetstream publish to %s: %w", subject, err)
		}
	}
	return nil
}

// Subscribe binds the group's durable consumer for topic and streams its
// messages until ctx ends or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	subject := t.subject(topic)
	durable := t.durable(topic)
	consumer := t.config.consumerConfig(durable, subject)
	if _, err := t.js.AddConsumer(t.config.StreamName, consumer); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumer); err != nil {
			return nil, fmt.Errorf("commitguard: jetstream consumer %s: %w", durable, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, durable, nats.Bind(t.config.StreamName, durable))
	if err != nil {
		return nil, fmt.Errorf("commitguard: jetstream subscribe %s: %w", subject, err)
	}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	output := make(chan *message.Message)
	go t.pull(ctx, sub, output, topic)
	return output, nil
}

// pull fetches batches until ctx ends, the transport closes or the
// subscription goes away.
func (t *Transport) pull(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)
	fields := watermill.LogFields{"topic": topic, "consumer_group": t.config.ConsumerGroup}

	for ctx.Err() == nil && !t.isClosed() {
		batch, err := sub.Fetch(DefaultFetchBatch, nats.MaxWait(time.Second))
		switch {
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			continue
		case errors.Is(err, nats.ErrBadSubscription), errors.Is(err, nats.ErrConnectionClosed):
			return
		case err != nil:
			t.logger.Error("JetStream fetch failed", err, fields)
			continue
		}

		for _, natsMsg := range batch {
			if !t.deliver(ctx, natsMsg, output, topic, fields) {
				return
			}
		}
	}
}

// deliver hands one message to the router and settles it with the server
// once the handler acked or nacked. It returns false when ctx ended first;
// the unsettled message is redelivered after AckWait.
func (t *Transport) deliver(ctx context.Context, natsMsg *nats.Msg, output chan<- *message.Message, topic string, fields watermill.LogFields) bool {
	meta, err := natsMsg.Metadata()
	if err != nil {
		t.logger.Error("JetStream message has no metadata", err, fields)
	}
	msg := toWatermill(natsMsg, topic, t.config.ConsumerGroup, meta)

	select {
	case output <- msg:
	case <-ctx.Done():
		return false
	}

	settle := natsMsg.Ack
	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		settle = natsMsg.Nak
	case <-ctx.Done():
		return false
	}
	if err := settle(); err != nil {
		t.logger.Error("JetStream settle failed", err, fields)
	}
	return true
}

func toNATS(subject string, msg *message.Message) *nats.Msg {
	headers := nats.Header{}
	for k, v := range msg.Metadata {
		headers.Set(k, v)
	}
	if msg.UUID != "" {
		headers.Set(nats.MsgIdHdr, msg.UUID)
	}
	return &nats.Msg{
		Subject: subject,
		Data:    msg.Payload,
		Header:  headers,
	}
}

// toWatermill converts a fetched message and stamps the received-* headers.
// meta may be nil when the message did not come from a JetStream consumer.
func toWatermill(natsMsg *nats.Msg, topic, group string, meta *nats.MsgMetadata) *message.Message {
	id := natsMsg.Header.Get(nats.MsgIdHdr)
	if id == "" {
		id = watermill.NewUUID()
	}

	msg := message.NewMessage(id, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}

	id := metadatapkg.Identity{Topic: topic, Group: group}
	if meta == nil {
		msg.Metadata.Set(metadatapkg.KeyReceivedTopic, id.Topic)
		msg.Metadata.Set(metadatapkg.KeyConsumerGroup, id.Group)
		return msg
	}
	// One stream sequence spans all subjects, so everything is partition 0.
	md := metadatapkg.Metadata(msg.Metadata).
		WithPosition(id, metadatapkg.Position{Offset: int64(meta.Sequence.Stream)}).
		With(metadatapkg.KeyReceivedTimestamp, strconv.FormatInt(meta.Timestamp.UnixMilli(), 10)).
		With(metadatapkg.KeyDeliveryAttempt, strconv.FormatUint(meta.NumDelivered, 10))
	msg.Metadata = md.Watermill()
	return msg
}

func (t *Transport) subject(topic string) string {
	return t.config.StreamName + "." + topic
}

// durable names are limited to a safe character set.
func (t *Transport) durable(topic string) string {
	return sanitize(t.config.ConsumerGroup + "_" + topic)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

// Close stops every pull loop, drops the subscriptions and closes the
// connection. Later calls are no-ops.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		subs := t.subs
		t.subs = nil
		t.mu.Unlock()

		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil {
				t.logger.Error("JetStream unsubscribe failed", err, watermill.LogFields{"subject": sub.Subject})
			}
		}
		if t.nc != nil {
			t.nc.Close()
		}
	})
	return nil
}

// Capabilities returns the JetStream transport capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
