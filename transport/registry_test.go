package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	pubSubSystem string
	group        string
}

func (m *mockConfig) GetPubSubSystem() string       { return m.pubSubSystem }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetConsumerGroup() string      { return m.group }
func (m *mockConfig) GetKafkaClientID() string      { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetHTTPServerAddress() string  { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }

type mockPublisher struct {
	closed bool
	err    error
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	return nil
}

func (m *mockPublisher) Close() error {
	m.closed = true
	return m.err
}

type mockSubscriber struct {
	closed bool
	err    error
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	m.closed = true
	return m.err
}

func okBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}, nil
}

func TestRegistryCapabilities(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.Names())

	reg.Register("plain", okBuilder)
	reg.RegisterWithCapabilities("positioned", okBuilder, Capabilities{
		Name:              "positioned",
		SupportsAck:       true,
		ProvidesPositions: true,
	})

	assert.True(t, reg.Has("plain"))
	assert.False(t, reg.GetCapabilities("plain").SupportsDeduplication())
	assert.True(t, reg.GetCapabilities("positioned").SupportsDeduplication())
	assert.Equal(t, Capabilities{Name: "unknown"}, reg.GetCapabilities("unknown"))
}

func TestRegistryReplacesRegistration(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("kafka", okBuilder, Capabilities{Name: "kafka", ProvidesPositions: true})
	reg.Register("kafka", okBuilder)

	assert.Equal(t, []string{"kafka"}, reg.Names())
	assert.False(t, reg.GetCapabilities("kafka").ProvidesPositions)
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", okBuilder)

	tr, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "test-transport"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestRegistryBuildErrors(t *testing.T) {
	reg := NewRegistry()
	builderErr := errors.New("broker unreachable")
	reg.Register("failing-transport", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, builderErr
	})

	_, err := reg.Build(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = reg.Build(context.Background(), &mockConfig{pubSubSystem: "unknown-transport"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTransport)
	assert.ErrorContains(t, err, "failing-transport")

	_, err = reg.Build(context.Background(), &mockConfig{pubSubSystem: "failing-transport", group: "audit"}, nil)
	assert.ErrorIs(t, err, builderErr)
	assert.ErrorContains(t, err, `failing-transport transport for group "audit"`)
}

func TestRegistryBuildRejectsHalfTransport(t *testing.T) {
	pub := &mockPublisher{}
	reg := NewRegistry()
	reg.Register("publish-only", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{Publisher: pub}, nil
	})

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "publish-only"}, nil)

	assert.ErrorContains(t, err, "needs both a publisher and a subscriber")
	assert.True(t, pub.closed)
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("nats", okBuilder)
	reg.Register("aws", okBuilder)
	reg.Register("kafka", okBuilder)

	assert.Equal(t, []string{"aws", "kafka", "nats"}, reg.Names())
	assert.False(t, reg.Has("other"))
}

func TestDefaultRegistryHelpers(t *testing.T) {
	original := DefaultRegistry
	defer func() { DefaultRegistry = original }()
	DefaultRegistry = NewRegistry()

	Register("plain", okBuilder)
	RegisterWithCapabilities("rich", okBuilder, Capabilities{Name: "rich", SupportsNack: true})

	assert.Equal(t, []string{"plain", "rich"}, DefaultRegistry.Names())
	assert.True(t, GetCapabilities("rich").SupportsNack)

	tr, err := Build(context.Background(), &mockConfig{pubSubSystem: "plain"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
}
