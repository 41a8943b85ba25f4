package http

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/commitguard/transport"
	"github.com/drblury/commitguard/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "http", caps.Name)
	assert.False(t, caps.ProvidesPositions)
	assert.False(t, caps.SupportsReliableDelivery())
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("creates transport with mocked factories", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		mockPub := &transporttest.Publisher{}
		mockSub := &transporttest.Subscriber{}

		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			require.NotNil(t, config.MarshalMessageFunc)
			return mockPub, nil
		}
		SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, ":8080", addr)
			return mockSub, nil
		}

		cfg := &transporttest.Config{
			HTTPServerAddress: ":8080",
			HTTPPublisherURL:  "http://localhost:8080/",
		}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockPub, tr.Publisher)
		assert.Equal(t, mockSub, tr.Subscriber)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		defer func() { PublisherFactory = originalPubFactory }()

		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "publisher error")
	})

	t.Run("closes publisher when subscriber factory fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		pub := &transporttest.Publisher{}
		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "subscriber error")
		assert.True(t, pub.Closed)
	})
}

func TestMarshalTo(t *testing.T) {
	msg := message.NewMessage("01HX", []byte(`{"id":1}`))
	msg.Metadata.Set("producerid", "orders")

	for _, base := range []string{"http://localhost:8080", "http://localhost:8080/"} {
		req, err := marshalTo(base)("orders", msg)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080/orders", req.URL.String())
	}
}
