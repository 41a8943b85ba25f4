// Package http provides an HTTP transport. Messages are POSTed to
// <publisher url>/<topic>; the subscriber serves one route per topic. HTTP
// has no redelivery, so messages carry no positions.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/commitguard/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

// Register registers the HTTP transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()

	tr, err := transport.Assemble(
		func() (message.Publisher, error) {
			return PublisherFactory(http.PublisherConfig{MarshalMessageFunc: marshalTo(publisherURL)}, logger)
		},
		func() (message.Subscriber, error) {
			return SubscriberFactory(serverAddr, http.SubscriberConfig{
				UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
			}, logger)
		},
	)
	if err != nil {
		return transport.Transport{}, err
	}

	if s, ok := tr.Subscriber.(*http.Subscriber); ok {
		go func() {
			if err := s.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				logger.Error("HTTP subscriber server stopped", err, watermill.LogFields{"addr": serverAddr})
			}
		}()
	}
	return tr, nil
}

func marshalTo(baseURL string) func(topic string, msg *message.Message) (*nethttp.Request, error) {
	base := strings.TrimSuffix(baseURL, "/")
	return func(topic string, msg *message.Message) (*nethttp.Request, error) {
		return http.DefaultMarshalMessageFunc(base+"/"+strings.TrimPrefix(topic, "/"), msg)
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
