// Package transports registers every built-in transport with the default
// registry. Importing it for side effects is enough; RegisterAll can be called
// again after a test replaced transport.DefaultRegistry.
package transports

import (
	"github.com/drblury/commitguard/transport/aws"
	"github.com/drblury/commitguard/transport/channel"
	"github.com/drblury/commitguard/transport/http"
	"github.com/drblury/commitguard/transport/jetstream"
	"github.com/drblury/commitguard/transport/kafka"
	"github.com/drblury/commitguard/transport/nats"
	"github.com/drblury/commitguard/transport/rabbitmq"
)

func init() {
	RegisterAll()
}

// RegisterAll registers the built-in transports.
func RegisterAll() {
	aws.Register()
	channel.Register()
	http.Register()
	jetstream.Register()
	kafka.Register()
	nats.Register()
	rabbitmq.Register()
}
