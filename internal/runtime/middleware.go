package runtime

import (
	"errors"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	idspkg "github.com/drblury/commitguard/internal/runtime/ids"
	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
)

// MiddlewareBuilder creates a router middleware once the service is wired. A
// nil middleware with a nil error means "skip".
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration names a middleware and supplies either the
// middleware itself or a builder for it.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares is the chain a Service installs unless
// DisableDefaultMiddlewares is set. The recoverer runs innermost so a
// panicking handler fails its commit cycle like any other error.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

func built(name string, fn func(*Service) message.HandlerMiddleware) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: name,
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return fn(s), nil
		},
	}
}

// CorrelationIDMiddleware gives every consumed message a correlation_id
// header, minting a ULID when the producer sent none.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return built("correlation_id", func(*Service) message.HandlerMiddleware { return correlationID })
}

// LogMessagesMiddleware logs each consumed message at debug level together
// with its position headers. A nil logger selects the service logger.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessages(l), nil
		},
	}
}

// TracerMiddleware opens a consumer span per message. The commit span started
// by the coordinator becomes its child.
func TracerMiddleware() MiddlewareRegistration {
	return built("tracer", func(*Service) message.HandlerMiddleware { return traceConsume })
}

// MetricsMiddleware adds the Watermill Prometheus router metrics next to the
// coordinator's own and serves /metrics on MetricsPort when one is set.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}
			builder := metrics.NewPrometheusMetricsBuilder(s.registerer, "commitguard", s.Conf.PubSubSystem)
			builder.AddPrometheusRouterMetrics(s.router)
			if s.Conf.MetricsPort > 0 {
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", metricsHandler(s.registerer))
			}
			return builder.NewRouterMiddleware().Middleware, nil
		},
	}
}

func metricsHandler(registerer prometheus.Registerer) http.Handler {
	if gatherer, ok := registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// RecovererMiddleware turns a handler panic into an error so the message is
// nacked and its cycle discarded.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{Name: "recoverer", Middleware: middleware.Recoverer}
}

// RegisterMiddleware adds one middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errspkg.ErrRouterNotInitialised
	}

	mw := cfg.Middleware
	if mw == nil {
		if cfg.Builder == nil {
			return errors.New("middleware registration requires Middleware or Builder")
		}
		var err error
		if mw, err = cfg.Builder(s); err != nil {
			return err
		}
	}
	if mw != nil {
		s.router.AddMiddleware(mw)
	}
	return nil
}

func correlationID(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
			msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.CreateULID())
		}
		return h(msg)
	}
}

func logMessages(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"position":     metadatapkg.Metadata(msg.Metadata).StandardSummary(),
			})
			return h(msg)
		}
	}
}

func traceConsume(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := otel.Tracer(tracerName).Start(msg.Context(), "Consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(consumeAttributes(msg)...),
		)
		defer span.End()
		msg.SetContext(ctx)

		produced, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return produced, err
	}
}

func consumeAttributes(msg *message.Message) []attribute.KeyValue {
	md := metadatapkg.Metadata(msg.Metadata)
	attrs := []attribute.KeyValue{
		attribute.String("messaging.message.id", msg.UUID),
		attribute.String("messaging.destination.name", message.SubscribeTopicFromCtx(msg.Context())),
	}
	if id, ok := md.Identity(); ok {
		attrs = append(attrs, attribute.String("messaging.consumer.group.name", id.Group))
	}
	if pos, ok := md.Position(); ok {
		attrs = append(attrs,
			attribute.Int64("messaging.destination.partition.id", int64(pos.Partition)),
			attribute.Int64("messaging.message.offset", pos.Offset),
		)
	}
	if attempt := md.DeliveryAttempt(); attempt >= 0 {
		attrs = append(attrs, attribute.Int("messaging.message.delivery_attempt", attempt))
	}
	return attrs
}
