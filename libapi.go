package commitguard

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/commitguard/internal/runtime"
	configpkg "github.com/drblury/commitguard/internal/runtime/config"
	dedupkg "github.com/drblury/commitguard/internal/runtime/dedup"
	envelopepkg "github.com/drblury/commitguard/internal/runtime/envelope"
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	handlerpkg "github.com/drblury/commitguard/internal/runtime/handlers"
	idspkg "github.com/drblury/commitguard/internal/runtime/ids"
	jsoncodec "github.com/drblury/commitguard/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
	payloadpkg "github.com/drblury/commitguard/internal/runtime/payload"
	transportpkg "github.com/drblury/commitguard/transport"
)

type (
	Config              = configpkg.Config
	BindingsFile        = configpkg.BindingsFile
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	Envelope     = envelopepkg.Envelope
	Acknowledger = envelopepkg.Acknowledger
	Metadata     = metadatapkg.Metadata
	Identity     = metadatapkg.Identity
	Position     = metadatapkg.Position

	Coordinator        = runtimepkg.Coordinator
	CoordinatorOptions = runtimepkg.CoordinatorOptions
	Cycle              = runtimepkg.Cycle
	Producer           = runtimepkg.Producer

	DedupStore       = dedupkg.Store
	DedupConfig      = dedupkg.Config
	MemoryDedupStore = dedupkg.MemoryStore

	MessageHandlerRegistration                = runtimepkg.MessageHandlerRegistration
	JSONHandlerRegistration[T any]            = handlerpkg.JSONHandlerRegistration[T]
	JSONMessageContext[T any]                 = handlerpkg.JSONMessageContext[T]
	JSONMessageHandler[T any]                 = handlerpkg.JSONMessageHandler[T]
	ProtoHandlerRegistration[T proto.Message] = handlerpkg.ProtoHandlerRegistration[T]
	ProtoMessageContext[T proto.Message]      = handlerpkg.ProtoMessageContext[T]
	ProtoMessageHandler[T proto.Message]      = handlerpkg.ProtoMessageHandler[T]
	MessageContextBase                        = handlerpkg.MessageContextBase
	HandlerInfo                               = runtimepkg.HandlerInfo
	HandlerKind                               = runtimepkg.HandlerKind

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]
	LevelRegistry             = loggingpkg.LevelRegistry
	LogLevelAdjustment        = runtimepkg.LogLevelAdjustment

	// Cycle lifecycle hooks
	CycleEvent = runtimepkg.CycleEvent
	CycleHooks = runtimepkg.CycleHooks

	// Commit metrics
	CommitMetrics         = runtimepkg.CommitMetrics
	CommitTopicMetrics    = runtimepkg.CommitTopicMetrics
	CommitMetricsSnapshot = runtimepkg.CommitMetricsSnapshot

	ChannelReport   = runtimepkg.ChannelReport
	ConsumedChannel = runtimepkg.ConsumedChannel

	DecodeError           = errspkg.DecodeError
	ConfigValidationError = errspkg.ConfigValidationError

	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ParseBindings  = configpkg.ParseBindings
	ValidateConfig = configpkg.ValidateConfig

	NewCoordinator = runtimepkg.NewCoordinator
	NewProducer    = runtimepkg.NewProducer
	NewEnvelope    = envelopepkg.New
	FromWatermill  = envelopepkg.FromWatermill

	OpenDedupStore      = dedupkg.Open
	NewMemoryDedupStore = dedupkg.NewMemoryStore

	RegisterMessageHandler   = runtimepkg.RegisterMessageHandler
	RegisterLogLevelAdjuster = runtimepkg.RegisterLogLevelAdjuster

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Cycle lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewCommitMetrics = runtimepkg.NewCommitMetrics

	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetCapabilities          = transportpkg.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	DuplicateForDeferredSend = payloadpkg.Duplicate
	EncodePayload            = payloadpkg.Encode
	IsDecodeError            = errspkg.IsDecodeError

	ErrServiceRequired             = errspkg.ErrServiceRequired
	ErrHandlerRequired             = errspkg.ErrHandlerRequired
	ErrBindingRequired             = errspkg.ErrBindingRequired
	ErrHandlerNameRequired         = errspkg.ErrHandlerNameRequired
	ErrConsumeMessagePointerNeeded = errspkg.ErrConsumeMessagePointerNeeded
	ErrPublisherRequired           = errspkg.ErrPublisherRequired
	ErrConfigRequired              = errspkg.ErrConfigRequired
	ErrLoggerRequired              = errspkg.ErrLoggerRequired
	ErrEnvelopeRequired            = errspkg.ErrEnvelopeRequired
	ErrPayloadRequired             = errspkg.ErrPayloadRequired
	ErrCycleCommitted              = errspkg.ErrCycleCommitted
	ErrNoCycle                     = errspkg.ErrNoCycle

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewLevelRegistry          = loggingpkg.NewLevelRegistry

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = handlerpkg.MetadataKeyCorrelationID
	MetadataKeyEventSchema   = handlerpkg.MetadataKeyEventSchema
	MetadataKeyTraceID       = handlerpkg.MetadataKeyTraceID
	MetadataKeySpanID        = handlerpkg.MetadataKeySpanID

	HeaderReceivedTopic     = metadatapkg.KeyReceivedTopic
	HeaderConsumerGroup     = metadatapkg.KeyConsumerGroup
	HeaderReceivedPartition = metadatapkg.KeyReceivedPartition
	HeaderOffset            = metadatapkg.KeyOffset
	HeaderReceivedTimestamp = metadatapkg.KeyReceivedTimestamp
	HeaderDeliveryAttempt   = metadatapkg.KeyDeliveryAttempt
	HeaderProducerID        = metadatapkg.KeyProducerID
)

// Handler kinds reported by Service.Handlers.
const (
	HandlerKindJSON  = runtimepkg.HandlerKindJSON
	HandlerKindProto = runtimepkg.HandlerKindProto
	HandlerKindRaw   = runtimepkg.HandlerKindRaw
)

func RegisterJSONHandler[T any](svc *Service, cfg JSONHandlerRegistration[T]) error {
	return runtimepkg.RegisterJSONHandler(svc, cfg)
}

func RegisterProtoHandler[T proto.Message](svc *Service, cfg ProtoHandlerRegistration[T]) error {
	return runtimepkg.RegisterProtoHandler(svc, cfg)
}

// DecodeAs decodes the payload of env into T. A payload that already holds a
// T is returned as-is.
func DecodeAs[T any](env *Envelope) (T, error) {
	return payloadpkg.DecodeAs[T](env)
}

// HeaderValue returns the header key of env as text.
func HeaderValue(env *Envelope, key string) (string, bool) {
	if env == nil {
		return "", false
	}
	return env.Metadata.Value(key)
}

// IsHeaderPresent reports whether header key of env equals one of
// candidates. Matches are logged at info level when logger is not nil.
func IsHeaderPresent(logger ServiceLogger, env *Envelope, key string, candidates ...string) bool {
	if env == nil {
		return false
	}
	return env.Metadata.IsPresent(logger, key, candidates...)
}

// StandardSummary renders the standard inbound headers of env on one line.
func StandardSummary(env *Envelope) string {
	if env == nil {
		return ""
	}
	return env.Metadata.StandardSummary()
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
