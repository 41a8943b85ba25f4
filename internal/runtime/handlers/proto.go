package handlers

import (
	"context"
	"reflect"

	"google.golang.org/protobuf/proto"

	envelopepkg "github.com/drblury/commitguard/internal/runtime/envelope"
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	payloadpkg "github.com/drblury/commitguard/internal/runtime/payload"
)

// ProtoHandlerRegistration configures a typed protobuf handler. Payloads are
// decoded with protojson.
type ProtoHandlerRegistration[T proto.Message] struct {
	Name           string
	ConsumeBinding string
	Handler        ProtoMessageHandler[T]
}

// ProtoMessageContext provides strongly typed access to the incoming message payload.
type ProtoMessageContext[T proto.Message] struct {
	MessageContextBase
	Payload T
}

// ProtoMessageHandler processes one decoded protobuf payload.
type ProtoMessageHandler[T proto.Message] func(ctx context.Context, msg ProtoMessageContext[T]) error

// BuildProtoProcessor binds handler to protojson decoding of T. T must be a
// pointer to a generated message.
func BuildProtoProcessor[T proto.Message](handler ProtoMessageHandler[T]) (Processor, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if reflect.TypeFor[T]().Kind() != reflect.Pointer {
		return nil, errspkg.ErrConsumeMessagePointerNeeded
	}
	return func(env *envelopepkg.Envelope) (Invocation, error) {
		decoded, err := payloadpkg.DecodeAs[T](env)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, base MessageContextBase) error {
			return handler(ctx, ProtoMessageContext[T]{MessageContextBase: base, Payload: decoded})
		}, nil
	}, nil
}
