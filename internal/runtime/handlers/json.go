package handlers

import (
	"context"

	envelopepkg "github.com/drblury/commitguard/internal/runtime/envelope"
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	payloadpkg "github.com/drblury/commitguard/internal/runtime/payload"
)

// JSONHandlerRegistration wires a typed JSON handler to a consume binding.
type JSONHandlerRegistration[T any] struct {
	Name           string
	ConsumeBinding string
	Handler        JSONMessageHandler[T]
}

// JSONMessageContext exposes the decoded payload alongside the message context.
type JSONMessageContext[T any] struct {
	MessageContextBase
	Payload T
}

// JSONMessageHandler processes one decoded JSON payload. Returning an error
// leaves the message uncommitted so the broker redelivers it.
type JSONMessageHandler[T any] func(ctx context.Context, msg JSONMessageContext[T]) error

// BuildJSONProcessor binds handler to JSON decoding of T.
func BuildJSONProcessor[T any](handler JSONMessageHandler[T]) (Processor, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	return func(env *envelopepkg.Envelope) (Invocation, error) {
		decoded, err := payloadpkg.DecodeAs[T](env)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, base MessageContextBase) error {
			return handler(ctx, JSONMessageContext[T]{MessageContextBase: base, Payload: decoded})
		}, nil
	}, nil
}
