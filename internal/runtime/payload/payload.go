// Package payload converts message payloads between their wire form and
// application types. JSON goes through jsoncodec; protobuf messages use
// protojson.
package payload

import (
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	envelopepkg "github.com/drblury/commitguard/internal/runtime/envelope"
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	jsoncodec "github.com/drblury/commitguard/internal/runtime/jsoncodec"
)

// DecodeAs returns the payload of env as a T. A payload that already is a T is
// returned as-is without decoding. Text and byte payloads are unmarshalled;
// any other value is first serialized and then unmarshalled into T.
func DecodeAs[T any](env *envelopepkg.Envelope) (T, error) {
	var zero T
	if env == nil {
		return zero, errspkg.ErrEnvelopeRequired
	}
	if typed, ok := env.Payload.(T); ok {
		return typed, nil
	}

	target := reflect.TypeFor[T]()
	data, err := Encode(env.Payload)
	if err != nil {
		return zero, errspkg.NewDecodeError(target.String(), err)
	}

	if target.Kind() == reflect.Pointer {
		fresh := reflect.New(target.Elem())
		if err := unmarshal(data, fresh.Interface()); err != nil {
			return zero, errspkg.NewDecodeError(target.String(), err)
		}
		return fresh.Interface().(T), nil
	}

	var out T
	if err := unmarshal(data, &out); err != nil {
		return zero, errspkg.NewDecodeError(target.String(), err)
	}
	return out, nil
}

// Duplicate returns an independent copy of env for a deferred send. The
// payload is serialized and deserialized into its own concrete type so later
// mutation of the original does not leak into the copy. Headers are cloned
// and the copy gets its own ULID, so enqueueing one envelope twice yields two
// distinct messages.
func Duplicate(env *envelopepkg.Envelope) (*envelopepkg.Envelope, error) {
	if env == nil {
		return nil, errspkg.ErrEnvelopeRequired
	}
	copied, err := deepCopy(env.Payload)
	if err != nil {
		return nil, err
	}
	return envelopepkg.New(copied, env.Metadata.Clone()), nil
}

// Encode serializes a payload for the wire. Text and bytes pass through.
func Encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, errspkg.ErrPayloadRequired
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case proto.Message:
		return protojson.Marshal(p)
	default:
		return jsoncodec.Marshal(p)
	}
}

// ToWatermill encodes env into a Watermill message carrying its UUID and headers.
func ToWatermill(env *envelopepkg.Envelope) (*message.Message, error) {
	if env == nil {
		return nil, errspkg.ErrEnvelopeRequired
	}
	data, err := Encode(env.Payload)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(env.UUID, data)
	msg.Metadata = env.Metadata.Watermill()
	return msg, nil
}

func deepCopy(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case []byte:
		return append([]byte(nil), v...), nil
	case proto.Message:
		if isNilPointer(v) {
			return v, nil
		}
		data, err := protojson.Marshal(v)
		if err != nil {
			return nil, errspkg.NewDecodeError(fmt.Sprintf("%T", v), err)
		}
		fresh := v.ProtoReflect().New().Interface()
		if err := protojson.Unmarshal(data, fresh); err != nil {
			return nil, errspkg.NewDecodeError(fmt.Sprintf("%T", v), err)
		}
		return fresh, nil
	}

	typ := reflect.TypeOf(value)
	data, err := jsoncodec.Marshal(value)
	if err != nil {
		return nil, errspkg.NewDecodeError(typ.String(), err)
	}

	if typ.Kind() == reflect.Pointer {
		if reflect.ValueOf(value).IsNil() {
			return value, nil
		}
		fresh := reflect.New(typ.Elem())
		if err := jsoncodec.Unmarshal(data, fresh.Interface()); err != nil {
			return nil, errspkg.NewDecodeError(typ.String(), err)
		}
		return fresh.Interface(), nil
	}

	fresh := reflect.New(typ)
	if err := jsoncodec.Unmarshal(data, fresh.Interface()); err != nil {
		return nil, errspkg.NewDecodeError(typ.String(), err)
	}
	return fresh.Elem().Interface(), nil
}

func unmarshal(data []byte, ptr any) error {
	if msg, ok := ptr.(proto.Message); ok {
		return protojson.Unmarshal(data, msg)
	}
	return jsoncodec.Unmarshal(data, ptr)
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
