package runtime

import (
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	handlerpkg "github.com/drblury/commitguard/internal/runtime/handlers"
)

// RegisterProtoHandler registers a typed protobuf handler on its consume
// binding. Payloads are decoded with protojson.
func RegisterProtoHandler[T proto.Message](svc *Service, cfg handlerpkg.ProtoHandlerRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	process, err := handlerpkg.BuildProtoProcessor(cfg.Handler)
	if err != nil {
		return err
	}

	return svc.registerProcessor(cfg.Name, cfg.ConsumeBinding, HandlerKindProto, process)
}
