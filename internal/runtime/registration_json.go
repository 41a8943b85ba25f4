package runtime

import (
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	handlerpkg "github.com/drblury/commitguard/internal/runtime/handlers"
)

// RegisterJSONHandler registers a typed JSON handler on its consume binding.
// Each message is decoded into T, checked for redelivery, handed to the
// handler and committed once the handler returns nil.
func RegisterJSONHandler[T any](svc *Service, cfg handlerpkg.JSONHandlerRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	process, err := handlerpkg.BuildJSONProcessor(cfg.Handler)
	if err != nil {
		return err
	}

	return svc.registerProcessor(cfg.Name, cfg.ConsumeBinding, HandlerKindJSON, process)
}
