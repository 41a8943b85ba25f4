package runtime

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	envelopepkg "github.com/drblury/commitguard/internal/runtime/envelope"
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	handlerpkg "github.com/drblury/commitguard/internal/runtime/handlers"
	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
	metadatapkg "github.com/drblury/commitguard/internal/runtime/metadata"
)

// HandlerKind tells how a handler receives its payload.
type HandlerKind string

const (
	HandlerKindJSON  HandlerKind = "json"
	HandlerKindProto HandlerKind = "proto"
	HandlerKindRaw   HandlerKind = "raw"
)

// HandlerInfo describes a registered handler.
type HandlerInfo struct {
	Name           string
	ConsumeBinding string
	Topic          string
	Group          string
	Kind           HandlerKind
}

type handlerRegistration struct {
	Name           string
	ConsumeBinding string
	Kind           HandlerKind
	Handler        message.NoPublishHandlerFunc
}

// MessageHandlerRegistration wires a raw Watermill handler without typed
// helpers. Raw handlers bypass deduplication and the outbox.
type MessageHandlerRegistration struct {
	Name           string
	ConsumeBinding string
	Handler        message.NoPublishHandlerFunc
}

// RegisterMessageHandler attaches the provided handler to the service router.
func RegisterMessageHandler(svc *Service, cfg MessageHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	return svc.registerHandler(handlerRegistration{
		Name:           cfg.Name,
		ConsumeBinding: cfg.ConsumeBinding,
		Kind:           HandlerKindRaw,
		Handler:        cfg.Handler,
	})
}

func (s *Service) registerHandler(cfg handlerRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.ConsumeBinding == "" {
		return errspkg.ErrBindingRequired
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}

	topic := s.Conf.Destination(cfg.ConsumeBinding)
	group := s.Conf.GroupFor(cfg.ConsumeBinding)
	subscriber, err := s.subscriberFor(group)
	if err != nil {
		return err
	}

	s.handlersMu.Lock()
	s.handlers = append(s.handlers, &HandlerInfo{
		Name:           cfg.Name,
		ConsumeBinding: cfg.ConsumeBinding,
		Topic:          topic,
		Group:          group,
		Kind:           cfg.Kind,
	})
	s.handlersMu.Unlock()

	s.router.AddNoPublisherHandler(
		cfg.Name,
		topic,
		subscriber,
		cfg.Handler,
	)

	return nil
}

// Handlers returns the registered handlers in registration order.
func (s *Service) Handlers() []HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]HandlerInfo, len(s.handlers))
	for i, h := range s.handlers {
		out[i] = *h
	}
	return out
}

func (s *Service) registerProcessor(name, binding string, kind HandlerKind, process handlerpkg.Processor) error {
	return s.registerHandler(handlerRegistration{
		Name:           name,
		ConsumeBinding: binding,
		Kind:           kind,
		Handler:        s.processMessages(name, binding, process),
	})
}

// processMessages runs one inbound message through its cycle: begin, decode,
// duplicate check, handler and commit. Undecodable messages and duplicates
// are skipped and acknowledged; a handler error nacks the message so it is
// redelivered.
func (s *Service) processMessages(name, binding string, process handlerpkg.Processor) message.NoPublishHandlerFunc {
	logger := s.Logger.With(loggingpkg.LogFields{"handler": name, "binding": binding})
	group := s.Conf.GroupFor(binding)

	return func(msg *message.Message) error {
		env := s.envelopeFor(msg, group)
		ctx := envelopepkg.NewContext(msg.Context(), env)

		cycle, err := s.coordinator.BeginProcessing(ctx, env)
		if err != nil {
			return err
		}

		invoke, err := process(env)
		if err != nil {
			cycle.Release()
			if errspkg.IsDecodeError(err) {
				logger.Error("Unable to decode message, skipping it", err, loggingpkg.LogFields{
					"message_uuid": env.UUID,
					"summary":      env.Metadata.StandardSummary(),
				})
				return nil
			}
			return err
		}

		if s.coordinator.IsDuplicate(env) {
			logger.Warn("Ignoring duplicate message", loggingpkg.LogFields{
				"message_uuid": env.UUID,
				"summary":      env.Metadata.StandardSummary(),
			})
			cycle.Release()
			return nil
		}

		return s.invoke(ctx, logger, cycle, invoke)
	}
}

func (s *Service) invoke(ctx context.Context, logger loggingpkg.ServiceLogger, cycle *Cycle, invoke handlerpkg.Invocation) error {
	env := cycle.Envelope()
	base := handlerpkg.MessageContextBase{
		Envelope: env,
		Metadata: env.Metadata,
		Logger:   logger,
		Cycle:    cycle,
	}
	if err := invoke(ctx, base); err != nil {
		logger.Error("Handler failed, message will be redelivered", err, loggingpkg.LogFields{
			"message_uuid": env.UUID,
			"pending":      cycle.Pending(),
		})
		return err
	}
	if !cycle.Committed() {
		// The message is handled; a failed position record only weakens
		// redelivery detection and is already logged.
		_ = cycle.Commit(ctx)
	}
	return nil
}

// envelopeFor wraps msg and fills in the received topic and consumer group
// when the transport did not stamp them.
func (s *Service) envelopeFor(msg *message.Message, group string) *envelopepkg.Envelope {
	env := envelopepkg.FromWatermill(msg, s.Conf.ManualAck)
	if _, ok := env.Metadata[metadatapkg.KeyReceivedTopic]; !ok {
		if topic := message.SubscribeTopicFromCtx(msg.Context()); topic != "" {
			env.Metadata[metadatapkg.KeyReceivedTopic] = topic
		}
	}
	if _, ok := env.Metadata[metadatapkg.KeyConsumerGroup]; !ok && group != "" {
		env.Metadata[metadatapkg.KeyConsumerGroup] = group
	}
	return env
}
