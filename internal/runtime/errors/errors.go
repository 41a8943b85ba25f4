package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired             = sterrors.New("commitguard: service is required")
	ErrHandlerRequired             = sterrors.New("commitguard: handler function is required")
	ErrBindingRequired             = sterrors.New("commitguard: binding is required")
	ErrHandlerNameRequired         = sterrors.New("commitguard: handler name is required")
	ErrConsumeMessagePointerNeeded = sterrors.New("commitguard: consume message type must be a pointer")
	ErrPublisherRequired           = sterrors.New("commitguard: publisher is required")
	ErrConfigRequired              = sterrors.New("commitguard: configuration is required")
	ErrLoggerRequired              = sterrors.New("commitguard: logger is required")
	ErrEnvelopeRequired            = sterrors.New("commitguard: message envelope is required")
	ErrPayloadRequired             = sterrors.New("commitguard: message payload is required")
	ErrCycleCommitted              = sterrors.New("commitguard: processing cycle already committed")
	ErrUnknownDedupBackend         = sterrors.New("commitguard: unknown dedup backend")
	ErrNoCycle                     = sterrors.New("commitguard: no processing cycle for message")
	ErrRouterNotInitialised        = sterrors.New("commitguard: router is not initialised")
)

// DecodeError reports a payload that could not be turned into the requested
// type, either while decoding an inbound message or while copying an outbound
// one for a deferred send.
type DecodeError struct {
	Target string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("commitguard: unable to map payload to %s: %v", e.Target, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError wraps err for the given target type name. Returns nil when err is nil.
func NewDecodeError(target string, err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Target: target, Err: err}
}

// IsDecodeError reports whether err carries a DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return sterrors.As(err, &decodeErr)
}

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "commitguard: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil for a nil error.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
