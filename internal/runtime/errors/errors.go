package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired     = sterrors.New("sickenflow: configuration is required")
	ErrLoggerRequired     = sterrors.New("sickenflow: logger is required")
	ErrPublisherRequired  = sterrors.New("sickenflow: publisher is required")
	ErrSubscriberRequired = sterrors.New("sickenflow: subscriber is required")
	ErrGatewayRequired    = sterrors.New("sickenflow: generation gateway is required")
	ErrQueueRequired      = sterrors.New("sickenflow: queue name is required")
	ErrWorkerFaulted      = sterrors.New("sickenflow: worker is faulted and must be restarted")
	ErrWorkerRunning      = sterrors.New("sickenflow: worker is already running")
	ErrSubscriptionClosed = sterrors.New("sickenflow: subscription closed by broker")
	ErrEmptyAnswer        = sterrors.New("sickenflow: gateway returned no answer")
)

// ConfigValidationError wraps every problem found while validating a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "sickenflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// MalformedPayloadError marks an inbound payload that can never be processed:
// not UTF-8, not a JSON object, or missing, extra or mistyped fields.
type MalformedPayloadError struct {
	Field  string
	Reason string
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	msg := "malformed payload"
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// NewMalformedPayloadError builds a MalformedPayloadError for a single field.
func NewMalformedPayloadError(field, reason string) *MalformedPayloadError {
	return &MalformedPayloadError{Field: field, Reason: reason}
}

// GenerationError reports a failed model invocation. The request that caused
// it is dropped.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "generation failed"
	}
	return "generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// NewGenerationError wraps err unless it already is a GenerationError.
func NewGenerationError(err error) error {
	if err == nil {
		return nil
	}
	var genErr *GenerationError
	if sterrors.As(err, &genErr) {
		return err
	}
	return &GenerationError{Err: err}
}

// DeliveryError reports that a response could not be handed to the broker.
// It is fatal for the worker.
type DeliveryError struct {
	Queue string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %q failed: %v", e.Queue, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsMalformedPayload reports whether err carries a MalformedPayloadError.
func IsMalformedPayload(err error) bool {
	var target *MalformedPayloadError
	return sterrors.As(err, &target)
}

// IsGeneration reports whether err carries a GenerationError.
func IsGeneration(err error) bool {
	var target *GenerationError
	return sterrors.As(err, &target)
}

// IsDelivery reports whether err carries a DeliveryError.
func IsDelivery(err error) bool {
	var target *DeliveryError
	return sterrors.As(err, &target)
}
