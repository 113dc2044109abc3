package errors

import (
	"errors"
	"fmt"
)

var (
	ErrConnect           = NewError("CONNECT_FAILED", "broker connection failed")
	ErrSubscribe         = NewError("SUBSCRIBE_FAILED", "broker subscription failed")
	ErrDegraded          = NewError("CONNECTION_DEGRADED", "broker error threshold exceeded")
	ErrMalformedPayload  = NewError("MALFORMED_PAYLOAD", "payload is not a JSON object")
	ErrHandler           = NewError("HANDLER_FAILED", "message handler failed")
	ErrQueueFull         = NewError("QUEUE_FULL", "delivery queue is full")
	ErrValidation        = NewError("VALIDATION_ERROR", "validation failed")
	ErrInternal          = NewError("INTERNAL_ERROR", "internal error")
	ErrUnsupportedBroker = NewError("UNSUPPORTED_BROKER", "unsupported broker type")
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

// Error is a coded error. Sentinels above are templates; derive instances with
// WithCause/WithDetail so errors.Is keeps matching on Code.
type Error struct {
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
		msg = detailMsg
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
	}
	switch e.Code {
	case ErrValidation.Code, ErrMalformedPayload.Code, ErrUnsupportedBroker.Code:
		return false
	}
	return true
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsMalformed(err error) bool {
	return Code(err) == ErrMalformedPayload.Code
}

func IsValidation(err error) bool {
	return Code(err) == ErrValidation.Code
}

// IsFatal reports whether err should not be retried. Errors that carry no
// classification are treated as retryable.
func IsFatal(err error) bool {
	var fatal FatalError
	if errors.As(err, &fatal) {
		return fatal.IsFatal()
	}
	return false
}
