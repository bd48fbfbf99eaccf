// Package errors provides the error kinds shared by the queue consumer, the
// stage workers and the batch commands.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"time"
)

// Kind decides what a caller does with a failure.
type Kind int

const (
	// KindFatal is anything unexpected. The consumer stops without acking.
	KindFatal Kind = iota
	// KindRetryable is a transient failure. State is left untouched and the
	// message is redelivered.
	KindRetryable
	// KindInvalid is bad input. The message is dead-lettered and the
	// application, if any, is marked failed.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindInvalid:
		return "invalid"
	default:
		return "fatal"
	}
}

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidMessage  ErrorCode = "INVALID_MESSAGE"
	ErrCodeUnknownJobType  ErrorCode = "UNKNOWN_JOB_TYPE"
	ErrCodeMissingField    ErrorCode = "MISSING_FIELD"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeNoRecipient     ErrorCode = "NO_RECIPIENT"
	ErrCodeInvalidImage    ErrorCode = "INVALID_IMAGE"
	ErrCodeInvalidResponse ErrorCode = "INVALID_LLM_RESPONSE"

	ErrCodeLLMTimeout       ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMRequestFailed ErrorCode = "LLM_REQUEST_FAILED"
	ErrCodeLLMMalformed     ErrorCode = "LLM_MALFORMED_RESPONSE"
	ErrCodeLLMEmpty         ErrorCode = "LLM_EMPTY_RESPONSE"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeBrokerUnavailable        ErrorCode = "BROKER_UNAVAILABLE"
	ErrCodeCacheUnavailable         ErrorCode = "CACHE_UNAVAILABLE"

	ErrCodeRenderFailed    ErrorCode = "RENDER_FAILED"
	ErrCodeEmailSendFailed ErrorCode = "EMAIL_SEND_FAILED"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Kind      Kind                   `json:"kind"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value that the error handler logs.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(kind Kind, code ErrorCode, message string, cause error) *StandardError {
	e := &StandardError{
		Code:      code,
		Kind:      kind,
		Message:   message,
		Retryable: kind == KindRetryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// NewRetryable wraps a transient failure.
func NewRetryable(code ErrorCode, message string, cause error) *StandardError {
	return newError(KindRetryable, code, message, cause)
}

// NewInvalid reports input that will never succeed as-is.
func NewInvalid(code ErrorCode, message, details string) *StandardError {
	e := newError(KindInvalid, code, message, nil)
	e.Details = details
	return e
}

func NewFatal(code ErrorCode, message string, cause error) *StandardError {
	return newError(KindFatal, code, message, cause)
}

func NewMissingFieldError(field string) *StandardError {
	return NewInvalid(ErrCodeMissingField, "required field missing", fmt.Sprintf("field: %s", field))
}

func NewNotFoundError(entity, id string) *StandardError {
	return NewInvalid(ErrCodeNotFound, entity+" not found", fmt.Sprintf("id: %s", id))
}

func NewDatabaseError(op string, err error) *StandardError {
	return NewRetryable(ErrCodeQueryExecutionFailed, "database "+op+" failed", err)
}

func NewLLMTimeoutError(err error) *StandardError {
	return NewRetryable(ErrCodeLLMTimeout, "language model call timed out", err)
}

func NewMalformedResponseError(details string) *StandardError {
	e := NewRetryable(ErrCodeLLMMalformed, "language model returned malformed JSON", nil)
	e.Details = details
	return e
}

// KindOf classifies any error. Unclassified timeouts and cancellations count
// as retryable.
func KindOf(err error) Kind {
	if err == nil {
		return KindFatal
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Kind
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return KindRetryable
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return KindRetryable
	}
	return KindFatal
}

func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindRetryable
}

func IsInvalid(err error) bool {
	return err != nil && KindOf(err) == KindInvalid
}

// CodeOf returns the error code, or ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// GetErrorCategory groups codes for metrics labels.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeInvalidMessage, ErrCodeUnknownJobType, ErrCodeMissingField,
		ErrCodeNotFound, ErrCodeNoRecipient, ErrCodeInvalidImage, ErrCodeInvalidResponse:
		return "validation"
	case ErrCodeLLMTimeout, ErrCodeLLMRequestFailed, ErrCodeLLMMalformed, ErrCodeLLMEmpty:
		return "llm"
	case ErrCodeDatabaseConnectionFailed, ErrCodeQueryExecutionFailed, ErrCodeCacheUnavailable:
		return "storage"
	case ErrCodeBrokerUnavailable:
		return "broker"
	case ErrCodeRenderFailed, ErrCodeEmailSendFailed:
		return "delivery"
	default:
		return "internal"
	}
}
