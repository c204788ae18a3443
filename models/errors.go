package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeFetchFailed      = "FETCH_FAILED"
	ErrCodeSelectorSyntax   = "SELECTOR_SYNTAX"
	ErrCodeUnresolvableLink = "UNRESOLVABLE_LINK"
	ErrCodeQueueFatal       = "QUEUE_FATAL"
	ErrCodeTimeout          = "AUDIT_TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses. Field names the
// request field at fault for INVALID_INPUT errors, e.g. "pages.include".
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// AuditError is an audit failure carrying an error code.
type AuditError struct {
	Code    string
	Message string
	Field   string
	Err     error
}

func (e *AuditError) Error() string {
	msg := e.Code + ": "
	if e.Field != "" {
		msg += e.Field + ": "
	}
	msg += e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuditError) Unwrap() error {
	return e.Err
}

// NewAuditError creates a new AuditError.
func NewAuditError(code, message string, err error) *AuditError {
	return &AuditError{Code: code, Message: message, Err: err}
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, format string, args ...any) *AuditError {
	return &AuditError{Code: ErrCodeInvalidInput, Field: field, Message: fmt.Sprintf(format, args...)}
}

// AsAuditError classifies err. AuditErrors pass through; deadline errors
// become AUDIT_TIMEOUT and anything else INTERNAL_ERROR.
func AsAuditError(err error) *AuditError {
	var ae *AuditError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAuditError(ErrCodeTimeout, "audit did not finish in time", err)
	}
	return NewAuditError(ErrCodeInternal, err.Error(), err)
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *AuditError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message, Field: e.Field}
}
