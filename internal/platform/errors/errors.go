package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// Client taxonomy.
	KindValidation      Kind = "validation"
	KindUnauthenticated Kind = "unauthenticated"
	KindNetwork         Kind = "network"
	KindServer          Kind = "server"
	KindProtocol        Kind = "protocol"
	KindAttemptBudget   Kind = "attempt_budget"
	KindRequest         Kind = "request"

	// Platform kinds.
	KindConfig    Kind = "config"
	KindDomain    Kind = "domain"
	KindTransport Kind = "transport"
	KindPlatform  Kind = "platform"
	KindBootstrap Kind = "bootstrap"
	KindStorage   Kind = "storage"
	KindUnknown   Kind = "unknown"
)

// Error is the typed error shared by every layer of the client.
// Status carries the HTTP status when the failure came from the server and
// Code carries the machine-readable error code from the response body, if any.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Status  int
	Code    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// WithStatus attaches an HTTP status and server error code.
func (e *Error) WithStatus(status int, code string) *Error {
	if e == nil {
		return nil
	}
	e.Status = status
	e.Code = code
	return e
}

// IsKind checks whether any error in the chain matches the provided kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the first typed error in the chain, or KindUnknown.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status recorded on the error chain, or 0.
func StatusOf(err error) int {
	var target *Error
	if errors.As(err, &target) {
		return target.Status
	}
	return 0
}

// Codes set by the client itself. Server codes pass through unchanged.
const (
	CodeConnection       = "connection_error"
	CodeTimeout          = "timeout"
	CodeTokenExpired     = "token_expired"
	CodeMaxAttempts      = "max_attempts_exceeded"
	CodeInvalidEmail     = "invalid_email"
	CodeInvalidPhone     = "invalid_phone"
	CodeInvalidMerchant  = "invalid_merchant_id"
	CodeInvalidCode      = "invalid_code"
	CodeRequiredField    = "required_field"
	CodeInvalidState     = "invalid_state"
	CodeWebsocketError   = "websocket_error"
	CodeWebsocketLost    = "websocket_lost"
	CodeBusy             = "busy"
	CodeValidationFailed = "validation_error"
)

// WithCode attaches a machine-readable code without a status.
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	e.Code = code
	return e
}

// CodeOf returns the code recorded on the error chain, or "".
func CodeOf(err error) string {
	var target *Error
	if errors.As(err, &target) {
		return target.Code
	}
	return ""
}
