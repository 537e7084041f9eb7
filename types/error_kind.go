package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfiguration
	KindNotFound
	KindMethodNotAllowed
	KindValidation
	KindDependency
	KindGuardDenied
	KindHandler
	KindTimeout
	KindCancelled
)

const StatusClientClosedRequest = 499

var kindNames = map[ErrorKind]string{
	KindUnknown:          "unknown",
	KindConfiguration:    "configuration",
	KindNotFound:         "not_found",
	KindMethodNotAllowed: "method_not_allowed",
	KindValidation:       "validation",
	KindDependency:       "dependency",
	KindGuardDenied:      "guard_denied",
	KindHandler:          "handler",
	KindTimeout:          "timeout",
	KindCancelled:        "cancelled",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is the request-level failure carried from any dispatch step to the
// error renderer. Status is the client-facing HTTP status.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Fields  []string
	Allowed []string
	Headers map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Fields, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) ClientFacing() bool {
	return e.Status >= 400 && e.Status < 500
}

func (e *Error) Title() string {
	if text := http.StatusText(e.Status); text != "" {
		return text
	}
	if e.Status == StatusClientClosedRequest {
		return "Client Closed Request"
	}
	return "Error"
}

func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func NewConfigurationError(err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func NewNotFoundError(path string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Status:  http.StatusNotFound,
		Message: "no route matches " + path,
		Err:     ErrResourceNotFound,
	}
}

func NewMethodNotAllowedError(method string, allowed []string) *Error {
	return &Error{
		Kind:    KindMethodNotAllowed,
		Status:  http.StatusMethodNotAllowed,
		Message: "method " + method + " is not allowed",
		Allowed: allowed,
		Headers: map[string]string{"Allow": strings.Join(allowed, ", ")},
		Err:     ErrMethodNotAllowed,
	}
}

func NewValidationError(err error, fields ...string) *Error {
	return &Error{
		Kind:    KindValidation,
		Status:  http.StatusBadRequest,
		Message: "validation failed",
		Fields:  fields,
		Err:     err,
	}
}

// NewDependencyError keeps client-facing provider failures as they are and
// turns everything else into a server error.
func NewDependencyError(name string, err error) *Error {
	if te, ok := AsError(err); ok && (te.ClientFacing() || te.Kind == KindCancelled || te.Kind == KindTimeout) {
		return te
	}
	return &Error{
		Kind:    KindDependency,
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf("dependency %q failed", name),
		Err:     fmt.Errorf("%w: %w", ErrDependencyFailed, err),
	}
}

func NewGuardDeniedError(status int, message string) *Error {
	if status == 0 {
		status = http.StatusForbidden
	}
	return &Error{
		Kind:    KindGuardDenied,
		Status:  status,
		Message: message,
		Err:     ErrPermissionDenied,
	}
}

func NewUnauthorizedError(message, challenge string) *Error {
	e := &Error{
		Kind:    KindGuardDenied,
		Status:  http.StatusUnauthorized,
		Message: message,
		Err:     ErrAuthRequired,
	}
	if challenge != "" {
		e.Headers = map[string]string{"WWW-Authenticate": challenge}
	}
	return e
}

func NewHandlerError(err error) *Error {
	if te, ok := AsError(err); ok {
		return te
	}
	return &Error{
		Kind:   KindHandler,
		Status: http.StatusInternalServerError,
		Err:    err,
	}
}

// NewHTTPError lets handlers and providers signal a client-facing condition.
func NewHTTPError(status int, message string) *Error {
	return &Error{
		Kind:    KindHandler,
		Status:  status,
		Message: message,
	}
}

func NewTimeoutError(err error) *Error {
	return &Error{
		Kind:    KindTimeout,
		Status:  http.StatusRequestTimeout,
		Message: "request processing timed out",
		Err:     fmt.Errorf("%w: %w", ErrRequestTimeout, err),
	}
}

func NewCancelledError(err error) *Error {
	return &Error{
		Kind:    KindCancelled,
		Status:  StatusClientClosedRequest,
		Message: "request cancelled",
		Err:     fmt.Errorf("%w: %w", ErrRequestCancelled, err),
	}
}
