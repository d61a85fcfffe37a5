// Package ows defines the client-facing error surface of the WFS core.
package ows

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindParsing
	KindInvalidParameter
	KindMissingParameter
	KindNotFound
	KindNotSupported
	KindNotImplemented
	KindProcessingFailed
	KindPermissionDenied
	KindType
)

// exception codes from OWS 1.1 / WFS 2.0
const (
	CodeNoApplicable           = "NoApplicableCode"
	CodeInvalidParameterValue  = "InvalidParameterValue"
	CodeMissingParameterValue  = "MissingParameterValue"
	CodeOperationParsingFailed = "OperationParsingFailed"
	CodeOperationNotSupported  = "OperationNotSupported"
	CodeProcessingFailed       = "OperationProcessingFailed"
	CodeNotFound               = "NotFound"
	CodePermissionDenied       = "PermissionDenied"
)

// Error is the {exceptionCode, locator, message} triple owed to the transport layer.
type Error struct {
	Kind    Kind
	Code    string
	Locator string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Locator, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the error kind to its HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func newError(kind Kind, code, locator, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Locator: locator, Message: fmt.Sprintf(format, args...)}
}

func Parsing(locator, format string, args ...any) *Error {
	return newError(KindParsing, CodeOperationParsingFailed, locator, format, args...)
}

func InvalidParameter(locator, format string, args ...any) *Error {
	return newError(KindInvalidParameter, CodeInvalidParameterValue, locator, format, args...)
}

func MissingParameter(locator string) *Error {
	return newError(KindMissingParameter, CodeMissingParameterValue, locator, "Missing required '%s' parameter.", locator)
}

func NotFound(locator, format string, args ...any) *Error {
	return newError(KindNotFound, CodeNotFound, locator, format, args...)
}

// NotSupported messages are static, callers never pass request data in.
func NotSupported(locator, message string) *Error {
	return newError(KindNotSupported, CodeOperationNotSupported, locator, "%s", message)
}

func NotImplemented(locator, format string, args ...any) *Error {
	return newError(KindNotImplemented, CodeInvalidParameterValue, locator, format, args...)
}

func ProcessingFailed(locator, format string, args ...any) *Error {
	return newError(KindProcessingFailed, CodeProcessingFailed, locator, format, args...)
}

func PermissionDenied(locator, format string, args ...any) *Error {
	return newError(KindPermissionDenied, CodePermissionDenied, locator, format, args...)
}

func TypeError(locator, format string, args ...any) *Error {
	return newError(KindType, CodeInvalidParameterValue, locator, format, args...)
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeNoApplicable, Message: "Internal server error.", Err: err}
}

// WithLocator returns a copy with the locator filled in when it was left empty.
func (e *Error) WithLocator(locator string) *Error {
	if e.Locator != "" {
		return e
	}
	cp := *e
	cp.Locator = locator
	return &cp
}

// As extracts an *Error; anything else becomes an internal error.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return Internal(err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Kind == kind
}
