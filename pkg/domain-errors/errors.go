// Package domainerrors defines the error taxonomy shared by services and transports.
//
// Services return *Error values carrying a Code; transports translate the code to a
// status without inspecting messages. Authorization failures carry the decision
// justifications so callers receive them verbatim.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeInvalidRequest          Code = "invalid_request"
	CodeConsentNotFound         Code = "consent_not_found"
	CodeConsentConfidenceTooLow Code = "consent_confidence_too_low"
	CodeAccessDenied            Code = "access_denied"
	CodeUnparsableQuery         Code = "unparsable_query"
	CodeQueryRewriteFailed      Code = "query_rewrite_failed"
	CodeUnauthorized            Code = "unauthorized"
	CodeNotFound                Code = "not_found"
	CodeUnavailable             Code = "unavailable"
	CodeRateLimited             Code = "rate_limit_exceeded"
	CodeInternal                Code = "internal_error"
)

// Error is a coded domain error. Justifications are only populated for
// authorization and validation failures.
type Error struct {
	Code           Code
	Message        string
	Justifications []string
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a domain error with the same code and message.
// It lets tests compare against a freshly constructed error with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New creates a domain error with the given code.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// WithJustifications returns a copy of e carrying the given justifications.
func (e *Error) WithJustifications(justifications []string) *Error {
	cp := *e
	cp.Justifications = append([]string(nil), justifications...)
	return &cp
}

// CodeOf extracts the code of the first domain error in err's chain.
// Errors that are not domain errors report CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// JustificationsOf returns the justifications attached to err, if any.
func JustificationsOf(err error) []string {
	var de *Error
	if errors.As(err, &de) {
		return de.Justifications
	}
	return nil
}
