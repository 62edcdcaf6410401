package ocpp

import (
	"errors"
	"fmt"
)

// ErrorCode is the error code carried by a CallError frame or a SOAP Fault subcode.
type ErrorCode string

const (
	NotImplemented               ErrorCode = "NotImplemented"
	NotSupported                 ErrorCode = "NotSupported"
	InternalError                ErrorCode = "InternalError"
	ProtocolError                ErrorCode = "ProtocolError"
	SecurityError                ErrorCode = "SecurityError"
	FormationViolation           ErrorCode = "FormationViolation"
	PropertyConstraintViolation  ErrorCode = "PropertyConstraintViolation"
	OccurenceConstraintViolation ErrorCode = "OccurenceConstraintViolation"
	TypeConstraintViolation      ErrorCode = "TypeConstraintViolation"
	GenericError                 ErrorCode = "GenericError"

	// ValidationError never travels on the wire. It is raised by the inbound API
	// when an operator payload does not match the operation catalog.
	ValidationError ErrorCode = "ValidationError"
)

// Error is a protocol level failure.
type Error struct {
	Code        ErrorCode
	Description string
	Details     interface{}
}

// NewError creates an Error with a formatted description.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// CodeOf returns the protocol error code carried by err, or InternalError when
// err is not an *Error.
func CodeOf(err error) ErrorCode {
	var ocppErr *Error
	if errors.As(err, &ocppErr) {
		return ocppErr.Code
	}
	return InternalError
}

// IsClientError reports whether the code describes a malformed or unacceptable
// request rather than a failure of the party handling it.
func (c ErrorCode) IsClientError() bool {
	switch c {
	case ValidationError, ProtocolError, FormationViolation, PropertyConstraintViolation,
		OccurenceConstraintViolation, TypeConstraintViolation, NotSupported, NotImplemented,
		SecurityError:
		return true
	}
	return false
}
