// Package perr defines the stable error-code contract shared by every
// LibPolyCall component, modeled on the one-struct-per-failure-shape
// style of commbus.CommBusError and friends.
package perr

import "fmt"

// Code is a stable external error code. Values and numbering follow
// spec section 6 ("Error codes") exactly; SUCCESS and UNKNOWN keep
// their documented numeric values, the rest are assigned in
// declaration order.
type Code int

const (
	SUCCESS Code = 0

	InvalidType Code = iota
	TypeMismatch
	ConversionFailed
	FunctionNotFound
	SignatureMismatch
	MemoryAllocation
	SecurityViolation
	NotInitialized
	AlreadyExists
	LanguageNotSupported
	BridgeFailure
	Timeout
	Cancelled
	InvalidArgument
	Overflow

	Unknown Code = -1
)

func (c Code) String() string {
	switch c {
	case SUCCESS:
		return "SUCCESS"
	case InvalidType:
		return "INVALID_TYPE"
	case TypeMismatch:
		return "TYPE_MISMATCH"
	case ConversionFailed:
		return "CONVERSION_FAILED"
	case FunctionNotFound:
		return "FUNCTION_NOT_FOUND"
	case SignatureMismatch:
		return "SIGNATURE_MISMATCH"
	case MemoryAllocation:
		return "MEMORY_ALLOCATION"
	case SecurityViolation:
		return "SECURITY_VIOLATION"
	case NotInitialized:
		return "NOT_INITIALIZED"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case LanguageNotSupported:
		return "LANGUAGE_NOT_SUPPORTED"
	case BridgeFailure:
		return "BRIDGE_FAILURE"
	case Timeout:
		return "TIMEOUT"
	case Cancelled:
		return "CANCELLED"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case Overflow:
		return "OVERFLOW"
	default:
		return "UNKNOWN"
	}
}

// Error is the concrete error type returned by every core component.
// Details carries a structured payload rather than a concatenated
// message, per spec section 7's "user-visible behavior" rule.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that preserves a lower-level cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails attaches a structured payload and returns the receiver
// for chaining at the construction site.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the Code from err, returning Unknown for any error
// that isn't (or doesn't wrap) an *Error.
func CodeOf(err error) Code {
	if err == nil {
		return SUCCESS
	}
	var perr *Error
	if ok := asError(err, &perr); ok {
		return perr.Code
	}
	return Unknown
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
