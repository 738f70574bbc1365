// Package bridgeerr contains the error taxonomy shared across the bridge runtime.
package bridgeerr

import (
	"errors"
	"net/http"
)

// Category classifies an error for HTTP mapping and scheduler retry policy.
type Category int

const (
	// CategoryInitialization is for missing config: bridge contract not set,
	// EVM params absent before first refresh.
	CategoryInitialization Category = iota
	// CategoryAccessDenied is for a non-owner calling an owner-gated operation.
	CategoryAccessDenied
	// CategorySerialization is for malformed on-wire data (event, notification, mint order).
	CategorySerialization
	// CategoryEvmRequestFailed is for RPC transport errors or non-2xx indexer responses.
	CategoryEvmRequestFailed
	// CategorySigning is for ECDSA/Schnorr failures.
	CategorySigning
	// CategoryOperationNotFound is for a nonce/memo lookup miss.
	CategoryOperationNotFound
	// CategoryFailedToProgress is a soft error; the scheduler retries per policy.
	CategoryFailedToProgress
	// CategoryUnavailable is for indexer consensus failure or a dependency being
	// temporarily down. Always retryable.
	CategoryUnavailable
	// CategoryInvalidRequest is for a semantic violation, e.g. a withdrawal
	// recipient that is not a valid address on the target chain.
	CategoryInvalidRequest
)

func (c Category) String() string {
	switch c {
	case CategoryInitialization:
		return "Initialization"
	case CategoryAccessDenied:
		return "AccessDenied"
	case CategorySerialization:
		return "Serialization"
	case CategoryEvmRequestFailed:
		return "EvmRequestFailed"
	case CategorySigning:
		return "Signing"
	case CategoryOperationNotFound:
		return "OperationNotFound"
	case CategoryFailedToProgress:
		return "FailedToProgress"
	case CategoryUnavailable:
		return "Unavailable"
	case CategoryInvalidRequest:
		return "InvalidRequest"
	default:
		return "Unknown"
	}
}

// Error is the service-wide error type. It always carries a Category so
// callers can decide HTTP status and scheduler retry behavior without string
// matching.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Category.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Category == e.Category
	}
	return false
}

func newf(cat Category, err error, message string) *Error {
	return &Error{Category: cat, Message: message, Err: err}
}

func Initialization(message string) error       { return newf(CategoryInitialization, nil, message) }
func AccessDenied(message string) error         { return newf(CategoryAccessDenied, nil, message) }
func Serialization(err error, message string) error {
	return newf(CategorySerialization, err, message)
}
func EvmRequestFailed(err error, message string) error {
	return newf(CategoryEvmRequestFailed, err, message)
}
func Signing(err error, message string) error { return newf(CategorySigning, err, message) }
func OperationNotFound(message string) error  { return newf(CategoryOperationNotFound, nil, message) }
func FailedToProgress(message string) error   { return newf(CategoryFailedToProgress, nil, message) }
func Unavailable(message string) error        { return newf(CategoryUnavailable, nil, message) }
func InvalidRequest(message string) error     { return newf(CategoryInvalidRequest, nil, message) }

// Is reports whether err is a *Error of the given category.
func Is(err error, cat Category) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Category == cat
	}
	return false
}

// Retryable reports whether the scheduler should treat err as a soft,
// retry-per-policy failure rather than a terminal one.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Category == CategoryFailedToProgress || e.Category == CategoryUnavailable
	}
	return false
}

// StatusCode maps a Category to the HTTP status the control plane returns.
func (c Category) StatusCode() int {
	switch c {
	case CategoryAccessDenied:
		return http.StatusForbidden
	case CategoryOperationNotFound:
		return http.StatusNotFound
	case CategoryInvalidRequest, CategorySerialization:
		return http.StatusBadRequest
	case CategoryUnavailable:
		return http.StatusServiceUnavailable
	case CategoryEvmRequestFailed:
		return http.StatusBadGateway
	case CategoryFailedToProgress:
		return http.StatusAccepted
	case CategorySigning, CategoryInitialization:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// StatusCode returns the HTTP status for this error's category.
func (e *Error) StatusCode() int {
	return e.Category.StatusCode()
}
