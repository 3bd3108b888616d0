package errors

import (
	"errors"
	"fmt"
)

/*
TypedError is the error shape shared by every failure the memory core can
surface to a caller. The Code identifies the failure class, so wrapped or
reworded copies still compare equal under errors.Is.
*/
type TypedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

/*
Error implements the error interface for TypedError.
*/
func (e *TypedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

/*
Is matches any TypedError carrying the same code, regardless of message.
*/
func (e *TypedError) Is(target error) bool {
	var other *TypedError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// Sentinel errors of the memory core. Callers receive exactly one of these
// (possibly reworded via WithMessagef) or a complete, possibly partial-flagged
// result — never a silently truncated result.
var (
	// ErrInvalidFilter rejects a malformed or unscoped filter before any
	// backend call is made.
	ErrInvalidFilter = &TypedError{Code: "invalid_filter", Message: "filter is malformed or missing a scope field"}

	// ErrInvalidAction marks a decision that references an id outside the
	// fact's candidate set. It is recorded per fact and never aborts a batch.
	ErrInvalidAction = &TypedError{Code: "invalid_action", Message: "action references an unknown candidate"}

	// ErrRetrieval signals that a load-bearing retrieval backend failed.
	ErrRetrieval = &TypedError{Code: "retrieval_failed", Message: "vector search backend failed"}

	// ErrExtraction signals a capability failure during fact or entity
	// extraction.
	ErrExtraction = &TypedError{Code: "extraction_failed", Message: "extraction capability failed"}

	// ErrNotFound is returned by store adapters for unknown memory ids.
	ErrNotFound = &TypedError{Code: "not_found", Message: "memory not found"}
)

/*
WithMessagef creates a *copy* of a TypedError with a formatted message.
It does not modify the original error variable.
*/
func (e *TypedError) WithMessagef(format string, args ...any) *TypedError {
	newErr := *e
	newErr.Message = fmt.Sprintf(format, args...)
	return &newErr
}

/*
WithData creates a copy of a TypedError carrying additional context data.
*/
func (e *TypedError) WithData(data any) *TypedError {
	newErr := *e
	newErr.Data = data
	return &newErr
}
