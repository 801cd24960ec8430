package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure for the response mapping at the HTTP
// boundary.
type Kind string

// Failure kinds
const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
)

// Error is a typed engine failure. Conflict errors are retryable by the
// caller; everything else is not.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf builds a typed engine error
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from err, walking wrapped causes. It
// returns an empty Kind for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether the caller may retry the operation
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}
