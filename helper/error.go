package helper

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can pick a retry or degradation
// policy without string matching.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no classification.
	KindUnknown Kind = iota
	// KindValidation marks input errors rejected before any external call.
	KindValidation
	// KindConnectivity marks unreachable or timed out external services
	// (embedding inference, database).
	KindConnectivity
	// KindPartial marks isolated per-item failures inside a batch.
	KindPartial
	// KindIntegrity marks data-integrity violations such as an embedding
	// dimension mismatch. These are fatal for the write in question.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConnectivity:
		return "connectivity"
	case KindPartial:
		return "partial"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with the operation that failed and an
// optional kind classification.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindUnknown {
		return fmt.Sprintf("error in %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the operation name
func NewError(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// NewValidationError wraps err as a validation error
func NewValidationError(op string, err error) error {
	return &Error{Op: op, Kind: KindValidation, Err: err}
}

// NewConnectivityError wraps err as a connectivity error
func NewConnectivityError(op string, err error) error {
	return &Error{Op: op, Kind: KindConnectivity, Err: err}
}

// NewPartialError wraps err as an isolated per-item error
func NewPartialError(op string, err error) error {
	return &Error{Op: op, Kind: KindPartial, Err: err}
}

// NewIntegrityError wraps err as a data-integrity error
func NewIntegrityError(op string, err error) error {
	return &Error{Op: op, Kind: KindIntegrity, Err: err}
}

// IsKind reports whether any error in err's chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
