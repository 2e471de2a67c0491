// Package shared holds the error taxonomy and the domain events used by
// every other domain package. It imports nothing outside the standard
// library.
package shared

import (
	"errors"
	"fmt"
)

// Kind is one class of failure. Every error returned by the engines and
// commands matches exactly one Kind through errors.Is.
type Kind struct {
	code string
	text string
}

func (k *Kind) Error() string { return k.text }

// Code is the stable snake_case name used on the wire.
func (k *Kind) Code() string { return k.code }

func kind(code, text string) *Kind {
	k := &Kind{code: code, text: text}
	kinds = append(kinds, k)
	return k
}

// kinds is in declaration order, which is also match order for KindOf.
var kinds []*Kind

var (
	// ErrFormat: malformed CSV or missing columns.
	ErrFormat = kind("format_error", "format error")

	// ErrInsufficientData: too few analyzable profiles.
	ErrInsufficientData = kind("insufficient_data", "insufficient data")

	// ErrInsufficientCohort: fewer students than groups.
	ErrInsufficientCohort = kind("insufficient_cohort", "insufficient cohort")

	// ErrAlreadyExists: groups present and overwrite not set.
	ErrAlreadyExists = kind("already_exists", "already exists")

	// ErrConflict: another write to the same material is in flight.
	ErrConflict = kind("conflict", "conflict")

	ErrNotFound        = kind("not_found", "not found")
	ErrPayloadTooLarge = kind("payload_too_large", "payload too large")
	ErrValidation      = kind("validation_error", "validation error")

	// ErrInternal: a broken invariant. Never swallowed.
	ErrInternal = kind("internal_error", "internal error")
)

// KindOf returns the code of the first Kind err matches, or
// "internal_error" for errors outside the taxonomy.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.code
		}
	}
	return ErrInternal.code
}

// DomainError attaches a domain, an operation and a Kind to a message and
// an optional cause. It renders as "domain.op: message[: cause]".
type DomainError struct {
	Domain  string // motivation, clustering, grouping, ...
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	s := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the Kind and the cause to errors.Is and errors.As.
func (e *DomainError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

func Errorf(domain, op string, kind error, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, kind, fmt.Sprintf(format, args...))
}

// WrapError keeps err as the cause, so both kind and err match errors.Is.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}
