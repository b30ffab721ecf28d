// Package shared contains the error kinds and domain events shared by the
// progress and achievement packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"strings"
)

// Error kinds. Every DomainError carries exactly one; callers branch on the
// kind with errors.Is or the Is* helpers below.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalid      = errors.New("invalid argument")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
)

// DomainError is an error of a known Kind raised by Op in Domain. Message is
// safe to show to API clients; Err is the internal cause, if any.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(e.Domain)
	b.WriteByte('.')
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
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

// NewDomainError returns a sentinel of the given kind.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError attaches a kind and a client-safe message to err.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ─────────────────────────────────────────────────────────────────────────────
// Progress
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrRecordNotFound = NewDomainError("progress", "Find", ErrNotFound, "progress record not found")

	ErrInvalidLearnerID   = NewDomainError("progress", "Validate", ErrInvalid, "invalid learner ID")
	ErrInvalidContentID   = NewDomainError("progress", "Validate", ErrInvalid, "invalid content reference ID")
	ErrInvalidContentKind = NewDomainError("progress", "Validate", ErrInvalid, "unknown content kind")
	ErrInvalidTimeSpent   = NewDomainError("progress", "Validate", ErrInvalid, "time spent cannot be negative")
	ErrInvalidScore       = NewDomainError("progress", "Validate", ErrInvalid, "quiz score must be between 0 and 100")
	ErrInvalidAnswerCount = NewDomainError("progress", "Validate", ErrInvalid, "correct answers must be between 0 and total questions")
	ErrInvalidQuizMode    = NewDomainError("progress", "Validate", ErrInvalid, "quiz mode must be practice or exam")

	ErrConcurrentModification = NewDomainError("progress", "Save", ErrConflict, "progress record was modified concurrently")
	ErrLockNotAcquired        = NewDomainError("progress", "Lock", ErrConflict, "learner lock is held by another writer")
)

// ErrInvalidPolicy rejects an unknown achievement policy name.
var ErrInvalidPolicy = NewDomainError("achievement", "Validate", ErrInvalid, "achievement policy must be threshold or exact")

// ─────────────────────────────────────────────────────────────────────────────
// Backing stores
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrStoreUnavailable = NewDomainError("store", "Request", ErrUnavailable, "progress store is unavailable")
	ErrCacheUnavailable = NewDomainError("cache", "Request", ErrUnavailable, "progress cache is unavailable")
)

func IsNotFound(err error) bool    { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool  { return errors.Is(err, ErrInvalid) }
func IsConflict(err error) bool    { return errors.Is(err, ErrConflict) }
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
