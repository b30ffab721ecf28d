// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// MaxIDLength bounds learner and content identifiers.
const MaxIDLength = 128

// Identifiers are opaque to the engine (UUIDs, ObjectIDs, slugs); only
// whitespace and control characters are rejected.
var idRegex = regexp.MustCompile(`^[^\s\x00-\x1f\x7f]+$`)

// LearnerID identifies the account whose study activity is tracked.
type LearnerID string

// IsValid checks that the ID is non-empty, bounded, and free of whitespace.
func (l LearnerID) IsValid() bool {
	return len(l) > 0 && len(l) <= MaxIDLength && idRegex.MatchString(string(l))
}

// String returns the string representation.
func (l LearnerID) String() string {
	return string(l)
}

// NewLearnerID creates a LearnerID with validation.
func NewLearnerID(id string) (LearnerID, error) {
	lid := LearnerID(strings.TrimSpace(id))
	if !lid.IsValid() {
		return "", ErrInvalidLearnerID
	}
	return lid, nil
}

// ContentRef is an opaque catalog identifier (topic, protocol, quiz, ...).
type ContentRef string

// IsValid checks that the reference is non-empty, bounded, and free of whitespace.
func (c ContentRef) IsValid() bool {
	return len(c) > 0 && len(c) <= MaxIDLength && idRegex.MatchString(string(c))
}

// String returns the string representation.
func (c ContentRef) String() string {
	return string(c)
}

// NewContentRef creates a ContentRef with validation.
func NewContentRef(id string) (ContentRef, error) {
	ref := ContentRef(strings.TrimSpace(id))
	if !ref.IsValid() {
		return "", ErrInvalidContentID
	}
	return ref, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Quantities
// ═══════════════════════════════════════════════════════════════════════════

// Seconds is a non-negative study duration.
type Seconds int

// IsValid checks the duration is non-negative.
func (s Seconds) IsValid() bool {
	return s >= 0
}

// Int returns the underlying int value.
func (s Seconds) Int() int {
	return int(s)
}

// NewSeconds creates a Seconds value with validation.
func NewSeconds(v int) (Seconds, error) {
	s := Seconds(v)
	if !s.IsValid() {
		return 0, ErrInvalidTimeSpent
	}
	return s, nil
}

// Score is a quiz percentage.
type Score int

const (
	MinScore Score = 0
	MaxScore Score = 100
)

// IsValid checks the score lies within 0..100.
func (s Score) IsValid() bool {
	return s >= MinScore && s <= MaxScore
}

// Int returns the underlying int value.
func (s Score) Int() int {
	return int(s)
}

// NewScore creates a Score with validation.
func NewScore(v int) (Score, error) {
	s := Score(v)
	if !s.IsValid() {
		return 0, ErrInvalidScore
	}
	return s, nil
}
