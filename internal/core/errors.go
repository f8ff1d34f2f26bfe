package core

import (
	"errors"
	"fmt"
)

// errInvalidCandidate is the cause recorded when a rule emits a candidate
// that cannot become a recommendation.
var errInvalidCandidate = errors.New("invalid candidate")

// RuleEvaluationError records a rule that failed during one evaluation pass.
// Its candidates are dropped for that pass only.
type RuleEvaluationError struct {
	RuleID string
	Cause  error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("evaluating rule %s: %v", e.RuleID, e.Cause)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Cause }

// UnknownRecommendationError is returned when an id is not in the active set.
type UnknownRecommendationError struct {
	ID string
}

func (e *UnknownRecommendationError) Error() string {
	return fmt.Sprintf("recommendation %s is not active", e.ID)
}

// AlreadyDecidedError is returned when a recommendation has already reached a
// terminal state.
type AlreadyDecidedError struct {
	ID string
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("recommendation %s has already been decided", e.ID)
}

// DuplicateHistoryEntryError is returned when a second history entry is
// appended for the same recommendation.
type DuplicateHistoryEntryError struct {
	RecommendationID string
}

func (e *DuplicateHistoryEntryError) Error() string {
	return fmt.Sprintf("history entry for recommendation %s already exists", e.RecommendationID)
}

// IsAlreadyDecided reports whether err is an AlreadyDecidedError.
func IsAlreadyDecided(err error) bool {
	var target *AlreadyDecidedError
	return errors.As(err, &target)
}

// IsUnknownRecommendation reports whether err is an UnknownRecommendationError.
func IsUnknownRecommendation(err error) bool {
	var target *UnknownRecommendationError
	return errors.As(err, &target)
}

// IsDuplicateHistoryEntry reports whether err is a DuplicateHistoryEntryError.
func IsDuplicateHistoryEntry(err error) bool {
	var target *DuplicateHistoryEntryError
	return errors.As(err, &target)
}
