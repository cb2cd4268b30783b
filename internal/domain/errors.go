package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTimerExists is returned by repositories when the (organization, user) slot is already taken.
	ErrTimerExists = errors.New("active timer already exists")
	// ErrTimerGone means the timer was deleted by someone else before this caller could stop it.
	ErrTimerGone = errors.New("active timer already stopped")
	// ErrConcurrentModification is returned when optimistic retries are exhausted.
	ErrConcurrentModification = errors.New("timer modified concurrently")
	// ErrValidation marks bad caller input.
	ErrValidation = errors.New("validation failed")
)

// ConflictError is returned when starting a timer while one is already running.
type ConflictError struct {
	Existing *ActiveTimer
}

func (e *ConflictError) Error() string {
	if e.Existing == nil {
		return "an active timer already exists"
	}
	return fmt.Sprintf("an active timer already exists (timer_id=%s)", e.Existing.ID)
}

// InvalidStateError rejects a transition that the current timer state does not allow.
type InvalidStateError struct {
	Action Action
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s timer: %s", e.Action, e.Reason)
}

// PolicyUnresolvedError is recorded by the sweep when a timer's organization cannot be determined.
type PolicyUnresolvedError struct {
	TimerID string
	Reason  string
}

func (e *PolicyUnresolvedError) Error() string {
	return fmt.Sprintf("policy unresolved for timer %s: %s", e.TimerID, e.Reason)
}

// MaterializationError wraps a failure to persist a time entry. The active timer is left intact.
type MaterializationError struct {
	TimerID string
	Err     error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialize time entry for timer %s: %v", e.TimerID, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// NotificationError wraps a failed notification. It never affects timer or entry state.
type NotificationError struct {
	Category NotificationCategory
	Err      error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification %s: %v", e.Category, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
