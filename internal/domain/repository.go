package domain

import (
	"context"
	"time"
)

// TimerRepository captures persistence operations for active timers and the entries they become.
type TimerRepository interface {
	// FindActive returns the user's timer in the organization, or nil when none exists.
	FindActive(ctx context.Context, organizationID, userID string) (*ActiveTimer, error)
	// Insert stores a new timer and returns ErrTimerExists when the slot is taken.
	Insert(ctx context.Context, timer ActiveTimer) error
	// Save writes timer if the stored version still equals expectedVersion. It reports false when the
	// version moved on or the timer is gone.
	Save(ctx context.Context, timer ActiveTimer, expectedVersion int64) (bool, error)
	// ListAll returns every active timer across all organizations.
	ListAll(ctx context.Context) ([]ActiveTimer, error)
	// Complete deletes the timer if it still exists at timer.Version and creates entry in the same
	// atomic unit. It reports false, with nothing written, when the conditional delete matched
	// nothing. If the entry cannot be written the timer is left in place.
	Complete(ctx context.Context, timer ActiveTimer, entry TimeEntry) (bool, error)
	// ListEntries pages through a user's entries, newest start time first.
	ListEntries(ctx context.Context, organizationID, userID string, cursor *Cursor, limit int) ([]TimeEntry, *Cursor, error)
}

// Cursor models the pagination token for time entries.
type Cursor struct {
	StartTime time.Time
	ID        string
}
