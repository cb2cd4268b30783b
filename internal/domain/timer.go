package domain

import "time"

// ActiveTimer is the live record of an in-progress timing session. At most one exists per
// (organization, user) pair.
type ActiveTimer struct {
	ID             string
	UserID         string
	OrganizationID string
	ProjectID      string
	TaskID         string
	Description    string
	Category       string
	Tags           []string
	IsBillable     bool
	HourlyRate     *float64

	StartTime time.Time
	// TotalPausedMinutes only grows, by exactly the gap between a pause and its resume.
	TotalPausedMinutes float64
	IsPaused           bool
	PausedAt           *time.Time

	// Version is bumped on every committed mutation and guards read-modify-write cycles.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ElapsedMinutes returns the authoritative elapsed time of the timer at now.
func (t ActiveTimer) ElapsedMinutes(now time.Time) float64 {
	return ElapsedMinutes(t.StartTime, t.TotalPausedMinutes, now, t.IsPaused, t.PausedAt)
}

// EntryStatus is the lifecycle status of a time entry.
type EntryStatus string

const (
	EntryStatusCompleted EntryStatus = "completed"
)

// EntrySource records which path stopped the timer that produced an entry.
type EntrySource string

const (
	EntrySourceTimer    EntrySource = "timer"
	EntrySourceAutoStop EntrySource = "auto_stop"
)

// DefaultAutoStopDescription replaces an empty description on sweep-created entries.
const DefaultAutoStopDescription = "Timer automatically stopped at session limit"

// TimeEntry is the immutable record of completed work produced by stopping a timer.
type TimeEntry struct {
	ID             string
	TimerID        string
	UserID         string
	OrganizationID string
	ProjectID      string
	TaskID         string
	Description    string
	Category       string
	Tags           []string
	IsBillable     bool
	HourlyRate     *float64
	StartTime      time.Time
	EndTime        time.Time
	// DurationMin is the final duration in minutes, rounded when the policy asks for it.
	DurationMin int
	Status      EntryStatus
	IsApproved  bool
	Source      EntrySource
	CreatedAt   time.Time
}

// TimerPatch carries the metadata fields that an update may change. Nil fields are left alone.
type TimerPatch struct {
	Description *string
	Category    *string
	Tags        []string
	SetTags     bool
}

func (p TimerPatch) apply(t *ActiveTimer) {
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.SetTags {
		t.Tags = append([]string(nil), p.Tags...)
	}
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (t ActiveTimer) Clone() ActiveTimer {
	out := t
	out.Tags = append([]string(nil), t.Tags...)
	if t.PausedAt != nil {
		pausedAt := *t.PausedAt
		out.PausedAt = &pausedAt
	}
	if t.HourlyRate != nil {
		rate := *t.HourlyRate
		out.HourlyRate = &rate
	}
	return out
}
