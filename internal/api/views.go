package api

import (
	"math"
	"time"

	"example.com/timetracking/internal/domain"
	"example.com/timetracking/internal/enforcement"
)

// StartTimerRequest is the payload for POST /v1/timers.
type StartTimerRequest struct {
	ProjectID   string   `json:"project_id"`
	TaskID      string   `json:"task_id"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	IsBillable  *bool    `json:"is_billable"`
	HourlyRate  *float64 `json:"hourly_rate"`
}

// ChangeTimerRequest is the payload for PUT /v1/timers/active.
type ChangeTimerRequest struct {
	Action      string    `json:"action"`
	Description *string   `json:"description"`
	Category    *string   `json:"category"`
	Tags        *[]string `json:"tags"`
}

func (r ChangeTimerRequest) patch() domain.TimerPatch {
	p := domain.TimerPatch{Description: r.Description, Category: r.Category}
	if r.Tags != nil {
		p.Tags = *r.Tags
		p.SetTags = true
	}
	return p
}

// ActiveTimerView is the wire form of a running timer.
type ActiveTimerView struct {
	TimerID            string     `json:"timer_id"`
	OrganizationID     string     `json:"organization_id"`
	UserID             string     `json:"user_id"`
	ProjectID          string     `json:"project_id,omitempty"`
	TaskID             string     `json:"task_id,omitempty"`
	Description        string     `json:"description"`
	Category           string     `json:"category,omitempty"`
	Tags               []string   `json:"tags"`
	IsBillable         bool       `json:"is_billable"`
	HourlyRate         *float64   `json:"hourly_rate,omitempty"`
	StartTime          time.Time  `json:"start_time"`
	IsPaused           bool       `json:"is_paused"`
	PausedAt           *time.Time `json:"paused_at,omitempty"`
	TotalPausedMinutes float64    `json:"total_paused_minutes"`
	ElapsedMinutes     float64    `json:"elapsed_minutes"`
	Version            int64      `json:"version"`
}

// ActiveTimerResponse is returned by GET /v1/timers/active. Timer is null when nothing runs.
type ActiveTimerResponse struct {
	Timer          *ActiveTimerView `json:"timer"`
	ElapsedMinutes float64          `json:"elapsed_minutes"`
}

// ConflictResponse is returned when a start collides with a running timer.
type ConflictResponse struct {
	Type   string           `json:"type"`
	Detail string           `json:"detail"`
	Timer  *ActiveTimerView `json:"timer,omitempty"`
}

// TimeEntryView is the wire form of a completed entry.
type TimeEntryView struct {
	EntryID        string    `json:"entry_id"`
	TimerID        string    `json:"timer_id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	ProjectID      string    `json:"project_id,omitempty"`
	TaskID         string    `json:"task_id,omitempty"`
	Description    string    `json:"description"`
	Category       string    `json:"category,omitempty"`
	Tags           []string  `json:"tags"`
	IsBillable     bool      `json:"is_billable"`
	HourlyRate     *float64  `json:"hourly_rate,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	DurationMin    int       `json:"duration_min"`
	Status         string    `json:"status"`
	IsApproved     bool      `json:"is_approved"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
}

// StopResponse is returned by a stop action. AlreadyStopped is set, with no entry, when another
// writer stopped the timer first.
type StopResponse struct {
	Entry          *TimeEntryView `json:"entry,omitempty"`
	AlreadyStopped bool           `json:"already_stopped,omitempty"`
}

// ListEntriesResponse packages list results.
type ListEntriesResponse struct {
	Items      []TimeEntryView `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// SweepError is one failed timer in a sweep summary.
type SweepError struct {
	TimerID string `json:"timer_id"`
	UserID  string `json:"user_id"`
	Error   string `json:"error"`
}

// SweepSummaryView is returned by POST /v1/internal/sweeps.
type SweepSummaryView struct {
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	TotalChecked int          `json:"total_checked"`
	Stopped      int          `json:"stopped"`
	Skipped      int          `json:"skipped"`
	Errors       []SweepError `json:"errors"`
}

func toTimerView(t domain.ActiveTimer, now time.Time) ActiveTimerView {
	return ActiveTimerView{
		TimerID:            t.ID,
		OrganizationID:     t.OrganizationID,
		UserID:             t.UserID,
		ProjectID:          t.ProjectID,
		TaskID:             t.TaskID,
		Description:        t.Description,
		Category:           t.Category,
		Tags:               nonNil(t.Tags),
		IsBillable:         t.IsBillable,
		HourlyRate:         t.HourlyRate,
		StartTime:          t.StartTime,
		IsPaused:           t.IsPaused,
		PausedAt:           t.PausedAt,
		TotalPausedMinutes: round2(t.TotalPausedMinutes),
		ElapsedMinutes:     round2(t.ElapsedMinutes(now)),
		Version:            t.Version,
	}
}

func toEntryView(e domain.TimeEntry) TimeEntryView {
	return TimeEntryView{
		EntryID:        e.ID,
		TimerID:        e.TimerID,
		OrganizationID: e.OrganizationID,
		UserID:         e.UserID,
		ProjectID:      e.ProjectID,
		TaskID:         e.TaskID,
		Description:    e.Description,
		Category:       e.Category,
		Tags:           nonNil(e.Tags),
		IsBillable:     e.IsBillable,
		HourlyRate:     e.HourlyRate,
		StartTime:      e.StartTime,
		EndTime:        e.EndTime,
		DurationMin:    e.DurationMin,
		Status:         string(e.Status),
		IsApproved:     e.IsApproved,
		Source:         string(e.Source),
		CreatedAt:      e.CreatedAt,
	}
}

func toSweepView(s enforcement.Summary) SweepSummaryView {
	view := SweepSummaryView{
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		TotalChecked: s.TotalChecked,
		Stopped:      s.Stopped,
		Skipped:      s.Skipped,
		Errors:       make([]SweepError, 0, len(s.Errors)),
	}
	for _, e := range s.Errors {
		view.Errors = append(view.Errors, SweepError{TimerID: e.TimerID, UserID: e.UserID, Error: e.Message})
	}
	return view
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
