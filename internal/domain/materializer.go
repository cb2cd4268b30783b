package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/timetracking/internal/observability"
)

// Materializer turns a stopped timer into a TimeEntry. Delete and create happen as one unit, so the
// caller that wins the delete is the only one that produces an entry.
type Materializer struct {
	repo TimerRepository
	now  func() time.Time
}

// NewMaterializer constructs a Materializer.
func NewMaterializer(repo TimerRepository, now func() time.Time) *Materializer {
	if now == nil {
		now = time.Now
	}
	return &Materializer{repo: repo, now: now}
}

// MaterializeInput describes a stop event.
type MaterializeInput struct {
	// Timer is the stored timer, unchanged, so the conditional delete matches the persisted row.
	Timer ActiveTimer
	// OrganizationID and ProjectID override the timer's reference fields on the entry when the
	// scope was resolved elsewhere. Empty values keep the timer's own.
	OrganizationID   string
	ProjectID        string
	DurationMin      int
	EndTime          time.Time
	RequiresApproval bool
	Source           EntrySource
}

// Materialize persists the entry and removes the timer. It returns ErrTimerGone when another caller
// already stopped the timer, and a *MaterializationError when storage fails.
func (m *Materializer) Materialize(ctx context.Context, input MaterializeInput) (*TimeEntry, error) {
	timer := input.Timer
	description := timer.Description
	if strings.TrimSpace(description) == "" && input.Source == EntrySourceAutoStop {
		description = DefaultAutoStopDescription
	}
	organizationID := firstNonEmpty(input.OrganizationID, timer.OrganizationID)
	projectID := firstNonEmpty(input.ProjectID, timer.ProjectID)

	entry := TimeEntry{
		ID:             uuid.NewString(),
		TimerID:        timer.ID,
		UserID:         timer.UserID,
		OrganizationID: organizationID,
		ProjectID:      projectID,
		TaskID:         timer.TaskID,
		Description:    description,
		Category:       timer.Category,
		Tags:           append([]string(nil), timer.Tags...),
		IsBillable:     timer.IsBillable,
		HourlyRate:     timer.HourlyRate,
		StartTime:      timer.StartTime.UTC(),
		EndTime:        input.EndTime.UTC(),
		DurationMin:    input.DurationMin,
		Status:         EntryStatusCompleted,
		IsApproved:     !input.RequiresApproval,
		Source:         input.Source,
		CreatedAt:      m.now().UTC(),
	}

	deleted, err := m.repo.Complete(ctx, timer, entry)
	if err != nil {
		return nil, &MaterializationError{TimerID: timer.ID, Err: err}
	}
	if !deleted {
		return nil, ErrTimerGone
	}
	observability.RecordEntryMaterialized(string(entry.Source), entry.CreatedAt)
	return &entry, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
