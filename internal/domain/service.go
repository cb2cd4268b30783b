// Package domain defines the time-tracking business logic: timer lifecycle, duration arithmetic,
// policy resolution and time entry materialization.
package domain

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/timetracking/internal/observability"
)

// Action names a timer transition.
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
	ActionUpdate Action = "update"
)

// ParseAction validates a client-supplied mutation action.
func ParseAction(raw string) (Action, error) {
	switch action := Action(strings.ToLower(strings.TrimSpace(raw))); action {
	case ActionPause, ActionResume, ActionStop, ActionUpdate:
		return action, nil
	default:
		return "", validationErrorf("unknown action %q", raw)
	}
}

const defaultMaxRetries = 3

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger overrides the logger used to report transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMaxRetries bounds optimistic retries when a timer changes underneath a mutation.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// Service owns the lifecycle of each user's active timer.
type Service struct {
	repo         TimerRepository
	policies     *PolicyResolver
	materializer *Materializer
	now          func() time.Time
	logger       *slog.Logger
	maxRetries   int
}

// NewService constructs a Service.
func NewService(repo TimerRepository, settings SettingsStore, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		policies:   NewPolicyResolver(settings),
		now:        time.Now,
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.materializer = NewMaterializer(repo, s.now)
	return s
}

// StartTimerInput captures the payload from the API layer.
type StartTimerInput struct {
	UserID         string
	OrganizationID string
	ProjectID      string
	TaskID         string
	Description    string
	Category       string
	Tags           []string
	IsBillable     *bool
	HourlyRate     *float64
}

// Validate ensures input correctness.
func (in StartTimerInput) Validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return validationErrorf("user id is required")
	}
	if strings.TrimSpace(in.OrganizationID) == "" {
		return validationErrorf("organization id is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return validationErrorf("description is required")
	}
	if in.HourlyRate != nil && *in.HourlyRate < 0 {
		return validationErrorf("hourly rate must be >= 0")
	}
	return nil
}

// Start creates the user's timer. It fails with *ConflictError, carrying the running timer, when
// one already exists.
func (s *Service) Start(ctx context.Context, in StartTimerInput) (*ActiveTimer, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindActive(ctx, in.OrganizationID, in.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ConflictError{Existing: existing}
	}

	billable := true
	if in.IsBillable != nil {
		billable = *in.IsBillable
	}

	now := s.now().UTC()
	timer := ActiveTimer{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		OrganizationID: in.OrganizationID,
		ProjectID:      in.ProjectID,
		TaskID:         in.TaskID,
		Description:    strings.TrimSpace(in.Description),
		Category:       in.Category,
		Tags:           append([]string(nil), in.Tags...),
		IsBillable:     billable,
		HourlyRate:     in.HourlyRate,
		StartTime:      now,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Insert(ctx, timer); err != nil {
		if errors.Is(err, ErrTimerExists) {
			winner, findErr := s.repo.FindActive(ctx, in.OrganizationID, in.UserID)
			if findErr != nil {
				return nil, findErr
			}
			return nil, &ConflictError{Existing: winner}
		}
		return nil, err
	}

	observability.RecordTimerTransition(string(ActionStart))
	s.logger.Info("timer started", "timer_id", timer.ID, "user_id", timer.UserID, "organization_id", timer.OrganizationID)
	return &timer, nil
}

// Active returns the user's running timer, or nil when none exists.
func (s *Service) Active(ctx context.Context, organizationID, userID string) (*ActiveTimer, error) {
	return s.repo.FindActive(ctx, organizationID, userID)
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListEntries fetches the user's time entries with cursor pagination.
func (s *Service) ListEntries(ctx context.Context, organizationID, userID string, cursor *Cursor, limit int) ([]TimeEntry, *Cursor, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.repo.ListEntries(ctx, organizationID, userID, cursor, limit)
}

// Now exposes the service clock so callers report elapsed time consistently.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// Pause freezes the timer's clock.
func (s *Service) Pause(ctx context.Context, organizationID, userID string) (*ActiveTimer, error) {
	return s.mutate(ctx, organizationID, userID, ActionPause, func(t *ActiveTimer, now time.Time) error {
		if t.IsPaused {
			return &InvalidStateError{Action: ActionPause, Reason: "timer is already paused"}
		}
		t.IsPaused = true
		t.PausedAt = &now
		return nil
	})
}

// Resume restarts a paused timer and adds the pause gap to the accumulated paused time.
func (s *Service) Resume(ctx context.Context, organizationID, userID string) (*ActiveTimer, error) {
	return s.mutate(ctx, organizationID, userID, ActionResume, func(t *ActiveTimer, now time.Time) error {
		if !t.IsPaused {
			return &InvalidStateError{Action: ActionResume, Reason: "timer is not paused"}
		}
		if t.PausedAt != nil {
			if gap := now.Sub(*t.PausedAt).Minutes(); gap > 0 {
				t.TotalPausedMinutes += gap
			}
		}
		t.IsPaused = false
		t.PausedAt = nil
		return nil
	})
}

// Update changes descriptive metadata without touching duration accounting.
func (s *Service) Update(ctx context.Context, organizationID, userID string, patch TimerPatch) (*ActiveTimer, error) {
	if patch.Description != nil && strings.TrimSpace(*patch.Description) == "" {
		return nil, validationErrorf("description cannot be empty")
	}
	return s.mutate(ctx, organizationID, userID, ActionUpdate, func(t *ActiveTimer, _ time.Time) error {
		patch.apply(t)
		return nil
	})
}

// StopResult reports the outcome of a user-initiated stop. AlreadyStopped is set, with no entry,
// when a concurrent stop (usually the sweep) removed the timer first.
type StopResult struct {
	Entry          *TimeEntry
	AlreadyStopped bool
}

// Stop finalizes the timer into a TimeEntry and removes it.
func (s *Service) Stop(ctx context.Context, organizationID, userID string) (*StopResult, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		current, err := s.repo.FindActive(ctx, organizationID, userID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			if attempt == 0 {
				return nil, &InvalidStateError{Action: ActionStop, Reason: "no active timer"}
			}
			return &StopResult{AlreadyStopped: true}, nil
		}

		policy, err := s.policies.Resolve(ctx, current.OrganizationID, current.ProjectID)
		if err != nil {
			return nil, err
		}
		if policy == nil {
			policy = &EffectiveTimePolicy{OrganizationID: current.OrganizationID, Source: PolicySourceDefault}
		}

		now := s.now().UTC()
		endTime := now
		if current.IsPaused && current.PausedAt != nil {
			endTime = current.PausedAt.UTC()
		}

		entry, err := s.materializer.Materialize(ctx, MaterializeInput{
			Timer:            *current,
			DurationMin:      FinalDurationMinutes(current.ElapsedMinutes(now), policy.Rounding),
			EndTime:          endTime,
			RequiresApproval: policy.RequiresApproval(),
			Source:           EntrySourceTimer,
		})
		if errors.Is(err, ErrTimerGone) {
			observability.RecordConcurrentRetry(string(ActionStop))
			continue
		}
		if err != nil {
			s.logger.Error("timer stop failed", "timer_id", current.ID, "error", err)
			return nil, err
		}

		observability.RecordTimerTransition(string(ActionStop))
		s.logger.Info("timer stopped", "timer_id", current.ID, "entry_id", entry.ID, "duration_min", entry.DurationMin)
		return &StopResult{Entry: entry}, nil
	}
	return nil, ErrConcurrentModification
}

func (s *Service) mutate(ctx context.Context, organizationID, userID string, action Action, fn func(*ActiveTimer, time.Time) error) (*ActiveTimer, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		current, err := s.repo.FindActive(ctx, organizationID, userID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, &InvalidStateError{Action: action, Reason: "no active timer"}
		}

		now := s.now().UTC()
		next := current.Clone()
		if err := fn(&next, now); err != nil {
			return nil, err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = now

		saved, err := s.repo.Save(ctx, next, current.Version)
		if err != nil {
			return nil, err
		}
		if saved {
			observability.RecordTimerTransition(string(action))
			s.logger.Info("timer updated", "timer_id", next.ID, "action", string(action), "version", next.Version)
			return &next, nil
		}
		observability.RecordConcurrentRetry(string(action))
	}
	return nil, ErrConcurrentModification
}
