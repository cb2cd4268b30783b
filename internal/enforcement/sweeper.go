// Package enforcement force-stops active timers that outlive their session policy, independently
// of whether the client ever calls stop.
package enforcement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/timetracking/internal/domain"
)

// Outcome classifies what the sweep did with one timer.
type Outcome string

const (
	OutcomeStopped Outcome = "stopped"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// TimerResult is the per-timer record of a sweep.
type TimerResult struct {
	TimerID        string
	UserID         string
	OrganizationID string
	Outcome        Outcome
	Reason         string
	EntryID        string
	Err            error
}

// SweepError is a per-timer failure surfaced in the summary.
type SweepError struct {
	TimerID string
	UserID  string
	Message string
}

// Summary aggregates one sweep. A sweep never fails as a whole because of a single timer.
type Summary struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	TotalChecked int
	Stopped      int
	Skipped      int
	Errors       []SweepError
	Results      []TimerResult
}

const (
	defaultConcurrency = 8
	defaultItemTimeout = 30 * time.Second
)

// Option configures optional behaviour for the Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithLogger overrides the logger used to report per-timer outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithConcurrency bounds how many timers are enforced in parallel.
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithItemTimeout bounds the work done for a single timer, notifications included.
func WithItemTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.itemTimeout = d
		}
	}
}

// Sweeper reconciles every active timer against its effective policy.
type Sweeper struct {
	timers       domain.TimerRepository
	settings     domain.SettingsStore
	policies     *domain.PolicyResolver
	materializer *domain.Materializer
	notifier     domain.Notifier
	preferences  domain.NotificationPreferences

	now              func() time.Time
	logger           *slog.Logger
	concurrency      int
	itemTimeout      time.Duration
	shutdownComplete chan struct{}
}

// NewSweeper constructs a Sweeper.
func NewSweeper(timers domain.TimerRepository, settings domain.SettingsStore, notifier domain.Notifier, preferences domain.NotificationPreferences, opts ...Option) *Sweeper {
	s := &Sweeper{
		timers:           timers,
		settings:         settings,
		policies:         domain.NewPolicyResolver(settings),
		notifier:         notifier,
		preferences:      preferences,
		now:              time.Now,
		logger:           slog.Default(),
		concurrency:      defaultConcurrency,
		itemTimeout:      defaultItemTimeout,
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = domain.NopNotifier{}
	}
	s.materializer = domain.NewMaterializer(timers, s.now)
	return s
}

// Start runs a sweep immediately and then on every interval until ctx is cancelled. It should be
// called in a goroutine.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		close(s.shutdownComplete)
	}()

	for {
		summary, err := s.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("sweep failed", "error", err)
		} else if err == nil {
			s.logger.Info("sweep completed",
				"checked", summary.TotalChecked,
				"stopped", summary.Stopped,
				"skipped", summary.Skipped,
				"errors", len(summary.Errors),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until Start returns.
func (s *Sweeper) Wait() {
	<-s.shutdownComplete
}

// Run performs one sweep. The error is non-nil only when the timer list itself cannot be loaded.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	summary := Summary{StartedAt: s.now().UTC()}

	timers, err := s.timers.ListAll(ctx)
	if err != nil {
		return summary, fmt.Errorf("list active timers: %w", err)
	}

	results := make([]TimerResult, len(timers))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for i := range timers {
		i := i
		group.Go(func() error {
			results[i] = s.enforceIsolated(groupCtx, timers[i])
			return nil
		})
	}
	_ = group.Wait()

	summary.TotalChecked = len(timers)
	summary.Results = results
	for _, res := range results {
		recordOutcome(res.Outcome)
		switch res.Outcome {
		case OutcomeStopped:
			summary.Stopped++
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeError:
			summary.Errors = append(summary.Errors, SweepError{TimerID: res.TimerID, UserID: res.UserID, Message: res.Err.Error()})
		}
	}
	summary.FinishedAt = s.now().UTC()
	recordSweep(summary)
	return summary, nil
}

// enforceIsolated gives each timer its own deadline and turns a panic into that timer's error.
func (s *Sweeper) enforceIsolated(ctx context.Context, timer domain.ActiveTimer) (result TimerResult) {
	itemCtx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = s.failed(timer, fmt.Errorf("panic during enforcement: %v", r))
		}
	}()
	return s.enforce(itemCtx, timer)
}

func (s *Sweeper) enforce(ctx context.Context, timer domain.ActiveTimer) TimerResult {
	organizationID, projectID, err := s.resolveScope(ctx, timer)
	if err != nil {
		return s.failed(timer, err)
	}

	policy, err := s.policies.Resolve(ctx, organizationID, projectID)
	if err != nil {
		return s.failed(timer, err)
	}
	if policy == nil {
		return s.skipped(timer, "organization not found")
	}
	capMinutes, enforced := policy.SessionCapMinutes()
	if !enforced {
		return s.skipped(timer, "no enforced session cap")
	}

	elapsed := timer.ElapsedMinutes(s.now().UTC())
	if elapsed < capMinutes {
		return s.skipped(timer, "within session limit")
	}

	entry, err := s.materializer.Materialize(ctx, domain.MaterializeInput{
		Timer:            timer,
		OrganizationID:   organizationID,
		ProjectID:        projectID,
		DurationMin:      domain.FinalDurationMinutes(capMinutes, policy.Rounding),
		EndTime:          domain.SessionBoundary(timer, capMinutes),
		RequiresApproval: policy.RequiresApproval(),
		Source:           domain.EntrySourceAutoStop,
	})
	if errors.Is(err, domain.ErrTimerGone) {
		return s.skipped(timer, "timer stopped or changed concurrently")
	}
	if err != nil {
		return s.failed(timer, err)
	}

	s.logger.Info("timer auto-stopped",
		"timer_id", timer.ID,
		"user_id", timer.UserID,
		"organization_id", organizationID,
		"entry_id", entry.ID,
		"duration_min", entry.DurationMin,
		"elapsed_min", elapsed,
	)

	if entry.DurationMin > 0 {
		s.notify(ctx, *entry, *policy)
	}

	return TimerResult{
		TimerID:        timer.ID,
		UserID:         timer.UserID,
		OrganizationID: organizationID,
		Outcome:        OutcomeStopped,
		EntryID:        entry.ID,
	}
}

// resolveScope fills in the organization from the project when the timer lacks it.
func (s *Sweeper) resolveScope(ctx context.Context, timer domain.ActiveTimer) (string, string, error) {
	if timer.OrganizationID != "" {
		return timer.OrganizationID, timer.ProjectID, nil
	}
	if timer.ProjectID == "" {
		return "", "", &domain.PolicyUnresolvedError{TimerID: timer.ID, Reason: "timer has no organization or project reference"}
	}
	project, err := s.settings.GetProject(ctx, "", timer.ProjectID)
	if err != nil {
		return "", "", &domain.PolicyUnresolvedError{TimerID: timer.ID, Reason: err.Error()}
	}
	if project == nil || project.OrganizationID == "" {
		return "", "", &domain.PolicyUnresolvedError{TimerID: timer.ID, Reason: "project has no organization"}
	}
	return project.OrganizationID, timer.ProjectID, nil
}

func (s *Sweeper) notify(ctx context.Context, entry domain.TimeEntry, policy domain.EffectiveTimePolicy) {
	data := map[string]any{
		"timeEntryId": entry.ID,
		"timerId":     entry.TimerID,
		"projectId":   entry.ProjectID,
		"durationMin": entry.DurationMin,
		"endTime":     entry.EndTime.Format(time.RFC3339),
	}

	s.send(ctx, entry, domain.Notification{
		UserID:         entry.UserID,
		OrganizationID: entry.OrganizationID,
		Type:           domain.CategoryTimerAutoStopped,
		Title:          "Timer automatically stopped",
		Message:        fmt.Sprintf("Your timer reached the %s session limit and was stopped. %d minutes were recorded.", formatHours(policy.MaxSessionHours), entry.DurationMin),
		Data:           data,
		SendEmail:      true,
		SendPush:       true,
	})

	if policy.RequiresApproval() {
		s.send(ctx, entry, domain.Notification{
			UserID:         entry.UserID,
			OrganizationID: entry.OrganizationID,
			Type:           domain.CategoryApprovalNeeded,
			Title:          "Time entry needs approval",
			Message:        fmt.Sprintf("An automatically stopped time entry of %d minutes is waiting for approval.", entry.DurationMin),
			Data:           data,
			SendEmail:      false,
			SendPush:       true,
		})
	}
}

// send checks the category toggle and delivers. Failures are logged and swallowed.
func (s *Sweeper) send(ctx context.Context, entry domain.TimeEntry, n domain.Notification) {
	enabled, err := s.preferences.CategoryEnabled(ctx, entry.OrganizationID, entry.ProjectID, n.Type)
	if err != nil {
		s.notificationFailed(entry, &domain.NotificationError{Category: n.Type, Err: err})
		return
	}
	if !enabled {
		return
	}
	if err := s.notifier.CreateNotification(ctx, n); err != nil {
		s.notificationFailed(entry, &domain.NotificationError{Category: n.Type, Err: err})
	}
}

func (s *Sweeper) notificationFailed(entry domain.TimeEntry, err *domain.NotificationError) {
	recordNotificationFailure(string(err.Category))
	s.logger.Warn("notification failed", "timer_id", entry.TimerID, "entry_id", entry.ID, "user_id", entry.UserID, "error", err)
}

func (s *Sweeper) skipped(timer domain.ActiveTimer, reason string) TimerResult {
	return TimerResult{
		TimerID:        timer.ID,
		UserID:         timer.UserID,
		OrganizationID: timer.OrganizationID,
		Outcome:        OutcomeSkipped,
		Reason:         reason,
	}
}

func (s *Sweeper) failed(timer domain.ActiveTimer, err error) TimerResult {
	s.logger.Error("timer enforcement failed",
		"timer_id", timer.ID,
		"user_id", timer.UserID,
		"organization_id", timer.OrganizationID,
		"error", err,
	)
	return TimerResult{
		TimerID:        timer.ID,
		UserID:         timer.UserID,
		OrganizationID: timer.OrganizationID,
		Outcome:        OutcomeError,
		Reason:         "enforcement error",
		Err:            err,
	}
}

func formatHours(hours *float64) string {
	if hours == nil {
		return "configured"
	}
	return fmt.Sprintf("%g-hour", *hours)
}
