package enforcement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/timetracking/internal/domain"
	"example.com/timetracking/internal/persistence/memory"
)

var t0 = time.Date(2025, 4, 7, 8, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (r *recordingNotifier) CreateNotification(ctx context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) types() []domain.NotificationCategory {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.NotificationCategory, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Type)
	}
	return out
}

type blockingNotifier struct{}

func (blockingNotifier) CreateNotification(ctx context.Context, n domain.Notification) error {
	<-ctx.Done()
	return ctx.Err()
}

func hours(v float64) *float64 { return &v }
func flag(v bool) *bool        { return &v }

func seedOrg(store *memory.Store, id string, maxHours float64) {
	store.PutOrganization(domain.Organization{ID: id})
	store.PutSettings(domain.TimeTrackingSettings{OrganizationID: id, MaxSessionHours: hours(maxHours)})
}

func runningTimer(id, org, user string, start time.Time) domain.ActiveTimer {
	return domain.ActiveTimer{
		ID:             id,
		UserID:         user,
		OrganizationID: org,
		Description:    "Deep work",
		IsBillable:     true,
		StartTime:      start,
		Version:        1,
		CreatedAt:      start,
		UpdatedAt:      start,
	}
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func TestRunStopsTimerAtPausedAdjustedBoundary(t *testing.T) {
	store := memory.NewStore()
	seedOrg(store, "org-1", 8)
	timer := runningTimer("timer-1", "org-1", "user-1", t0)
	timer.TotalPausedMinutes = 30
	store.PutTimer(timer)
	notifier := &recordingNotifier{}

	sweeper := NewSweeper(store, store, notifier, store, WithClock(fixedClock(t0.Add(9*time.Hour))))
	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.TotalChecked)
	require.Equal(t, 1, summary.Stopped)
	require.Empty(t, summary.Errors)

	entries := store.Entries()
	require.Len(t, entries, 1)
	entry := entries[0]
	require.Equal(t, t0.Add(8*time.Hour+30*time.Minute), entry.EndTime)
	require.Equal(t, 480, entry.DurationMin)
	require.Equal(t, domain.EntrySourceAutoStop, entry.Source)
	require.Equal(t, "timer-1", entry.TimerID)
	require.True(t, entry.IsApproved)
	require.Equal(t, summary.Results[0].EntryID, entry.ID)

	active, err := store.FindActive(context.Background(), "org-1", "user-1")
	require.NoError(t, err)
	require.Nil(t, active)
	require.Equal(t, []domain.NotificationCategory{domain.CategoryTimerAutoStopped}, notifier.types())
}

func TestRunSkipsTimersWithinLimit(t *testing.T) {
	store := memory.NewStore()
	seedOrg(store, "org-1", 8)
	store.PutTimer(runningTimer("timer-1", "org-1", "user-1", t0))

	sweeper := NewSweeper(store, store, &recordingNotifier{}, store, WithClock(fixedClock(t0.Add(7*time.Hour+59*time.Minute))))
	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, OutcomeSkipped, summary.Results[0].Outcome)
	require.Empty(t, store.Entries())
}

func TestRunHonorsOvertimeExemption(t *testing.T) {
	store := memory.NewStore()
	store.PutOrganization(domain.Organization{ID: "org-1"})
	store.PutSettings(domain.TimeTrackingSettings{OrganizationID: "org-1", MaxSessionHours: hours(2), AllowOvertime: flag(true)})
	store.PutTimer(runningTimer("timer-1", "org-1", "user-1", t0))

	sweeper := NewSweeper(store, store, &recordingNotifier{}, store, WithClock(fixedClock(t0.Add(12*time.Hour))))
	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Empty(t, store.Entries())
}

func TestRunUsesProjectPolicyAndApproval(t *testing.T) {
	store := memory.NewStore()
	store.PutOrganization(domain.Organization{ID: "org-1"})
	store.PutSettings(domain.TimeTrackingSettings{OrganizationID: "org-1", MaxSessionHours: hours(8), RequireApproval: flag(false)})
	store.PutSettings(domain.TimeTrackingSettings{
		OrganizationID:  "org-1",
		ProjectID:       "proj-1",
		MaxSessionHours: hours(1.125),
		Rounding:        &domain.RoundingRules{Enabled: true, IncrementMinutes: 15, RoundUp: true},
	})
	store.PutProject(domain.Project{ID: "proj-1", OrganizationID: "org-1", Settings: domain.ProjectSettings{RequireApproval: flag(true)}})
	timer := runningTimer("timer-1", "org-1", "user-1", t0)
	timer.ProjectID = "proj-1"
	store.PutTimer(timer)
	notifier := &recordingNotifier{}

	sweeper := NewSweeper(store, store, notifier, store, WithClock(fixedClock(t0.Add(2*time.Hour))))
	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Stopped)

	entry := store.Entries()[0]
	require.Equal(t, 75, entry.DurationMin, "67.5 minutes round up to 75")
	require.Equal(t, t0.Add(67*time.Minute+30*time.Second), entry.EndTime)
	require.False(t, entry.IsApproved)
	require.ElementsMatch(t, []domain.NotificationCategory{domain.CategoryTimerAutoStopped, domain.CategoryApprovalNeeded}, notifier.types())
}

func TestRunFillsDefaultDescription(t *testing.T) {
	store := memory.NewStore()
	seedOrg(store, "org-1", 1)
	timer := runningTimer("timer-1", "org-1", "user-1", t0)
	timer.Description = " "
	store.PutTimer(timer)

	sweeper := NewSweeper(store, store, nil, store, WithClock(fixedClock(t0.Add(3*time.Hour))))
	_, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.DefaultAutoStopDescription, store.Entries()[0].Description)
}

func TestRunRespectsNotificationToggles(t *testing.T) {
	store := memory.NewStore()
	store.PutOrganization(domain.Organization{ID: "org-1"})
	store.PutSettings(domain.TimeTrackingSettings{OrganizationID: "org-1", MaxSessionHours: hours(1), RequireApproval: flag(true)})
	store.SetNotificationEnabled("org-1", "", domain.CategoryTimerAutoStopped, false)
	store.PutTimer(runningTimer("timer-1", "org-1", "user-1", t0))
	notifier := &recordingNotifier{}

	sweeper := NewSweeper(store, store, notifier, store, WithClock(fixedClock(t0.Add(2*time.Hour))))
	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Stopped)
	require.Equal(t, []domain.NotificationCategory{domain.CategoryApprovalNeeded}, notifier.types())
}

func TestRunSkipsNotificationsForZeroDuration(t *testing.T) {
	store := memory.NewStore()
	store.PutOrganization(domain.Organization{ID: "org-1"})
	store.PutSettings(domain.TimeTrackingSettings{
		OrganizationID:  "org-1",
		MaxSessionHours: hours(0.05),
		Rounding:        &domain.RoundingRules{Enabled: true, IncrementMinutes: 15},
	})
	store.PutTimer(runningTimer("timer-1", "org-1", "user-1", t0))
	notifier := &recordingNotifier{}

	sweeper := NewSweeper(store, store, notifier, store, WithClock(fixedClock(t0.Add(time.Hour))))
	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Stopped)
	require.Equal(t, 0, store.Entries()[0].DurationMin)
	require.Empty(t, notifier.types())
}

func TestRunNotificationFailureDoesNotFailStop(t *testing.T) {
	store := memory.NewStore()
	seedOrg(store, "org-1", 1)
	store.PutTimer(runningTimer("timer-1", "org-1", "user-1", t0))
	notifier := &recordingNotifier{err: errors.New("notification service down")}

	sweeper := NewSweeper(store, store, notifier, store, WithClock(fixedClock(t0.Add(2*time.Hour))))
	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Stopped)
	require.Empty(t, summary.Errors)
	require.Len(t, store.Entries(), 1)
}

func TestRunRecordsUnresolvedOrganization(t *testing.T) {
	store := memory.NewStore()
	seedOrg(store, "org-1", 1)
	orphan := runningTimer("timer-orphan", "", "user-2", t0)
	store.PutTimer(orphan)
	store.PutTimer(runningTimer("timer-1", "org-1", "user-1", t0))

	sweeper := NewSweeper(store, store, nil, store, WithClock(fixedClock(t0.Add(2*time.Hour))))
	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.TotalChecked)
	require.Equal(t, 1, summary.Stopped)
	require.Len(t, summary.Errors, 1)
	require.Equal(t, "timer-orphan", summary.Errors[0].TimerID)

	var unresolved *domain.PolicyUnresolvedError
	for _, res := range summary.Results {
		if res.TimerID == "timer-orphan" {
			require.ErrorAs(t, res.Err, &unresolved)
		}
	}
}

func TestRunResolvesOrganizationFromProject(t *testing.T) {
	store := memory.NewStore()
	seedOrg(store, "org-1", 1)
	store.PutProject(domain.Project{ID: "proj-1", OrganizationID: "org-1"})
	timer := runningTimer("timer-1", "", "user-1", t0)
	timer.ProjectID = "proj-1"
	store.PutTimer(timer)

	sweeper := NewSweeper(store, store, nil, store, WithClock(fixedClock(t0.Add(2*time.Hour))))
	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Stopped)
	require.Empty(t, summary.Errors)
	entries := store.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "org-1", entries[0].OrganizationID)
	require.Equal(t, "proj-1", entries[0].ProjectID)
	require.Equal(t, "timer-1", entries[0].TimerID)

	summary, err = sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.TotalChecked, "timer is gone after the first sweep")
}

func TestRunSkipsUnknownOrganization(t *testing.T) {
	store := memory.NewStore()
	store.PutTimer(runningTimer("timer-1", "org-gone", "user-1", t0))

	sweeper := NewSweeper(store, store, nil, store, WithClock(fixedClock(t0.Add(48*time.Hour))))
	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Empty(t, store.Entries())
}

func TestRunIsolatesHangingNotifier(t *testing.T) {
	store := memory.NewStore()
	seedOrg(store, "org-1", 1)
	for i, user := range []string{"user-1", "user-2", "user-3"} {
		store.PutTimer(runningTimer("timer-"+user, "org-1", user, t0.Add(time.Duration(i)*time.Minute)))
	}

	sweeper := NewSweeper(store, store, blockingNotifier{}, store,
		WithClock(fixedClock(t0.Add(5*time.Hour))),
		WithItemTimeout(50*time.Millisecond),
		WithConcurrency(2),
	)

	done := make(chan Summary, 1)
	go func() {
		summary, _ := sweeper.Run(context.Background())
		done <- summary
	}()

	select {
	case summary := <-done:
		require.Equal(t, 3, summary.Stopped)
		require.Len(t, store.Entries(), 3)
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not finish while notifier hung")
	}
}

type panickingPreferences struct{ domain.NotificationPreferences }

func (panickingPreferences) CategoryEnabled(context.Context, string, string, domain.NotificationCategory) (bool, error) {
	panic("boom")
}

func TestRunRecoversPanicsPerTimer(t *testing.T) {
	store := memory.NewStore()
	seedOrg(store, "org-1", 1)
	store.PutTimer(runningTimer("timer-1", "org-1", "user-1", t0))

	sweeper := NewSweeper(store, store, nil, panickingPreferences{}, WithClock(fixedClock(t0.Add(2*time.Hour))))
	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	require.Contains(t, summary.Errors[0].Message, "boom")
}

type failingList struct{ *memory.Store }

func (failingList) ListAll(context.Context) ([]domain.ActiveTimer, error) {
	return nil, errors.New("connection refused")
}

func TestRunFailsWhenTimersCannotBeListed(t *testing.T) {
	store := memory.NewStore()
	sweeper := NewSweeper(failingList{store}, store, nil, store)

	_, err := sweeper.Run(context.Background())
	require.ErrorContains(t, err, "connection refused")
}

func TestUserStopRacingSweepProducesOneEntry(t *testing.T) {
	for i := 0; i < 25; i++ {
		store := memory.NewStore()
		seedOrg(store, "org-1", 1)
		store.PutTimer(runningTimer("timer-1", "org-1", "user-1", t0))
		now := fixedClock(t0.Add(90 * time.Minute))

		svc := domain.NewService(store, store, domain.WithClock(now))
		sweeper := NewSweeper(store, store, nil, store, WithClock(now))

		var (
			wg        sync.WaitGroup
			stopRes   *domain.StopResult
			stopErr   error
			sweepSumm Summary
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			stopRes, stopErr = svc.Stop(context.Background(), "org-1", "user-1")
		}()
		go func() {
			defer wg.Done()
			sweepSumm, _ = sweeper.Run(context.Background())
		}()
		wg.Wait()

		require.Len(t, store.Entries(), 1)
		require.Empty(t, sweepSumm.Errors)
		if stopErr != nil {
			var invalid *domain.InvalidStateError
			require.ErrorAs(t, stopErr, &invalid, "user stop lost before reading the timer")
			require.Equal(t, 1, sweepSumm.Stopped)
			continue
		}
		if stopRes.AlreadyStopped {
			require.Equal(t, 1, sweepSumm.Stopped)
		} else {
			require.Equal(t, 0, sweepSumm.Stopped)
		}
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	sweeper := NewSweeper(store, store, nil, store)

	ctx, cancel := context.WithCancel(context.Background())
	go sweeper.Start(ctx, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()

	waited := make(chan struct{})
	go func() {
		sweeper.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
