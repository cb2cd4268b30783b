package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestElapsedMinutesMonotonicWhileRunning(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	prev := -1.0
	for i := 0; i <= 120; i += 7 {
		now := start.Add(time.Duration(i) * time.Minute)
		got := ElapsedMinutes(start, 5, now, false, nil)
		require.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestElapsedMinutesFrozenWhilePaused(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	pausedAt := start.Add(40 * time.Minute)

	first := ElapsedMinutes(start, 10, pausedAt.Add(time.Minute), true, &pausedAt)
	later := ElapsedMinutes(start, 10, pausedAt.Add(3*time.Hour), true, &pausedAt)
	require.Equal(t, 30.0, first)
	require.Equal(t, first, later)
}

func TestElapsedMinutesClampsToZero(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	require.Equal(t, 0.0, ElapsedMinutes(start, 0, start.Add(-time.Minute), false, nil))
	require.Equal(t, 0.0, ElapsedMinutes(start, 30, start.Add(10*time.Minute), false, nil))
}

func TestApplyRounding(t *testing.T) {
	nearest := RoundingRules{Enabled: true, IncrementMinutes: 15}
	up := RoundingRules{Enabled: true, IncrementMinutes: 15, RoundUp: true}

	cases := []struct {
		name    string
		minutes float64
		rule    RoundingRules
		want    float64
	}{
		{"disabled", 22, RoundingRules{IncrementMinutes: 15}, 22},
		{"zero increment", 22, RoundingRules{Enabled: true}, 22},
		{"negative increment", 22, RoundingRules{Enabled: true, IncrementMinutes: -5}, 22},
		{"nearest down", 22, nearest, 15},
		{"nearest up", 23, nearest, 30},
		{"exact half rounds down", 22.5, nearest, 15},
		{"already aligned", 30, nearest, 30},
		{"round up", 16, up, 30},
		{"round up aligned", 45, up, 45},
		{"zero", 0, up, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ApplyRounding(tc.minutes, tc.rule))
		})
	}
}

func TestApplyRoundingIdempotent(t *testing.T) {
	rules := []RoundingRules{
		{Enabled: true, IncrementMinutes: 6},
		{Enabled: true, IncrementMinutes: 15, RoundUp: true},
		{Enabled: true, IncrementMinutes: 10},
	}
	for _, rule := range rules {
		for m := 0.0; m < 200; m += 3.7 {
			once := ApplyRounding(m, rule)
			require.Equal(t, once, ApplyRounding(once, rule))
		}
	}
}

func TestFinalDurationMinutesRoundsToWholeMinutes(t *testing.T) {
	require.Equal(t, 20, FinalDurationMinutes(19.6, RoundingRules{}))
	require.Equal(t, 19, FinalDurationMinutes(19.4, RoundingRules{}))
	require.Equal(t, 30, FinalDurationMinutes(19.4, RoundingRules{Enabled: true, IncrementMinutes: 15, RoundUp: true}))
}

func TestSessionBoundaryIncludesPausedTime(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	timer := ActiveTimer{StartTime: start, TotalPausedMinutes: 30}

	require.Equal(t, start.Add(8*time.Hour+30*time.Minute), SessionBoundary(timer, 480))
}

func TestParseAction(t *testing.T) {
	action, err := ParseAction(" Pause ")
	require.NoError(t, err)
	require.Equal(t, ActionPause, action)

	_, err = ParseAction("start")
	require.ErrorIs(t, err, ErrValidation)
}
