package domain

import (
	"math"
	"time"
)

// ElapsedMinutes computes the billable minutes of a session. While paused the clock is frozen at
// pausedAt. The result is clamped to zero so clock skew never yields negative time.
func ElapsedMinutes(start time.Time, totalPausedMinutes float64, now time.Time, isPaused bool, pausedAt *time.Time) float64 {
	reference := now
	if isPaused && pausedAt != nil {
		reference = *pausedAt
	}
	raw := reference.Sub(start).Minutes()
	return math.Max(0, raw-totalPausedMinutes)
}

// ApplyRounding quantizes minutes to the rule's increment. With RoundUp the value is rounded up to
// the next multiple; otherwise it goes to the nearest multiple and exact halves round down.
// A disabled rule or a non-positive increment returns the input unchanged.
func ApplyRounding(minutes float64, rule RoundingRules) float64 {
	if !rule.Enabled || rule.IncrementMinutes <= 0 {
		return minutes
	}
	increment := float64(rule.IncrementMinutes)
	steps := minutes / increment
	if rule.RoundUp {
		return math.Ceil(steps) * increment
	}
	whole := math.Floor(steps)
	if steps-whole > 0.5 {
		whole++
	}
	return whole * increment
}

// FinalDurationMinutes applies rounding and converts to whole minutes for storage.
func FinalDurationMinutes(minutes float64, rule RoundingRules) int {
	return int(math.Round(ApplyRounding(minutes, rule)))
}

// SessionBoundary is the wall-clock instant at which timer crossed capMinutes of billable time.
func SessionBoundary(timer ActiveTimer, capMinutes float64) time.Time {
	return timer.StartTime.Add(time.Duration((capMinutes + timer.TotalPausedMinutes) * float64(time.Minute)))
}
