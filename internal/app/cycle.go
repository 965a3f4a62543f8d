package app

import (
	"fmt"
	"time"

	"tailbot/internal/store"
)

// PeriodStart buckets a wall-clock instant into the cycle containing it.
func PeriodStart(now time.Time, intervalSeconds int64) int64 {
	return now.Unix() / intervalSeconds * intervalSeconds
}

// CycleSlug builds the deterministic per-cycle market slug.
func CycleSlug(template string, periodStart int64) string {
	return fmt.Sprintf("%s-%d", template, periodStart)
}

// WindowStart is the first instant of the strategy's trade window in a cycle.
func WindowStart(s *store.Strategy, periodStart int64) int64 {
	return periodStart + s.WindowStartSeconds
}

// WindowEnd is the first instant past the strategy's trade window. The
// window is half-open: [WindowStart, WindowEnd).
func WindowEnd(s *store.Strategy, periodStart int64) int64 {
	return periodStart + s.WindowEndSeconds
}

// CycleEnd is the first instant of the next cycle.
func CycleEnd(s *store.Strategy, periodStart int64) int64 {
	return periodStart + s.IntervalSeconds
}

// InWindow reports whether now falls inside the strategy's trade window
// for the given cycle.
func InWindow(s *store.Strategy, periodStart int64, now time.Time) bool {
	t := now.Unix()
	return t >= WindowStart(s, periodStart) && t < WindowEnd(s, periodStart)
}
