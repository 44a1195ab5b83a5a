// Package ratelimit implements GitHub GraphQL quota tracking and request
// gating. Every API response carries a rateLimit block; the governor
// inspects it and pauses the harvest before the quota is exhausted.
package ratelimit

import (
	"time"
)

// Thresholds for rate limit decisions.
const (
	// DefaultLowWaterMark pauses the harvest when remaining quota falls
	// below this value. Small relative to the 5000 point ceiling.
	DefaultLowWaterMark = 50

	// ResetSafetyMargin is added on top of the wait until the quota
	// window resets, so the first request after the pause lands inside
	// the fresh window.
	ResetSafetyMargin = 2 * time.Second

	// checkpointInterval controls informational logging: one log line
	// per checkpointInterval remaining-quota steps.
	checkpointInterval = 100
)

// Snapshot is the quota state attached to a single API response.
// It is superseded by the next response and never persisted.
type Snapshot struct {
	// Remaining is the number of quota points left in the current window.
	Remaining int `json:"remaining"`

	// Limit is the quota ceiling for the window.
	Limit int `json:"limit"`

	// Cost is the point cost of the request that produced this snapshot.
	Cost int `json:"cost"`

	// ResetAt is the wall-clock instant the window resets.
	ResetAt time.Time `json:"resetAt"`
}

// TimeUntilReset returns the duration from now until the quota window
// resets. Returns 0 if the reset instant has already passed.
func (s Snapshot) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Exhausted returns true when remaining quota is below the given mark.
func (s Snapshot) Exhausted(lowWaterMark int) bool {
	return s.Remaining < lowWaterMark
}
