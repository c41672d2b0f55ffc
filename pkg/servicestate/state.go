// Package servicestate tracks the observed health of remote WFS endpoints
// and gates new fetch operations against services that look down. State is
// shared across processes via Redis, so a fleet of fetch jobs stops
// hammering a dead GeoServer together.
package servicestate

import (
	"time"
)

// Thresholds for availability decisions.
const (
	// FailureThresholdBlock suspends new fetches against an endpoint once
	// this many consecutive transport failures were recorded.
	FailureThresholdBlock = 5

	// FailureThresholdWarn marks an endpoint degraded.
	FailureThresholdWarn = 3

	// ProbeCooldown is how long after the last failure a blocked endpoint
	// is given another chance.
	ProbeCooldown = 60 * time.Second
)

// State is the recorded availability of one endpoint.
type State struct {
	// ConsecutiveFailures counts transport-level fetch failures since the
	// last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastFailure is when the most recent failure was recorded.
	LastFailure time.Time `json:"last_failure"`

	// LastSuccess is when the most recent success was recorded.
	LastSuccess time.Time `json:"last_success"`
}

// IsHealthy returns true when the endpoint is below the warning threshold.
func (s *State) IsHealthy() bool {
	return s.ConsecutiveFailures < FailureThresholdWarn
}

// IsBlocked returns true when new fetches should not be started. A blocked
// endpoint becomes probeable again after the cooldown elapses.
func (s *State) IsBlocked(now time.Time) bool {
	if s.ConsecutiveFailures < FailureThresholdBlock {
		return false
	}
	return now.Sub(s.LastFailure) < ProbeCooldown
}
