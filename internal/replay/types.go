// Package replay re-executes a recorded run deterministically and reports
// how much the outcome diverged from the historical record.
package replay

import (
	"errors"
	"time"
)

// ErrRunNotFound indicates the original run (or its mission) could not be
// loaded. This is the only per-request hard failure; per-task discrepancies
// are deviations, never errors.
var ErrRunNotFound = errors.New("original run not found")

// ValueUnavailable is recorded as the replay value when a task cannot be
// re-executed at all, e.g. its agent role was removed. Such tasks leave the
// match-percentage denominator.
const ValueUnavailable = "unavailable"

// Deviation is one field-level difference between the original run and the
// replay.
type Deviation struct {
	TaskID        string `json:"task_id"`
	Field         string `json:"field"` // "success", "confidence", "decision", "execution"
	OriginalValue string `json:"original_value"`
	ReplayValue   string `json:"replay_value"`
}

// Replay records one deterministic re-run. Immutable once computed; many
// replays may reference the same original run.
type Replay struct {
	ID              string      `json:"id"`
	MissionID       string      `json:"mission_id"`
	OriginalRunID   string      `json:"original_run_id"`
	ReplayRunID     string      `json:"replay_run_id"`
	MatchPercentage float64     `json:"match_percentage"`
	Deviations      []Deviation `json:"deviations"`
	CreatedAt       time.Time   `json:"created_at"`
}
