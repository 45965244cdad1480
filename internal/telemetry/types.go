// Package telemetry records per-task execution events and derives read-side
// projections from them. Events are append-only facts; every aggregate is
// recomputed from the event log, never mutated in place, so summaries can
// be reproduced identically at any time — which is what makes replay
// comparisons meaningful.
package telemetry

import "time"

// Event is an immutable record of one task execution attempt.
type Event struct {
	ID         string    `json:"id"`
	MissionID  string    `json:"mission_id"`
	RunID      string    `json:"run_id"`
	TaskID     string    `json:"task_id"`
	AgentRole  string    `json:"agent_role"`
	LatencyMs  int64     `json:"latency_ms"`
	Confidence float64   `json:"confidence"`
	Success    bool      `json:"success"`
	Approved   bool      `json:"approved"`
	Decision   string    `json:"decision"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summary is a pure projection over a mission's events. Empty event sets
// yield zero values, never NaN or an error.
type Summary struct {
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	AvgConfidence float64 `json:"avg_confidence"`
	SuccessRate   float64 `json:"success_rate"`
	ApprovalRate  float64 `json:"approval_rate"`
	TotalEvents   int     `json:"total_events"`
}

// AgentPerformance is a read-side rollup per agent role within a mission.
// Derived from tasks and events; never a source of truth.
type AgentPerformance struct {
	AgentRole      string  `json:"agent_role"`
	TasksCompleted int     `json:"tasks_completed"`
	AvgConfidence  float64 `json:"avg_confidence"`
	Status         string  `json:"status"` // "idle" or "active"
}
