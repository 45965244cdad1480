// Package mission defines the domain model for orchestrated campaign runs:
// missions, their tasks, autonomy configuration, and run records.
package mission

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/total-audio/autopilot/internal/confidence"
)

// Mode controls how much gating authority is delegated from human review
// to the autonomy gate.
type Mode string

const (
	// ModeSuggest only proposes actions; every task is queued for review.
	ModeSuggest Mode = "suggest"

	// ModeSemiAuto auto-approves tasks whose confidence clears the risk tolerance.
	ModeSemiAuto Mode = "semi_auto"

	// ModeFullAuto auto-approves above the risk tolerance and rejects
	// outright below the safety floor, with no human in the loop.
	ModeFullAuto Mode = "full_auto"
)

// Status represents the mission lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TaskStatus represents the lifecycle state of a single task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskRejected   TaskStatus = "rejected"
)

// Terminal reports whether a task status is final. Terminal tasks are
// immutable.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskRejected:
		return true
	}
	return false
}

// ErrInvalidMission indicates an operation was attempted against a mission
// that does not exist or is not in a state that allows it.
var ErrInvalidMission = errors.New("invalid mission")

// Config holds a mission's autonomy thresholds.
type Config struct {
	// RiskTolerance is the confidence threshold above which semi_auto and
	// full_auto missions auto-approve a task. Must be in [0,1].
	RiskTolerance float64 `json:"risk_tolerance" yaml:"risk_tolerance"`

	// SafetyFloor is the absolute cutoff for full_auto missions. Tasks
	// scoring below it are rejected rather than queued. Must be in
	// [0, RiskTolerance].
	SafetyFloor float64 `json:"safety_floor" yaml:"safety_floor"`
}

// Validate checks that the thresholds form a coherent gate configuration.
// Invalid configuration is rejected at mission creation, never at decision
// time.
func (c Config) Validate() error {
	if c.RiskTolerance < 0 || c.RiskTolerance > 1 {
		return fmt.Errorf("%w: risk_tolerance %.3f outside [0,1]", ErrInvalidMission, c.RiskTolerance)
	}
	if c.SafetyFloor < 0 || c.SafetyFloor > 1 {
		return fmt.Errorf("%w: safety_floor %.3f outside [0,1]", ErrInvalidMission, c.SafetyFloor)
	}
	if c.SafetyFloor > c.RiskTolerance {
		return fmt.Errorf("%w: safety_floor %.3f exceeds risk_tolerance %.3f",
			ErrInvalidMission, c.SafetyFloor, c.RiskTolerance)
	}
	return nil
}

// Mission is the aggregate root binding a set of tasks, an autonomy mode,
// a risk-tolerance configuration, and its run history.
type Mission struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Mode      Mode      `json:"mode"`
	Status    Status    `json:"status"`
	Config    Config    `json:"config"`
	Replay    bool      `json:"replay"` // true when created by the replay engine
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks mode and config at creation time.
func (m *Mission) Validate() error {
	switch m.Mode {
	case ModeSuggest, ModeSemiAuto, ModeFullAuto:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidMission, m.Mode)
	}
	return m.Config.Validate()
}

// Dispatchable reports whether the scheduler may hand out new tasks for
// this mission. Paused and failed missions stop dispatch cooperatively;
// in-flight tasks still run to completion.
func (m *Mission) Dispatchable() bool {
	return m.Status == StatusActive
}

// Task is one unit of agent work.
type Task struct {
	ID          string                `json:"id"`
	MissionID   string                `json:"mission_id"`
	AgentRole   string                `json:"agent_role"`
	Type        string                `json:"type"`
	Input       json.RawMessage       `json:"input"`
	Output      json.RawMessage       `json:"output,omitempty"`
	Status      TaskStatus            `json:"status"`
	Priority    int                   `json:"priority"`
	Sequence    int                   `json:"sequence"`
	Confidence  float64               `json:"confidence"`
	Breakdown   *confidence.Breakdown `json:"breakdown,omitempty"`
	Decision    string                `json:"decision,omitempty"`
	Error       string                `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// RunStatus represents the outcome of one dispatch pass over a mission.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
)

// TriggerType records what started a run.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
	TriggerReplay   TriggerType = "replay"
)

// Run records one execution pass of a mission. Telemetry events reference
// the run they were emitted under, which is what the replay engine loads.
type Run struct {
	ID         string      `json:"id"`
	MissionID  string      `json:"mission_id"`
	Trigger    TriggerType `json:"trigger_type"`
	Status     RunStatus   `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Summary    *RunSummary `json:"summary,omitempty"`
}

// RunSummary is derived from the run's tasks when the run finishes.
type RunSummary struct {
	TasksExecuted  int   `json:"tasks_executed"`
	TasksSucceeded int   `json:"tasks_succeeded"`
	TasksFailed    int   `json:"tasks_failed"`
	TasksRejected  int   `json:"tasks_rejected"`
	DurationMs     int64 `json:"duration_ms"`
}
