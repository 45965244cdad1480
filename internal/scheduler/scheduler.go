// Package scheduler assigns pending tasks to agent-role workers and drives
// task status transitions. Tasks for different roles execute in parallel;
// within a role they run FIFO, bounded by the role's concurrency limit.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/total-audio/autopilot/internal/agent"
	"github.com/total-audio/autopilot/internal/confidence"
	"github.com/total-audio/autopilot/internal/gate"
	"github.com/total-audio/autopilot/internal/logging"
	"github.com/total-audio/autopilot/internal/mission"
	"github.com/total-audio/autopilot/internal/telemetry"
)

// ErrNoWork indicates an empty pending queue for the requested role.
var ErrNoWork = errors.New("no pending work")

// Store is the persistence surface the scheduler needs.
type Store interface {
	GetMission(id string) (*mission.Mission, error)
	SaveMission(m *mission.Mission) error
	UpdateMissionStatus(id string, status mission.Status) error
	UpdateMission(id string, status *mission.Status, mode *mission.Mode, cfg *mission.Config) error

	SaveTask(t *mission.Task) error
	GetTask(id string) (*mission.Task, error)
	ClaimNextPending(role string) (*mission.Task, error)
	FinishTask(t *mission.Task) error
	TasksForMission(missionID string) ([]*mission.Task, error)
	OpenTaskCount(missionID string) (int, error)
	NextSequence(missionID string) (int, error)

	SaveRun(r *mission.Run) error
	CurrentRun(missionID string) (*mission.Run, error)
	FinishRun(id string, status mission.RunStatus, summary *mission.RunSummary) error
}

// Config controls scheduler behavior.
type Config struct {
	// DefaultConcurrency bounds in-flight tasks per role when the role has
	// no explicit limit. Tasks within a role stay FIFO at concurrency 1.
	DefaultConcurrency int `yaml:"default_concurrency"`

	// RoleConcurrency overrides the limit per agent role.
	RoleConcurrency map[string]int `yaml:"role_concurrency"`
}

// DefaultConfig returns default scheduler settings.
func DefaultConfig() *Config {
	return &Config{DefaultConcurrency: 1}
}

func (c *Config) concurrency(role string) int {
	if n, ok := c.RoleConcurrency[role]; ok && n > 0 {
		return n
	}
	if c.DefaultConcurrency > 0 {
		return c.DefaultConcurrency
	}
	return 1
}

// Scheduler owns the pending queues and the per-role workers. All mission
// and task mutations flow through it (or the gate); nothing else writes
// those records.
type Scheduler struct {
	config    *Config
	store     Store
	registry  *agent.Registry
	gate      *gate.Gate
	telemetry *telemetry.Engine

	workers map[string]*roleWorker
	mu      sync.RWMutex
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. Call Start to launch the role workers.
func New(store Store, registry *agent.Registry, g *gate.Gate, tel *telemetry.Engine, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:    config,
		store:     store,
		registry:  registry,
		gate:      g,
		telemetry: tel,
		workers:   make(map[string]*roleWorker),
		log:       logging.WithComponent("scheduler"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches a worker per registered role.
func (s *Scheduler) Start() {
	s.log.Info("Starting scheduler", slog.Any("roles", s.registry.Roles()))
	for _, role := range s.registry.Roles() {
		s.ensureWorker(role)
	}
}

// Stop gracefully stops all workers. In-flight tasks run to completion.
func (s *Scheduler) Stop() {
	s.log.Info("Stopping scheduler")
	s.cancel()
	s.wg.Wait()
	s.log.Info("Scheduler stopped")
}

// CreateMission validates and persists a new mission. Invalid autonomy
// configuration is rejected here, never at decision time.
func (s *Scheduler) CreateMission(m *mission.Mission) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = mission.StatusActive
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveMission(m); err != nil {
		return fmt.Errorf("failed to save mission: %w", err)
	}
	s.log.Info("Mission created",
		slog.String("mission_id", m.ID),
		slog.String("mode", string(m.Mode)),
		slog.Float64("risk_tolerance", m.Config.RiskTolerance),
	)
	return nil
}

// UpdateMission applies an operator's combined status, mode, and threshold
// change in one atomic write. Nil fields keep their current values; a mode
// change without new thresholds preserves the mission's configured risk
// tolerance and safety floor.
func (s *Scheduler) UpdateMission(missionID string, status *mission.Status, mode *mission.Mode, cfg *mission.Config) error {
	if status != nil {
		switch *status {
		case mission.StatusActive, mission.StatusPaused, mission.StatusCompleted, mission.StatusFailed:
		default:
			return fmt.Errorf("%w: unknown status %q", mission.ErrInvalidMission, *status)
		}
	}
	if err := s.store.UpdateMission(missionID, status, mode, cfg); err != nil {
		return err
	}
	if status != nil && *status == mission.StatusActive {
		s.signalAll()
	}
	return nil
}

// SetMissionStatus applies an operator's status change. Pausing or failing
// a mission stops new dispatch cooperatively; in-flight tasks finish and
// their results are still recorded.
func (s *Scheduler) SetMissionStatus(missionID string, status mission.Status) error {
	return s.UpdateMission(missionID, &status, nil, nil)
}

// Enqueue adds a pending task to an active mission and wakes the role's
// worker. Fails with ErrInvalidMission when the mission is missing or not
// active.
func (s *Scheduler) Enqueue(ctx context.Context, missionID string, t *mission.Task) (string, error) {
	m, err := s.store.GetMission(missionID)
	if err != nil {
		return "", err
	}
	if !m.Dispatchable() {
		return "", fmt.Errorf("%w: mission %s is %s, not active", mission.ErrInvalidMission, missionID, m.Status)
	}
	if t.AgentRole == "" {
		return "", fmt.Errorf("%w: task has no agent role", mission.ErrInvalidMission)
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.MissionID = missionID
	t.Status = mission.TaskPending
	seq, err := s.store.NextSequence(missionID)
	if err != nil {
		return "", fmt.Errorf("failed to assign sequence: %w", err)
	}
	t.Sequence = seq

	if err := s.store.SaveTask(t); err != nil {
		return "", fmt.Errorf("failed to save task: %w", err)
	}

	s.log.Info("Task queued",
		slog.String("task_id", t.ID),
		slog.String("mission_id", missionID),
		slog.String("agent_role", t.AgentRole),
	)

	s.signalRole(t.AgentRole)
	return t.ID, nil
}

// DispatchNext pops the oldest pending task for the role, executes it via
// the registered executor, and reports the result through the scoring and
// gating pipeline. Returns ErrNoWork when the role's queue is empty.
func (s *Scheduler) DispatchNext(ctx context.Context, role string) error {
	t, err := s.store.ClaimNextPending(role)
	if err == sql.ErrNoRows {
		return ErrNoWork
	}
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}

	m, err := s.store.GetMission(t.MissionID)
	if err != nil {
		// The task is claimed; fail it rather than strand it in_progress.
		t.Status = mission.TaskFailed
		t.Error = err.Error()
		_ = s.store.FinishTask(t)
		return fmt.Errorf("failed to load mission for task %s: %w", t.ID, err)
	}

	run, err := s.ensureRun(m.ID, mission.TriggerManual)
	if err != nil {
		return fmt.Errorf("failed to ensure run: %w", err)
	}

	s.log.Info("Dispatching task",
		slog.String("task_id", t.ID),
		slog.String("agent_role", role),
		slog.String("mission_id", m.ID),
	)

	var res *agent.Result
	start := time.Now()
	exec, err := s.registry.Lookup(role)
	if err == nil {
		res, err = exec.Execute(ctx, t.Input)
	}
	latency := time.Since(start).Milliseconds()

	return s.reportResult(m, run, t, res, err, latency)
}

// ReportResult is the entry point for asynchronous executors: it applies
// the result of an already-dispatched task. execErr marks a failure of the
// execution capability itself.
func (s *Scheduler) ReportResult(ctx context.Context, taskID string, res *agent.Result, execErr error, latencyMs int64) error {
	t, err := s.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is already terminal", taskID)
	}
	m, err := s.store.GetMission(t.MissionID)
	if err != nil {
		return err
	}
	run, err := s.ensureRun(m.ID, mission.TriggerManual)
	if err != nil {
		return err
	}
	return s.reportResult(m, run, t, res, execErr, latencyMs)
}

// EvaluateResult runs one execution result through the confidence scorer
// and the autonomy gate, returning the score, the gate decision, and the
// task's terminal status. The replay engine reuses this so live and
// replayed runs share one pipeline.
func EvaluateResult(g *gate.Gate, m *mission.Mission, res *agent.Result) (confidence.Score, gate.Decision, mission.TaskStatus, error) {
	score, err := confidence.Compute(res.Breakdown)
	if err != nil {
		return confidence.Score{}, "", "", err
	}

	decision := g.Decide(m.Mode, m.Config, score.Value)

	status := mission.TaskCompleted
	switch {
	case !res.Success:
		// Execution failure takes precedence over the gate's verdict.
		status = mission.TaskFailed
	case decision == gate.Rejected:
		// The execution itself succeeded; only its authorization failed.
		status = mission.TaskRejected
	}
	return score, decision, status, nil
}

// reportResult finishes the task, records exactly one telemetry event for
// the attempt, and closes out the run when the mission has no open tasks
// left. Errors local to this task never halt the mission or other tasks.
func (s *Scheduler) reportResult(m *mission.Mission, run *mission.Run, t *mission.Task, res *agent.Result, execErr error, latencyMs int64) error {
	ev := telemetry.Event{
		MissionID: m.ID,
		RunID:     run.ID,
		TaskID:    t.ID,
		AgentRole: t.AgentRole,
		LatencyMs: latencyMs,
	}

	var reportErr error
	switch {
	case execErr != nil || res == nil:
		if execErr == nil {
			execErr = errors.New("executor returned no result")
		}
		t.Status = mission.TaskFailed
		t.Error = execErr.Error()
		reportErr = execErr
		s.log.Warn("Task execution failed",
			slog.String("task_id", t.ID),
			slog.Any("error", execErr),
		)
	default:
		score, decision, status, err := EvaluateResult(s.gate, m, res)
		if err != nil {
			// Malformed confidence evidence from the executor. Surfaced to
			// the caller, and the task fails rather than stranding.
			t.Status = mission.TaskFailed
			t.Error = err.Error()
			reportErr = err
		} else {
			t.Status = status
			t.Output = res.Output
			t.Confidence = score.Value
			t.Breakdown = &score.Breakdown
			t.Decision = string(decision)
			t.Error = res.Error
			ev.Confidence = score.Value
			ev.Success = res.Success
			ev.Approved = decision.Approved()
			ev.Decision = string(decision)
		}
	}

	if err := s.store.FinishTask(t); err != nil {
		return fmt.Errorf("failed to finish task %s: %w", t.ID, err)
	}

	// Every transition emits exactly one telemetry event.
	if err := s.telemetry.Record(ev); err != nil {
		s.log.Error("Failed to record telemetry event",
			slog.String("task_id", t.ID),
			slog.Any("error", err),
		)
	}

	if err := s.maybeFinishRun(m, run); err != nil {
		s.log.Error("Failed to finish run",
			slog.String("run_id", run.ID),
			slog.Any("error", err),
		)
	}

	return reportErr
}

// ensureRun returns the mission's current run, creating one lazily on the
// first dispatch of a pass.
func (s *Scheduler) ensureRun(missionID string, trigger mission.TriggerType) (*mission.Run, error) {
	run, err := s.store.CurrentRun(missionID)
	if err != nil {
		return nil, err
	}
	if run != nil {
		return run, nil
	}
	run = &mission.Run{
		ID:        uuid.New().String(),
		MissionID: missionID,
		Trigger:   trigger,
		Status:    mission.RunRunning,
	}
	if err := s.store.SaveRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

// maybeFinishRun closes the run and completes the mission once every task
// has reached a terminal state.
func (s *Scheduler) maybeFinishRun(m *mission.Mission, run *mission.Run) error {
	open, err := s.store.OpenTaskCount(m.ID)
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}

	tasks, err := s.store.TasksForMission(m.ID)
	if err != nil {
		return err
	}

	summary := &mission.RunSummary{
		DurationMs: time.Since(run.StartedAt).Milliseconds(),
	}
	for _, t := range tasks {
		switch t.Status {
		case mission.TaskCompleted:
			summary.TasksSucceeded++
		case mission.TaskFailed:
			summary.TasksFailed++
		case mission.TaskRejected:
			summary.TasksRejected++
		default:
			continue
		}
		summary.TasksExecuted++
	}

	status := mission.RunSucceeded
	switch {
	case summary.TasksFailed > 0 && summary.TasksSucceeded == 0:
		status = mission.RunFailed
	case summary.TasksFailed > 0 || summary.TasksRejected > 0:
		status = mission.RunPartial
	}

	if err := s.store.FinishRun(run.ID, status, summary); err != nil {
		return err
	}

	current, err := s.store.GetMission(m.ID)
	if err != nil {
		return err
	}
	if current.Status == mission.StatusActive {
		if err := s.store.UpdateMissionStatus(m.ID, mission.StatusCompleted); err != nil {
			return err
		}
	}

	s.log.Info("Run finished",
		slog.String("run_id", run.ID),
		slog.String("mission_id", m.ID),
		slog.String("status", string(status)),
		slog.Int("tasks_executed", summary.TasksExecuted),
	)
	return nil
}
