package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/total-audio/autopilot/internal/agent"
	"github.com/total-audio/autopilot/internal/confidence"
	"github.com/total-audio/autopilot/internal/gate"
	"github.com/total-audio/autopilot/internal/logging"
	"github.com/total-audio/autopilot/internal/mission"
	"github.com/total-audio/autopilot/internal/scheduler"
	"github.com/total-audio/autopilot/internal/store"
	"github.com/total-audio/autopilot/internal/telemetry"
)

func init() {
	logging.Suppress()
}

type testHarness struct {
	scheduler *scheduler.Scheduler
	store     *store.Store
	registry  *agent.Registry
	telemetry *telemetry.Engine
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	s, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	registry := agent.NewRegistry()
	tel := telemetry.NewEngine(s, s)
	sched := scheduler.New(s, registry, gate.New(), tel, nil)
	t.Cleanup(sched.Stop)

	return &testHarness{scheduler: sched, store: s, registry: registry, telemetry: tel}
}

func (h *testHarness) createMission(t *testing.T, mode mission.Mode, cfg mission.Config) *mission.Mission {
	t.Helper()
	m := &mission.Mission{
		Title:  "Test Campaign",
		Mode:   mode,
		Config: cfg,
	}
	if err := h.scheduler.CreateMission(m); err != nil {
		t.Fatalf("failed to create mission: %v", err)
	}
	return m
}

func (h *testHarness) enqueue(t *testing.T, missionID, role string, input string) string {
	t.Helper()
	id, err := h.scheduler.Enqueue(context.Background(), missionID, &mission.Task{
		AgentRole: role,
		Type:      "test",
		Input:     json.RawMessage(input),
	})
	if err != nil {
		t.Fatalf("failed to enqueue task: %v", err)
	}
	return id
}

func successResult(b confidence.Breakdown) *agent.Result {
	return &agent.Result{Success: true, Output: json.RawMessage(`{"ok":true}`), Breakdown: b}
}

func TestSemiAutoHighConfidenceAutoApproved(t *testing.T) {
	h := newTestHarness(t)
	m := h.createMission(t, mission.ModeSemiAuto, mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3})

	exec := agent.NewScriptedExecutor("pitch").Queue(successResult(confidence.Breakdown{
		DataCompleteness: 1.0,
		RiskAssessment:   1.0,
		PolicyCompliance: 1.0,
		CapabilityMatch:  1.0,
		ContextQuality:   0.2,
	}))
	h.registry.Register(exec)

	taskID := h.enqueue(t, m.ID, "pitch", `{"artist":"night-loops"}`)
	if err := h.scheduler.DispatchNext(context.Background(), "pitch"); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	task, err := h.store.GetTask(taskID)
	if err != nil {
		t.Fatalf("failed to load task: %v", err)
	}
	if task.Status != mission.TaskCompleted {
		t.Errorf("expected status %s, got %s", mission.TaskCompleted, task.Status)
	}
	if task.Decision != string(gate.AutoApproved) {
		t.Errorf("expected decision %s, got %s", gate.AutoApproved, task.Decision)
	}
	if task.Confidence < 0.839 || task.Confidence > 0.841 {
		t.Errorf("expected confidence 0.84, got %f", task.Confidence)
	}

	events, err := h.store.EventsForMission(m.ID)
	if err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 telemetry event, got %d", len(events))
	}
	if !events[0].Approved || !events[0].Success {
		t.Errorf("expected approved successful event, got %+v", events[0])
	}
}

func TestSemiAutoLowConfidenceQueuedForReview(t *testing.T) {
	h := newTestHarness(t)
	m := h.createMission(t, mission.ModeSemiAuto, mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3})

	h.registry.Register(agent.NewScriptedExecutor("contact").Queue(successResult(confidence.Breakdown{
		DataCompleteness: 0.5,
		RiskAssessment:   0.5,
		PolicyCompliance: 0.5,
		CapabilityMatch:  0.5,
		ContextQuality:   0.5,
	})))

	taskID := h.enqueue(t, m.ID, "contact", `{}`)
	if err := h.scheduler.DispatchNext(context.Background(), "contact"); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	task, _ := h.store.GetTask(taskID)
	if task.Decision != string(gate.QueuedForReview) {
		t.Errorf("expected decision %s, got %s", gate.QueuedForReview, task.Decision)
	}
	if task.Status != mission.TaskCompleted {
		t.Errorf("expected completed task awaiting review, got %s", task.Status)
	}

	events, _ := h.store.EventsForMission(m.ID)
	if len(events) != 1 || events[0].Approved {
		t.Fatalf("expected one unapproved event, got %+v", events)
	}
}

func TestFullAutoBelowFloorRejected(t *testing.T) {
	h := newTestHarness(t)
	m := h.createMission(t, mission.ModeFullAuto, mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3})

	h.registry.Register(agent.NewScriptedExecutor("followup").Queue(successResult(confidence.Breakdown{
		DataCompleteness: 0.1,
		RiskAssessment:   0.1,
		PolicyCompliance: 0.1,
		CapabilityMatch:  0.1,
		ContextQuality:   0.1,
	})))

	taskID := h.enqueue(t, m.ID, "followup", `{}`)
	if err := h.scheduler.DispatchNext(context.Background(), "followup"); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	task, _ := h.store.GetTask(taskID)
	if task.Status != mission.TaskRejected {
		t.Errorf("expected status %s, got %s", mission.TaskRejected, task.Status)
	}
	if task.Decision != string(gate.Rejected) {
		t.Errorf("expected decision %s, got %s", gate.Rejected, task.Decision)
	}

	events, _ := h.store.EventsForMission(m.ID)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Approved {
		t.Error("rejected task must not be recorded as approved")
	}
	if !events[0].Success {
		t.Error("gate rejection does not make the execution itself a failure")
	}
}

func TestDispatchNextNoWork(t *testing.T) {
	h := newTestHarness(t)
	if err := h.scheduler.DispatchNext(context.Background(), "pitch"); err != scheduler.ErrNoWork {
		t.Fatalf("expected ErrNoWork, got %v", err)
	}
}

func TestEnqueueRequiresActiveMission(t *testing.T) {
	h := newTestHarness(t)
	m := h.createMission(t, mission.ModeSuggest, mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3})
	if err := h.scheduler.SetMissionStatus(m.ID, mission.StatusPaused); err != nil {
		t.Fatalf("failed to pause mission: %v", err)
	}

	_, err := h.scheduler.Enqueue(context.Background(), m.ID, &mission.Task{AgentRole: "pitch"})
	if !errors.Is(err, mission.ErrInvalidMission) {
		t.Fatalf("expected ErrInvalidMission, got %v", err)
	}
}

func TestPausedMissionStopsDispatch(t *testing.T) {
	h := newTestHarness(t)
	m := h.createMission(t, mission.ModeSemiAuto, mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3})
	h.registry.Register(agent.NewScriptedExecutor("analyst").Queue(successResult(confidence.Breakdown{
		DataCompleteness: 1, RiskAssessment: 1, PolicyCompliance: 1, CapabilityMatch: 1, ContextQuality: 1,
	})))

	taskID := h.enqueue(t, m.ID, "analyst", `{}`)
	if err := h.scheduler.SetMissionStatus(m.ID, mission.StatusPaused); err != nil {
		t.Fatalf("failed to pause mission: %v", err)
	}

	if err := h.scheduler.DispatchNext(context.Background(), "analyst"); err != scheduler.ErrNoWork {
		t.Fatalf("expected ErrNoWork while paused, got %v", err)
	}

	task, _ := h.store.GetTask(taskID)
	if task.Status != mission.TaskPending {
		t.Errorf("paused mission's task should stay pending, got %s", task.Status)
	}

	// Resuming makes the task dispatchable again.
	if err := h.scheduler.SetMissionStatus(m.ID, mission.StatusActive); err != nil {
		t.Fatalf("failed to resume mission: %v", err)
	}
	if err := h.scheduler.DispatchNext(context.Background(), "analyst"); err != nil {
		t.Fatalf("dispatch after resume failed: %v", err)
	}
}

func TestTasksDispatchInSequenceOrder(t *testing.T) {
	h := newTestHarness(t)
	m := h.createMission(t, mission.ModeSuggest, mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3})

	exec := agent.NewScriptedExecutor("pitch").Queue(successResult(confidence.Breakdown{
		DataCompleteness: 1, RiskAssessment: 1, PolicyCompliance: 1, CapabilityMatch: 1, ContextQuality: 1,
	}))
	h.registry.Register(exec)

	h.enqueue(t, m.ID, "pitch", `{"n":1}`)
	h.enqueue(t, m.ID, "pitch", `{"n":2}`)
	h.enqueue(t, m.ID, "pitch", `{"n":3}`)

	for i := 0; i < 3; i++ {
		if err := h.scheduler.DispatchNext(context.Background(), "pitch"); err != nil {
			t.Fatalf("dispatch %d failed: %v", i, err)
		}
	}

	want := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
	if len(exec.Calls) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(exec.Calls))
	}
	for i, call := range exec.Calls {
		if string(call) != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], call)
		}
	}
}

func TestExecutionErrorFailsTaskWithoutRetry(t *testing.T) {
	h := newTestHarness(t)
	m := h.createMission(t, mission.ModeFullAuto, mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3})

	execErr := errors.New("capability timeout")
	h.registry.Register(agent.NewScriptedExecutor("scheduler").QueueError(execErr))

	taskID := h.enqueue(t, m.ID, "scheduler", `{}`)
	if err := h.scheduler.DispatchNext(context.Background(), "scheduler"); !errors.Is(err, execErr) {
		t.Fatalf("expected execution error surfaced, got %v", err)
	}

	task, _ := h.store.GetTask(taskID)
	if task.Status != mission.TaskFailed {
		t.Errorf("expected status %s, got %s", mission.TaskFailed, task.Status)
	}
	if task.Error != "capability timeout" {
		t.Errorf("expected error recorded, got %q", task.Error)
	}

	events, _ := h.store.EventsForMission(m.ID)
	if len(events) != 1 {
		t.Fatalf("expected 1 event for the failed attempt, got %d", len(events))
	}
	if events[0].Success || events[0].Approved {
		t.Errorf("failed execution event must be unsuccessful and unapproved, got %+v", events[0])
	}

	// No automatic retry: the queue is empty.
	if err := h.scheduler.DispatchNext(context.Background(), "scheduler"); err != scheduler.ErrNoWork {
		t.Fatalf("expected ErrNoWork after failure, got %v", err)
	}
}

func TestInvalidConfidenceEvidenceFailsTask(t *testing.T) {
	h := newTestHarness(t)
	m := h.createMission(t, mission.ModeSemiAuto, mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3})

	h.registry.Register(agent.NewScriptedExecutor("pitch").Queue(successResult(confidence.Breakdown{
		DataCompleteness: 1.5,
		RiskAssessment:   1, PolicyCompliance: 1, CapabilityMatch: 1, ContextQuality: 1,
	})))

	taskID := h.enqueue(t, m.ID, "pitch", `{}`)
	err := h.scheduler.DispatchNext(context.Background(), "pitch")
	if !errors.Is(err, confidence.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	task, _ := h.store.GetTask(taskID)
	if task.Status != mission.TaskFailed {
		t.Errorf("expected status %s, got %s", mission.TaskFailed, task.Status)
	}
}

func TestRunFinishesWhenAllTasksTerminal(t *testing.T) {
	h := newTestHarness(t)
	m := h.createMission(t, mission.ModeFullAuto, mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3})

	h.registry.Register(agent.NewScriptedExecutor("pitch").
		Queue(successResult(confidence.Breakdown{
			DataCompleteness: 1, RiskAssessment: 1, PolicyCompliance: 1, CapabilityMatch: 1, ContextQuality: 1,
		})).
		Queue(successResult(confidence.Breakdown{
			DataCompleteness: 0.1, RiskAssessment: 0.1, PolicyCompliance: 0.1, CapabilityMatch: 0.1, ContextQuality: 0.1,
		})))

	h.enqueue(t, m.ID, "pitch", `{"n":1}`)
	h.enqueue(t, m.ID, "pitch", `{"n":2}`)

	if err := h.scheduler.DispatchNext(context.Background(), "pitch"); err != nil {
		t.Fatalf("dispatch 1 failed: %v", err)
	}

	run, err := h.store.CurrentRun(m.ID)
	if err != nil {
		t.Fatalf("failed to load current run: %v", err)
	}
	if run == nil {
		t.Fatal("expected a running run after first dispatch")
	}
	if run.Trigger != mission.TriggerManual {
		t.Errorf("expected manual trigger, got %s", run.Trigger)
	}

	if err := h.scheduler.DispatchNext(context.Background(), "pitch"); err != nil {
		t.Fatalf("dispatch 2 failed: %v", err)
	}

	// One approved, one rejected: the run is partial.
	runs, err := h.store.RunsForMission(m.ID)
	if err != nil {
		t.Fatalf("failed to load runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != mission.RunPartial {
		t.Errorf("expected run status %s, got %s", mission.RunPartial, runs[0].Status)
	}
	if runs[0].Summary == nil {
		t.Fatal("expected run summary")
	}
	if runs[0].Summary.TasksExecuted != 2 || runs[0].Summary.TasksSucceeded != 1 || runs[0].Summary.TasksRejected != 1 {
		t.Errorf("unexpected summary: %+v", runs[0].Summary)
	}

	got, _ := h.store.GetMission(m.ID)
	if got.Status != mission.StatusCompleted {
		t.Errorf("expected mission completed, got %s", got.Status)
	}
}

func TestEvaluateResultStatusMapping(t *testing.T) {
	g := gate.New()
	full := &mission.Mission{
		Mode:   mission.ModeFullAuto,
		Config: mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3},
	}

	tests := []struct {
		name       string
		res        *agent.Result
		wantStatus mission.TaskStatus
		wantDec    gate.Decision
	}{
		{
			name: "success above tolerance",
			res: successResult(confidence.Breakdown{
				DataCompleteness: 1, RiskAssessment: 1, PolicyCompliance: 1, CapabilityMatch: 1, ContextQuality: 1,
			}),
			wantStatus: mission.TaskCompleted,
			wantDec:    gate.AutoApproved,
		},
		{
			name: "success below floor",
			res: successResult(confidence.Breakdown{
				DataCompleteness: 0.1, RiskAssessment: 0.1, PolicyCompliance: 0.1, CapabilityMatch: 0.1, ContextQuality: 0.1,
			}),
			wantStatus: mission.TaskRejected,
			wantDec:    gate.Rejected,
		},
		{
			name: "unsuccessful work above tolerance",
			res: &agent.Result{
				Success: false,
				Error:   "target unreachable",
				Breakdown: confidence.Breakdown{
					DataCompleteness: 1, RiskAssessment: 1, PolicyCompliance: 1, CapabilityMatch: 1, ContextQuality: 1,
				},
			},
			wantStatus: mission.TaskFailed,
			wantDec:    gate.AutoApproved,
		},
		{
			name: "unsuccessful work below floor",
			res: &agent.Result{
				Success: false,
				Error:   "target unreachable",
				Breakdown: confidence.Breakdown{
					DataCompleteness: 0.1, RiskAssessment: 0.1, PolicyCompliance: 0.1, CapabilityMatch: 0.1, ContextQuality: 0.1,
				},
			},
			wantStatus: mission.TaskFailed,
			wantDec:    gate.Rejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, dec, status, err := scheduler.EvaluateResult(g, full, tt.res)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, status)
			}
			if dec != tt.wantDec {
				t.Errorf("expected decision %s, got %s", tt.wantDec, dec)
			}
		})
	}
}

func TestWorkersDispatchInBackground(t *testing.T) {
	h := newTestHarness(t)
	m := h.createMission(t, mission.ModeSemiAuto, mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3})

	h.registry.Register(agent.NewScriptedExecutor("archivist").Queue(successResult(confidence.Breakdown{
		DataCompleteness: 1, RiskAssessment: 1, PolicyCompliance: 1, CapabilityMatch: 1, ContextQuality: 1,
	})))
	h.scheduler.Start()

	taskID := h.enqueue(t, m.ID, "archivist", `{}`)

	deadline := time.Now().Add(5 * time.Second)
	for {
		task, err := h.store.GetTask(taskID)
		if err != nil {
			t.Fatalf("failed to load task: %v", err)
		}
		if task.Status.Terminal() {
			if task.Status != mission.TaskCompleted {
				t.Fatalf("expected completed, got %s", task.Status)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never reached a terminal state, still %s", task.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
