package replay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/total-audio/autopilot/internal/agent"
	"github.com/total-audio/autopilot/internal/gate"
	"github.com/total-audio/autopilot/internal/logging"
	"github.com/total-audio/autopilot/internal/mission"
	"github.com/total-audio/autopilot/internal/scheduler"
	"github.com/total-audio/autopilot/internal/telemetry"
)

// Store is the persistence surface the replay engine needs.
type Store interface {
	GetMission(id string) (*mission.Mission, error)
	SaveMission(m *mission.Mission) error
	UpdateMissionStatus(id string, status mission.Status) error

	GetRun(id string) (*mission.Run, error)
	SaveRun(r *mission.Run) error
	FinishRun(id string, status mission.RunStatus, summary *mission.RunSummary) error

	SaveTask(t *mission.Task) error
	FinishTask(t *mission.Task) error
	TasksForMission(missionID string) ([]*mission.Task, error)

	EventsForRun(runID string) ([]telemetry.Event, error)

	SaveReplay(r *Replay) error
	ReplaysForMission(missionID string) ([]*Replay, error)
}

// Engine re-executes recorded runs. Replayed tasks go through the same
// scoring and gating pipeline as live ones, against the mission
// configuration that was in effect for the original run.
type Engine struct {
	store     Store
	registry  *agent.Registry
	gate      *gate.Gate
	telemetry *telemetry.Engine
	log       *slog.Logger
}

// NewEngine creates a replay engine.
func NewEngine(store Store, registry *agent.Registry, g *gate.Gate, tel *telemetry.Engine) *Engine {
	return &Engine{
		store:     store,
		registry:  registry,
		gate:      g,
		telemetry: tel,
		log:       logging.WithComponent("replay"),
	}
}

// Run replays one recorded run of a mission and returns the replay record.
// The original mission, its tasks, and its telemetry are never modified;
// the replay executes under a fresh mission marked as a replay.
//
// Fails with ErrRunNotFound when the run does not exist or does not belong
// to the mission. Per-task differences are deviations in the result, not
// errors.
func (e *Engine) Run(ctx context.Context, missionID, originalRunID string) (*Replay, error) {
	original, err := e.store.GetRun(originalRunID)
	if err != nil {
		return nil, err
	}
	if original.MissionID != missionID {
		return nil, fmt.Errorf("%w: run %s does not belong to mission %s", ErrRunNotFound, originalRunID, missionID)
	}

	source, err := e.store.GetMission(missionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRunNotFound, err)
	}
	events, err := e.store.EventsForRun(originalRunID)
	if err != nil {
		return nil, err
	}
	originals, err := e.store.TasksForMission(missionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*mission.Task, len(originals))
	for _, t := range originals {
		byID[t.ID] = t
	}

	// The replay runs under its own mission so its tasks and telemetry
	// never mix with the original's.
	replayMission := &mission.Mission{
		ID:     uuid.New().String(),
		Title:  fmt.Sprintf("Replay: %s", source.Title),
		Mode:   source.Mode,
		Status: mission.StatusActive,
		Config: source.Config,
		Replay: true,
	}
	if err := e.store.SaveMission(replayMission); err != nil {
		return nil, err
	}
	replayRun := &mission.Run{
		ID:        uuid.New().String(),
		MissionID: replayMission.ID,
		Trigger:   mission.TriggerReplay,
		Status:    mission.RunRunning,
	}
	if err := e.store.SaveRun(replayRun); err != nil {
		return nil, err
	}

	e.log.Info("Replaying run",
		slog.String("mission_id", missionID),
		slog.String("run_id", originalRunID),
		slog.Int("events", len(events)),
	)

	var deviations []Deviation
	matched, compared := 0, 0
	summary := &mission.RunSummary{}
	start := time.Now()

	for _, orig := range events {
		devs, ok, available := e.replayTask(ctx, replayMission, replayRun, orig, byID[orig.TaskID], summary)
		deviations = append(deviations, devs...)
		if !available {
			continue
		}
		compared++
		if ok {
			matched++
		}
	}

	pct := 100.0
	if compared > 0 {
		pct = 100 * float64(matched) / float64(compared)
	}

	summary.DurationMs = time.Since(start).Milliseconds()
	runStatus := mission.RunSucceeded
	if summary.TasksFailed > 0 {
		runStatus = mission.RunPartial
	}
	if err := e.store.FinishRun(replayRun.ID, runStatus, summary); err != nil {
		return nil, err
	}
	if err := e.store.UpdateMissionStatus(replayMission.ID, mission.StatusCompleted); err != nil {
		return nil, err
	}

	rec := &Replay{
		ID:              uuid.New().String(),
		MissionID:       missionID,
		OriginalRunID:   originalRunID,
		ReplayRunID:     replayRun.ID,
		MatchPercentage: pct,
		Deviations:      deviations,
	}
	if err := e.store.SaveReplay(rec); err != nil {
		return nil, err
	}

	e.log.Info("Replay finished",
		slog.String("replay_id", rec.ID),
		slog.Float64("match_percentage", pct),
		slog.Int("deviations", len(deviations)),
	)
	return rec, nil
}

// List returns the replays recorded for a mission, newest first.
func (e *Engine) List(missionID string) ([]*Replay, error) {
	return e.store.ReplaysForMission(missionID)
}

// replayTask re-executes one recorded task. It returns the deviations, and
// whether the outcome matched and the task was comparable at all. A task
// whose role is no longer registered is unavailable: it gets an execution
// deviation and leaves the match denominator.
func (e *Engine) replayTask(ctx context.Context, m *mission.Mission, run *mission.Run, orig telemetry.Event, origTask *mission.Task, summary *mission.RunSummary) (devs []Deviation, matchOK, available bool) {
	if origTask == nil || !e.registry.Has(orig.AgentRole) {
		return []Deviation{{
			TaskID:        orig.TaskID,
			Field:         "execution",
			OriginalValue: strconv.FormatBool(orig.Success),
			ReplayValue:   ValueUnavailable,
		}}, false, false
	}

	t := &mission.Task{
		ID:        uuid.New().String(),
		MissionID: m.ID,
		AgentRole: origTask.AgentRole,
		Type:      origTask.Type,
		Input:     origTask.Input,
		Status:    mission.TaskPending,
		Priority:  origTask.Priority,
		Sequence:  origTask.Sequence,
	}
	if err := e.store.SaveTask(t); err != nil {
		e.log.Error("Failed to save replay task", slog.Any("error", err))
		return nil, false, false
	}

	exec, _ := e.registry.Lookup(origTask.AgentRole)
	ev := telemetry.Event{
		MissionID: m.ID,
		RunID:     run.ID,
		TaskID:    t.ID,
		AgentRole: t.AgentRole,
	}

	startedAt := time.Now()
	res, execErr := exec.Execute(ctx, t.Input)
	ev.LatencyMs = time.Since(startedAt).Milliseconds()

	summary.TasksExecuted++
	replaySuccess := false
	replayDecision := ""
	replayConfidence := 0.0

	if execErr != nil || res == nil {
		if execErr == nil {
			execErr = fmt.Errorf("executor returned no result")
		}
		t.Status = mission.TaskFailed
		t.Error = execErr.Error()
		summary.TasksFailed++
	} else if score, decision, status, err := scheduler.EvaluateResult(e.gate, m, res); err != nil {
		t.Status = mission.TaskFailed
		t.Error = err.Error()
		summary.TasksFailed++
	} else {
		t.Status = status
		t.Output = res.Output
		t.Confidence = score.Value
		t.Breakdown = &score.Breakdown
		t.Decision = string(decision)
		t.Error = res.Error
		replaySuccess = res.Success
		replayDecision = string(decision)
		replayConfidence = score.Value
		ev.Confidence = score.Value
		ev.Success = res.Success
		ev.Approved = decision.Approved()
		ev.Decision = string(decision)
		switch status {
		case mission.TaskCompleted:
			summary.TasksSucceeded++
		case mission.TaskRejected:
			summary.TasksRejected++
		case mission.TaskFailed:
			summary.TasksFailed++
		}
	}

	if err := e.store.FinishTask(t); err != nil {
		e.log.Error("Failed to finish replay task", slog.Any("error", err))
	}
	if err := e.telemetry.Record(ev); err != nil {
		e.log.Error("Failed to record replay event", slog.Any("error", err))
	}

	if replaySuccess != orig.Success {
		devs = append(devs, Deviation{
			TaskID:        orig.TaskID,
			Field:         "success",
			OriginalValue: strconv.FormatBool(orig.Success),
			ReplayValue:   strconv.FormatBool(replaySuccess),
		})
	}
	if replayDecision != orig.Decision {
		devs = append(devs, Deviation{
			TaskID:        orig.TaskID,
			Field:         "decision",
			OriginalValue: orig.Decision,
			ReplayValue:   replayDecision,
		})
	}
	if replayConfidence != orig.Confidence {
		// Confidence drift is reported but does not break the match; the
		// match tracks outcome and authorization, not the exact score.
		devs = append(devs, Deviation{
			TaskID:        orig.TaskID,
			Field:         "confidence",
			OriginalValue: strconv.FormatFloat(orig.Confidence, 'f', -1, 64),
			ReplayValue:   strconv.FormatFloat(replayConfidence, 'f', -1, 64),
		})
	}

	matchOK = replaySuccess == orig.Success && replayDecision == orig.Decision
	return devs, matchOK, true
}
