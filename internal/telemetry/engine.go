package telemetry

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/total-audio/autopilot/internal/logging"
	"github.com/total-audio/autopilot/internal/mission"
)

// EventStore is the durable, append-only event log the engine writes to.
type EventStore interface {
	AppendEvent(ev *Event) error
	EventsForMission(missionID string) ([]Event, error)
}

// TaskReader provides the task view needed for per-role rollups.
type TaskReader interface {
	TasksForMission(missionID string) ([]*mission.Task, error)
}

// Engine records telemetry events and serves the read-side projections.
// Aggregates are recomputed from the event log on every read; the engine
// keeps no mutable aggregate state.
type Engine struct {
	store EventStore
	tasks TaskReader
	log   *slog.Logger

	mu   sync.RWMutex
	subs map[string][]chan Event // keyed by mission ID
}

// NewEngine creates a telemetry engine over the given stores.
func NewEngine(store EventStore, tasks TaskReader) *Engine {
	return &Engine{
		store: store,
		tasks: tasks,
		log:   logging.WithComponent("telemetry"),
		subs:  make(map[string][]chan Event),
	}
}

// Record appends one immutable event and fans it out to live subscribers.
func (e *Engine) Record(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if err := e.store.AppendEvent(&ev); err != nil {
		return err
	}

	e.log.Debug("telemetry event recorded",
		slog.String("mission_id", ev.MissionID),
		slog.String("task_id", ev.TaskID),
		slog.Bool("success", ev.Success),
		slog.Bool("approved", ev.Approved),
	)

	e.mu.RLock()
	for _, ch := range e.subs[ev.MissionID] {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the recording path.
		}
	}
	e.mu.RUnlock()
	return nil
}

// Summarize computes the mission summary from all recorded events. With no
// events it returns zero values, never an error.
func (e *Engine) Summarize(missionID string) (Summary, error) {
	events, err := e.store.EventsForMission(missionID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(events), nil
}

// AgentBreakdown groups the mission's events and tasks by agent role.
func (e *Engine) AgentBreakdown(missionID string) ([]AgentPerformance, error) {
	events, err := e.store.EventsForMission(missionID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.tasks.TasksForMission(missionID)
	if err != nil {
		return nil, err
	}
	return AgentBreakdown(events, tasks), nil
}

// Momentum computes the trend view over the mission's event series.
func (e *Engine) Momentum(missionID string) (Momentum, error) {
	events, err := e.store.EventsForMission(missionID)
	if err != nil {
		return Momentum{}, err
	}
	return ComputeMomentum(events), nil
}

// Subscribe returns a channel receiving the mission's events as they are
// recorded. Call the returned cancel function to unsubscribe.
func (e *Engine) Subscribe(missionID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	e.mu.Lock()
	e.subs[missionID] = append(e.subs[missionID], ch)
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		subs := e.subs[missionID]
		for i, c := range subs {
			if c == ch {
				e.subs[missionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}
