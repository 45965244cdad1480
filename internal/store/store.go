// Package store provides durable persistence for Autopilot using SQLite.
// It holds missions, tasks, runs, the append-only telemetry event log, and
// replay records. Store handles database migrations automatically on
// initialization.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/total-audio/autopilot/internal/confidence"
	"github.com/total-audio/autopilot/internal/mission"
	"github.com/total-audio/autopilot/internal/replay"
	"github.com/total-audio/autopilot/internal/telemetry"
)

// Store wraps the SQLite database. Telemetry event writes are append-only
// and task status transitions are atomic; those are the two guarantees the
// scheduler and replay engine rely on.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a Store with a SQLite database at the given path.
// It creates the data directory if it does not exist and runs migrations.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "autopilot.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize writers; SQLite allows only one anyway and this avoids
	// SQLITE_BUSY churn under concurrent role workers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dataPath}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// migrate creates necessary tables
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS missions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			risk_tolerance REAL NOT NULL DEFAULT 0.7,
			safety_floor REAL NOT NULL DEFAULT 0.3,
			replay BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			mission_id TEXT NOT NULL,
			agent_role TEXT NOT NULL,
			type TEXT,
			input TEXT,
			output TEXT,
			status TEXT NOT NULL,
			priority INTEGER DEFAULT 0,
			sequence INTEGER DEFAULT 0,
			confidence REAL DEFAULT 0,
			breakdown TEXT,
			decision TEXT,
			error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			FOREIGN KEY (mission_id) REFERENCES missions(id)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mission_id TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME,
			summary TEXT,
			FOREIGN KEY (mission_id) REFERENCES missions(id)
		)`,
		`CREATE TABLE IF NOT EXISTS telemetry_events (
			id TEXT PRIMARY KEY,
			mission_id TEXT NOT NULL,
			run_id TEXT,
			task_id TEXT NOT NULL,
			agent_role TEXT,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			approved BOOLEAN NOT NULL DEFAULT FALSE,
			decision TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS replays (
			id TEXT PRIMARY KEY,
			mission_id TEXT NOT NULL,
			original_run_id TEXT NOT NULL,
			replay_run_id TEXT,
			match_percentage REAL NOT NULL DEFAULT 0,
			deviations TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`ALTER TABLE tasks ADD COLUMN breakdown TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_mission ON tasks(mission_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_role_status ON tasks(agent_role, status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_mission ON runs(mission_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_mission ON telemetry_events(mission_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON telemetry_events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_replays_mission ON replays(mission_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			// Ignore "duplicate column" errors from ALTER TABLE migrations
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection and releases resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Missions ---

// SaveMission inserts a mission record.
func (s *Store) SaveMission(m *mission.Mission) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	_, err := s.db.Exec(`
		INSERT INTO missions (id, title, mode, status, risk_tolerance, safety_floor, replay, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Title, string(m.Mode), string(m.Status), m.Config.RiskTolerance, m.Config.SafetyFloor, m.Replay, m.CreatedAt, m.UpdatedAt)
	return err
}

// GetMission retrieves a mission by ID. Returns ErrInvalidMission when the
// mission does not exist.
func (s *Store) GetMission(id string) (*mission.Mission, error) {
	row := s.db.QueryRow(`
		SELECT id, title, mode, status, risk_tolerance, safety_floor, replay, created_at, updated_at
		FROM missions WHERE id = ?
	`, id)

	var m mission.Mission
	var mode, status string
	err := row.Scan(&m.ID, &m.Title, &mode, &status, &m.Config.RiskTolerance, &m.Config.SafetyFloor, &m.Replay, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: mission %s not found", mission.ErrInvalidMission, id)
	}
	if err != nil {
		return nil, err
	}
	m.Mode = mission.Mode(mode)
	m.Status = mission.Status(status)
	return &m, nil
}

// UpdateMissionStatus transitions a mission's status.
func (s *Store) UpdateMissionStatus(id string, status mission.Status) error {
	res, err := s.db.Exec(`UPDATE missions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: mission %s not found", mission.ErrInvalidMission, id)
	}
	return nil
}

// UpdateMission applies an operator's status, mode, or threshold change.
// Nil fields keep their stored values, so a mode change without new
// thresholds never resets risk_tolerance or safety_floor. The merged
// mission is validated and written in one transaction; a rejected change
// is never partially applied.
func (s *Store) UpdateMission(id string, status *mission.Status, mode *mission.Mode, cfg *mission.Config) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var m mission.Mission
	var curMode, curStatus string
	err = tx.QueryRow(`SELECT mode, status, risk_tolerance, safety_floor FROM missions WHERE id = ?`, id).
		Scan(&curMode, &curStatus, &m.Config.RiskTolerance, &m.Config.SafetyFloor)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: mission %s not found", mission.ErrInvalidMission, id)
	}
	if err != nil {
		return err
	}
	m.Mode = mission.Mode(curMode)
	m.Status = mission.Status(curStatus)

	if mode != nil {
		m.Mode = *mode
	}
	if cfg != nil {
		m.Config = *cfg
	}
	if status != nil {
		m.Status = *status
	}
	if err := m.Validate(); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE missions SET mode = ?, status = ?, risk_tolerance = ?, safety_floor = ?, updated_at = ? WHERE id = ?
	`, string(m.Mode), string(m.Status), m.Config.RiskTolerance, m.Config.SafetyFloor, time.Now().UTC(), id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListMissions returns the most recently created missions.
func (s *Store) ListMissions(limit int) ([]*mission.Mission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, title, mode, status, risk_tolerance, safety_floor, replay, created_at, updated_at
		FROM missions ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missions []*mission.Mission
	for rows.Next() {
		var m mission.Mission
		var mode, status string
		if err := rows.Scan(&m.ID, &m.Title, &mode, &status, &m.Config.RiskTolerance, &m.Config.SafetyFloor, &m.Replay, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Mode = mission.Mode(mode)
		m.Status = mission.Status(status)
		missions = append(missions, &m)
	}
	return missions, rows.Err()
}

// --- Tasks ---

// SaveTask inserts a task record.
func (s *Store) SaveTask(t *mission.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, mission_id, agent_role, type, input, output, status, priority, sequence,
			confidence, breakdown, decision, error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.MissionID, t.AgentRole, t.Type, string(t.Input), string(t.Output), string(t.Status),
		t.Priority, t.Sequence, t.Confidence, marshalBreakdown(t.Breakdown), t.Decision, t.Error,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	return err
}

func marshalBreakdown(b *confidence.Breakdown) string {
	if b == nil {
		return ""
	}
	data, err := json.Marshal(b)
	if err != nil {
		return ""
	}
	return string(data)
}

// GetTask retrieves a task by ID. Returns sql.ErrNoRows if not found.
func (s *Store) GetTask(id string) (*mission.Task, error) {
	row := s.db.QueryRow(taskSelect+` WHERE id = ?`, id)
	return scanTask(row)
}

const taskSelect = `
	SELECT id, mission_id, agent_role, COALESCE(type, ''), COALESCE(input, ''), COALESCE(output, ''),
		status, priority, sequence, confidence, COALESCE(breakdown, ''), COALESCE(decision, ''),
		COALESCE(error, ''), created_at, updated_at, completed_at
	FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*mission.Task, error) {
	var t mission.Task
	var status, input, output, breakdown string
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.MissionID, &t.AgentRole, &t.Type, &input, &output, &status,
		&t.Priority, &t.Sequence, &t.Confidence, &breakdown, &t.Decision, &t.Error,
		&t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Status = mission.TaskStatus(status)
	if input != "" {
		t.Input = json.RawMessage(input)
	}
	if output != "" {
		t.Output = json.RawMessage(output)
	}
	if breakdown != "" {
		var b confidence.Breakdown
		if err := json.Unmarshal([]byte(breakdown), &b); err == nil {
			t.Breakdown = &b
		}
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// ClaimNextPending atomically pops the next pending task for a role whose
// mission is still dispatchable, transitioning it to in_progress. Returns
// sql.ErrNoRows if the role's queue is empty. Higher priority goes first;
// equal priorities stay FIFO by (created_at, sequence). Cross-role ordering
// is unspecified.
func (s *Store) ClaimNextPending(role string) (*mission.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRow(`
		SELECT t.id FROM tasks t
		JOIN missions m ON m.id = t.mission_id
		WHERE t.agent_role = ? AND t.status = 'pending' AND m.status = 'active'
		ORDER BY t.priority DESC, t.created_at, t.sequence
		LIMIT 1
	`, role).Scan(&id)
	if err != nil {
		return nil, err
	}

	res, err := tx.Exec(`
		UPDATE tasks SET status = 'in_progress', updated_at = ? WHERE id = ? AND status = 'pending'
	`, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		// Lost the race to another dispatcher; treat as empty queue and let
		// the caller poll again.
		return nil, sql.ErrNoRows
	}

	row := tx.QueryRow(taskSelect+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

// FinishTask writes a task's terminal result. The status guard keeps
// terminal tasks immutable.
func (s *Store) FinishTask(t *mission.Task) error {
	now := time.Now().UTC()
	t.UpdatedAt = now
	if t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, output = ?, confidence = ?, breakdown = ?, decision = ?, error = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'rejected')
	`, string(t.Status), string(t.Output), t.Confidence, marshalBreakdown(t.Breakdown), t.Decision, t.Error,
		t.UpdatedAt, t.CompletedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s is already terminal", t.ID)
	}
	return nil
}

// TasksForMission returns a mission's tasks in sequence order.
func (s *Store) TasksForMission(missionID string) ([]*mission.Task, error) {
	rows, err := s.db.Query(taskSelect+` WHERE mission_id = ? ORDER BY sequence, created_at`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*mission.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// OpenTaskCount returns how many of a mission's tasks are not yet terminal.
func (s *Store) OpenTaskCount(missionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM tasks
		WHERE mission_id = ? AND status IN ('pending', 'in_progress')
	`, missionID).Scan(&n)
	return n, err
}

// NextSequence returns the next task sequence number for a mission.
func (s *Store) NextSequence(missionID string) (int, error) {
	var n sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(sequence) FROM tasks WHERE mission_id = ?`, missionID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return int(n.Int64) + 1, nil
}

// --- Runs ---

// SaveRun inserts a run record.
func (s *Store) SaveRun(r *mission.Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	var summary any
	if r.Summary != nil {
		data, err := json.Marshal(r.Summary)
		if err != nil {
			return fmt.Errorf("failed to marshal run summary: %w", err)
		}
		summary = string(data)
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, mission_id, trigger_type, status, started_at, finished_at, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.MissionID, string(r.Trigger), string(r.Status), r.StartedAt, r.FinishedAt, summary)
	return err
}

// GetRun retrieves a run by ID. Returns replay.ErrRunNotFound if missing.
func (s *Store) GetRun(id string) (*mission.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, mission_id, trigger_type, status, started_at, finished_at, summary
		FROM runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: run %s", replay.ErrRunNotFound, id)
	}
	return r, err
}

func scanRun(row rowScanner) (*mission.Run, error) {
	var r mission.Run
	var trigger, status string
	var finishedAt sql.NullTime
	var summary sql.NullString
	err := row.Scan(&r.ID, &r.MissionID, &trigger, &status, &r.StartedAt, &finishedAt, &summary)
	if err != nil {
		return nil, err
	}
	r.Trigger = mission.TriggerType(trigger)
	r.Status = mission.RunStatus(status)
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	if summary.Valid && summary.String != "" {
		var rs mission.RunSummary
		if err := json.Unmarshal([]byte(summary.String), &rs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
		}
		r.Summary = &rs
	}
	return &r, nil
}

// FinishRun records a run's terminal status and derived summary.
func (s *Store) FinishRun(id string, status mission.RunStatus, summary *mission.RunSummary) error {
	var data any
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to marshal run summary: %w", err)
		}
		data = string(b)
	}
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, finished_at = ?, summary = ? WHERE id = ?
	`, string(status), time.Now().UTC(), data, id)
	return err
}

// CurrentRun returns the mission's latest still-running run, or nil.
func (s *Store) CurrentRun(missionID string) (*mission.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, mission_id, trigger_type, status, started_at, finished_at, summary
		FROM runs WHERE mission_id = ? AND status = 'running'
		ORDER BY started_at DESC LIMIT 1
	`, missionID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// RunsForMission returns a mission's runs, newest first.
func (s *Store) RunsForMission(missionID string) ([]*mission.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, mission_id, trigger_type, status, started_at, finished_at, summary
		FROM runs WHERE mission_id = ? ORDER BY started_at DESC
	`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*mission.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Telemetry events ---

// AppendEvent appends one immutable telemetry event. There is no update or
// delete path for events anywhere in this package; the event log is the
// audit trail and the input to replay comparisons.
func (s *Store) AppendEvent(ev *telemetry.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO telemetry_events (id, mission_id, run_id, task_id, agent_role, latency_ms,
			confidence, success, approved, decision, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.MissionID, ev.RunID, ev.TaskID, ev.AgentRole, ev.LatencyMs,
		ev.Confidence, ev.Success, ev.Approved, ev.Decision, ev.CreatedAt)
	return err
}

const eventSelect = `
	SELECT id, mission_id, COALESCE(run_id, ''), task_id, COALESCE(agent_role, ''),
		latency_ms, confidence, success, approved, COALESCE(decision, ''), created_at
	FROM telemetry_events`

func (s *Store) queryEvents(query string, args ...any) ([]telemetry.Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var ev telemetry.Event
		if err := rows.Scan(&ev.ID, &ev.MissionID, &ev.RunID, &ev.TaskID, &ev.AgentRole,
			&ev.LatencyMs, &ev.Confidence, &ev.Success, &ev.Approved, &ev.Decision, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// EventsForMission returns a mission's events in append order.
func (s *Store) EventsForMission(missionID string) ([]telemetry.Event, error) {
	return s.queryEvents(eventSelect+` WHERE mission_id = ? ORDER BY created_at, id`, missionID)
}

// EventsForRun returns a run's events in append order.
func (s *Store) EventsForRun(runID string) ([]telemetry.Event, error) {
	return s.queryEvents(eventSelect+` WHERE run_id = ? ORDER BY created_at, id`, runID)
}

// --- Replays ---

// SaveReplay persists a computed replay record. Replays are immutable once
// written.
func (s *Store) SaveReplay(r *replay.Replay) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	deviations, err := json.Marshal(r.Deviations)
	if err != nil {
		return fmt.Errorf("failed to marshal deviations: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO replays (id, mission_id, original_run_id, replay_run_id, match_percentage, deviations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.MissionID, r.OriginalRunID, r.ReplayRunID, r.MatchPercentage, string(deviations), r.CreatedAt)
	return err
}

// ReplaysForMission returns a mission's replay records, newest first.
func (s *Store) ReplaysForMission(missionID string) ([]*replay.Replay, error) {
	rows, err := s.db.Query(`
		SELECT id, mission_id, original_run_id, COALESCE(replay_run_id, ''), match_percentage,
			COALESCE(deviations, '[]'), created_at
		FROM replays WHERE mission_id = ? ORDER BY created_at DESC
	`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var replays []*replay.Replay
	for rows.Next() {
		var r replay.Replay
		var deviations string
		if err := rows.Scan(&r.ID, &r.MissionID, &r.OriginalRunID, &r.ReplayRunID,
			&r.MatchPercentage, &deviations, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(deviations), &r.Deviations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deviations: %w", err)
		}
		replays = append(replays, &r)
	}
	return replays, rows.Err()
}
