package gateway

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/total-audio/autopilot/internal/agent"
	"github.com/total-audio/autopilot/internal/confidence"
	"github.com/total-audio/autopilot/internal/mission"
	"github.com/total-audio/autopilot/internal/replay"
	"github.com/total-audio/autopilot/internal/telemetry"
)

// errorBody is the envelope for every non-2xx response. Validation errors
// carry the offending field where one can be named; infrastructure errors
// never leak internals beyond the code.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]errorBody{
		"error": {Code: code, Message: message, Field: field},
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps domain errors onto the envelope. notFoundOK controls
// whether a missing mission reads as 404 (lookups) or 400 (submissions
// referencing it).
func (s *Server) respondError(w http.ResponseWriter, err error, notFoundOK bool) {
	switch {
	case errors.Is(err, mission.ErrInvalidMission):
		if notFoundOK {
			writeError(w, http.StatusNotFound, "not_found", err.Error(), "")
			return
		}
		writeError(w, http.StatusBadRequest, "validation", err.Error(), "")
	case errors.Is(err, confidence.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "validation", err.Error(), "")
	case errors.Is(err, replay.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), "")
	default:
		s.log.Error("Request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error", "")
	}
}

type createMissionRequest struct {
	Title  string         `json:"title"`
	Mode   mission.Mode   `json:"mode"`
	Config mission.Config `json:"config"`
}

func (s *Server) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var req createMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body", "")
		return
	}

	m := &mission.Mission{
		Title:  req.Title,
		Mode:   req.Mode,
		Config: req.Config,
	}
	if err := s.scheduler.CreateMission(m); err != nil {
		s.respondError(w, err, false)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	missions, err := s.store.ListMissions(0)
	if err != nil {
		s.respondError(w, err, false)
		return
	}
	if missions == nil {
		missions = []*mission.Mission{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"missions": missions})
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMission(chi.URLParam(r, "missionID"))
	if err != nil {
		s.respondError(w, err, true)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

type updateMissionRequest struct {
	Status *mission.Status `json:"status,omitempty"`
	Mode   *mission.Mode   `json:"mode,omitempty"`
	Config *mission.Config `json:"config,omitempty"`
}

// handleUpdateMission applies operator changes: pause/resume via status,
// a mode change, or new autonomy thresholds. Omitted fields keep their
// current values and a rejected change is never partially applied.
func (s *Server) handleUpdateMission(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "missionID")

	var req updateMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body", "")
		return
	}
	if req.Status == nil && req.Mode == nil && req.Config == nil {
		writeError(w, http.StatusBadRequest, "validation", "nothing to update", "")
		return
	}

	if err := s.scheduler.UpdateMission(missionID, req.Status, req.Mode, req.Config); err != nil {
		s.respondError(w, err, false)
		return
	}

	m, err := s.store.GetMission(missionID)
	if err != nil {
		s.respondError(w, err, true)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// handleTaskResult receives a wire-format result from an out-of-process
// executor for an already-dispatched task and pushes it through the
// scoring and gating pipeline.
func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "failed to read body", "")
		return
	}

	res, err := agent.ParseRawResult(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error(), "confidence")
		return
	}
	latency := gjson.GetBytes(body, "latency_ms").Int()

	if err := s.scheduler.ReportResult(r.Context(), taskID, res, nil, latency); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "not_found", "task not found", "")
			return
		}
		s.respondError(w, err, false)
		return
	}

	t, err := s.store.GetTask(taskID)
	if err != nil {
		s.respondError(w, err, false)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

type enqueueTaskRequest struct {
	AgentRole string          `json:"agent_role"`
	Type      string          `json:"type"`
	Input     json.RawMessage `json:"input"`
	Priority  int             `json:"priority"`
}

func (s *Server) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "missionID")

	var req enqueueTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body", "")
		return
	}
	if req.AgentRole == "" {
		writeError(w, http.StatusBadRequest, "validation", "agent_role is required", "agent_role")
		return
	}

	t := &mission.Task{
		AgentRole: req.AgentRole,
		Type:      req.Type,
		Input:     req.Input,
		Priority:  req.Priority,
	}
	taskID, err := s.scheduler.Enqueue(r.Context(), missionID, t)
	if err != nil {
		s.respondError(w, err, false)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "missionID")
	if _, err := s.store.GetMission(missionID); err != nil {
		s.respondError(w, err, true)
		return
	}
	tasks, err := s.store.TasksForMission(missionID)
	if err != nil {
		s.respondError(w, err, false)
		return
	}
	if tasks == nil {
		tasks = []*mission.Task{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "missionID")
	if _, err := s.store.GetMission(missionID); err != nil {
		s.respondError(w, err, true)
		return
	}
	runs, err := s.store.RunsForMission(missionID)
	if err != nil {
		s.respondError(w, err, false)
		return
	}
	if runs == nil {
		runs = []*mission.Run{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// dashboardResponse aggregates everything the dashboard renders in one
// request: health summary, momentum, per-agent state, the mission's
// autonomy posture, and the confidence breakdown behind the most recent
// gate decision.
type dashboardResponse struct {
	Mission        *mission.Mission             `json:"mission"`
	Summary        telemetry.Summary            `json:"summary"`
	Momentum       telemetry.Momentum           `json:"momentum"`
	Agents         []telemetry.AgentPerformance `json:"agents"`
	LatestDecision *latestDecision              `json:"latest_decision,omitempty"`
}

// latestDecision is the dashboard's view of the newest decided task.
type latestDecision struct {
	TaskID     string               `json:"task_id"`
	AgentRole  string               `json:"agent_role"`
	Decision   string               `json:"decision"`
	Confidence float64              `json:"confidence"`
	Breakdown  confidence.Breakdown `json:"breakdown"`
	DecidedAt  *time.Time           `json:"decided_at,omitempty"`
}

// newestDecided picks the most recently completed task that carries a gate
// decision.
func newestDecided(tasks []*mission.Task) *latestDecision {
	var pick *mission.Task
	for _, t := range tasks {
		if t.Decision == "" || t.CompletedAt == nil {
			continue
		}
		if pick == nil || t.CompletedAt.After(*pick.CompletedAt) {
			pick = t
		}
	}
	if pick == nil {
		return nil
	}
	ld := &latestDecision{
		TaskID:     pick.ID,
		AgentRole:  pick.AgentRole,
		Decision:   pick.Decision,
		Confidence: pick.Confidence,
		DecidedAt:  pick.CompletedAt,
	}
	if pick.Breakdown != nil {
		ld.Breakdown = *pick.Breakdown
	}
	return ld
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "missionID")

	m, err := s.store.GetMission(missionID)
	if err != nil {
		s.respondError(w, err, true)
		return
	}
	summary, err := s.telemetry.Summarize(missionID)
	if err != nil {
		s.respondError(w, err, false)
		return
	}
	momentum, err := s.telemetry.Momentum(missionID)
	if err != nil {
		s.respondError(w, err, false)
		return
	}
	agents, err := s.telemetry.AgentBreakdown(missionID)
	if err != nil {
		s.respondError(w, err, false)
		return
	}
	if agents == nil {
		agents = []telemetry.AgentPerformance{}
	}
	tasks, err := s.store.TasksForMission(missionID)
	if err != nil {
		s.respondError(w, err, false)
		return
	}

	respondJSON(w, http.StatusOK, dashboardResponse{
		Mission:        m,
		Summary:        summary,
		Momentum:       momentum,
		Agents:         agents,
		LatestDecision: newestDecided(tasks),
	})
}

type createReplayRequest struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleCreateReplay(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "missionID")

	var req createReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body", "")
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "validation", "run_id is required", "run_id")
		return
	}

	rec, err := s.replays.Run(r.Context(), missionID, req.RunID)
	if err != nil {
		s.respondError(w, err, true)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListReplays(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "missionID")
	if _, err := s.store.GetMission(missionID); err != nil {
		s.respondError(w, err, true)
		return
	}
	recs, err := s.replays.List(missionID)
	if err != nil {
		s.respondError(w, err, false)
		return
	}
	if recs == nil {
		recs = []*replay.Replay{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"replays": recs})
}
