package telemetry

import (
	"sort"

	"github.com/total-audio/autopilot/internal/mission"
)

// Summarize computes the mission summary over a slice of events. It is a
// pure function: the same events always produce the same summary, and it is
// the single projection used for both live dashboards and replay baselines.
func Summarize(events []Event) Summary {
	s := Summary{TotalEvents: len(events)}
	if len(events) == 0 {
		return s
	}

	var latency, conf float64
	var successes, approvals int
	for _, ev := range events {
		latency += float64(ev.LatencyMs)
		conf += ev.Confidence
		if ev.Success {
			successes++
		}
		if ev.Approved {
			approvals++
		}
	}

	n := float64(len(events))
	s.AvgLatencyMs = latency / n
	s.AvgConfidence = conf / n
	s.SuccessRate = float64(successes) / n
	s.ApprovalRate = float64(approvals) / n
	return s
}

// AgentBreakdown rolls events and tasks up per agent role. A role is
// "active" while any of its tasks is in progress, "idle" otherwise.
func AgentBreakdown(events []Event, tasks []*mission.Task) []AgentPerformance {
	type acc struct {
		completed int
		conf      float64
		events    int
		active    bool
	}
	byRole := make(map[string]*acc)

	get := func(role string) *acc {
		a, ok := byRole[role]
		if !ok {
			a = &acc{}
			byRole[role] = a
		}
		return a
	}

	for _, ev := range events {
		if ev.AgentRole == "" {
			continue
		}
		a := get(ev.AgentRole)
		a.conf += ev.Confidence
		a.events++
	}
	for _, t := range tasks {
		a := get(t.AgentRole)
		if t.Status == mission.TaskCompleted {
			a.completed++
		}
		if t.Status == mission.TaskInProgress {
			a.active = true
		}
	}

	roles := make([]string, 0, len(byRole))
	for role := range byRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	out := make([]AgentPerformance, 0, len(roles))
	for _, role := range roles {
		a := byRole[role]
		perf := AgentPerformance{
			AgentRole:      role,
			TasksCompleted: a.completed,
			Status:         "idle",
		}
		if a.events > 0 {
			perf.AvgConfidence = a.conf / float64(a.events)
		}
		if a.active {
			perf.Status = "active"
		}
		out = append(out, perf)
	}
	return out
}
