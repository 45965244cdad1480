package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/total-audio/autopilot/internal/confidence"
)

// DefaultRoles is the role set the original campaign autopilot ships with.
// The registry itself stays open; this list only seeds examples and tests.
var DefaultRoles = []string{
	"strategist",
	"pitch",
	"contact",
	"scheduler",
	"followup",
	"analyst",
	"archivist",
	"simulator",
	"coordinator",
}

// ScriptedExecutor replays a fixed sequence of results for a role. It backs
// scheduler and replay tests, and serves as the deterministic baseline when
// checking replay drift against unchanged agent logic.
type ScriptedExecutor struct {
	role    string
	mu      sync.Mutex
	results []*Result
	errs    []error
	next    int

	// Calls records every input handed to the executor, in order.
	Calls []json.RawMessage
}

// NewScriptedExecutor creates a scripted executor for a role.
func NewScriptedExecutor(role string) *ScriptedExecutor {
	return &ScriptedExecutor{role: role}
}

// Queue appends a result to the script.
func (s *ScriptedExecutor) Queue(r *Result) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	s.errs = append(s.errs, nil)
	return s
}

// QueueError appends an execution failure to the script.
func (s *ScriptedExecutor) QueueError(err error) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, nil)
	s.errs = append(s.errs, err)
	return s
}

// Role implements Executor.
func (s *ScriptedExecutor) Role() string { return s.role }

// Execute implements Executor. When the script is exhausted it repeats the
// last queued entry, which keeps replays of longer runs deterministic.
func (s *ScriptedExecutor) Execute(_ context.Context, input json.RawMessage) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = append(s.Calls, input)

	if len(s.results) == 0 {
		return nil, errors.New("scripted executor has no queued results")
	}

	i := s.next
	if i >= len(s.results) {
		i = len(s.results) - 1
	} else {
		s.next++
	}

	if s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.results[i], nil
}

// ConstantExecutor always returns the same result. Useful as an unchanged
// agent baseline for replay determinism checks.
type ConstantExecutor struct {
	role      string
	success   bool
	breakdown confidence.Breakdown
}

// NewConstantExecutor creates an executor that always succeeds with the
// given breakdown.
func NewConstantExecutor(role string, b confidence.Breakdown) *ConstantExecutor {
	return &ConstantExecutor{role: role, success: true, breakdown: b}
}

// Role implements Executor.
func (c *ConstantExecutor) Role() string { return c.role }

// Execute implements Executor.
func (c *ConstantExecutor) Execute(_ context.Context, input json.RawMessage) (*Result, error) {
	return &Result{
		Success:   c.success,
		Output:    input,
		Breakdown: c.breakdown,
	}, nil
}
