// Package agent defines the task-execution capability boundary. The control
// plane never inspects the semantic content of task inputs or outputs; it
// consumes only success/failure and the confidence breakdown an executor
// declares for its result.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/total-audio/autopilot/internal/confidence"
)

// ErrUnknownRole indicates no executor is registered for an agent role.
var ErrUnknownRole = errors.New("unknown agent role")

// Result is what an executor reports back for one task execution attempt.
type Result struct {
	// Success reports whether the work itself succeeded. Authorization is
	// decided separately by the autonomy gate.
	Success bool

	// Output is the opaque result payload, stored on the task verbatim.
	Output json.RawMessage

	// Breakdown is the executor's declared confidence evidence for this
	// result. The scorer turns it into the normalized score.
	Breakdown confidence.Breakdown

	// Error carries the execution failure detail when Success is false.
	Error string
}

// Executor performs the work for one agent role.
// Implementations live outside the control plane (content generation,
// outreach, research); the core only routes to them by role.
type Executor interface {
	// Role returns the agent role tag this executor serves.
	Role() string

	// Execute runs one task input to completion. A returned error is an
	// execution failure of the capability itself, recorded as success=false.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Registry resolves agent roles to executors at dispatch time. Roles are
// an open set; registering an executor makes its role routable.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds or replaces the executor for a role.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Role()] = e
}

// Lookup returns the executor for a role.
func (r *Registry) Lookup(role string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return e, nil
}

// Has reports whether a role is routable.
func (r *Registry) Has(role string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[role]
	return ok
}

// Roles returns all registered roles, sorted.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]string, 0, len(r.executors))
	for role := range r.executors {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
