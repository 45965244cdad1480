package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/total-audio/autopilot/internal/confidence"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	exec := NewConstantExecutor("pitch", confidence.Breakdown{})
	r.Register(exec)

	got, err := r.Lookup("pitch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Role() != "pitch" {
		t.Errorf("Role() = %q, want %q", got.Role(), "pitch")
	}
}

func TestRegistry_UnknownRole(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("strategist")
	if !errors.Is(err, ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
	if r.Has("strategist") {
		t.Error("Has should report false for unregistered role")
	}
}

func TestRegistry_RolesSorted(t *testing.T) {
	r := NewRegistry()
	for _, role := range []string{"pitch", "analyst", "strategist"} {
		r.Register(NewConstantExecutor(role, confidence.Breakdown{}))
	}

	roles := r.Roles()
	want := []string{"analyst", "pitch", "strategist"}
	if len(roles) != len(want) {
		t.Fatalf("got %d roles, want %d", len(roles), len(want))
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("roles[%d] = %q, want %q", i, roles[i], want[i])
		}
	}
}

func TestParseRawResult(t *testing.T) {
	raw := []byte(`{
		"success": true,
		"output": {"pitch_id": "p-1"},
		"confidence": {
			"data_completeness": 0.9,
			"risk_assessment": 0.8,
			"policy_compliance": 1.0,
			"capability_match": 0.7,
			"context_quality": 0.6
		}
	}`)

	res, err := ParseRawResult(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if res.Breakdown.DataCompleteness != 0.9 || res.Breakdown.ContextQuality != 0.6 {
		t.Errorf("breakdown not parsed: %+v", res.Breakdown)
	}
	var out map[string]string
	if err := json.Unmarshal(res.Output, &out); err != nil {
		t.Fatalf("output not preserved: %v", err)
	}
	if out["pitch_id"] != "p-1" {
		t.Errorf("output = %v", out)
	}
}

func TestParseRawResult_MissingDimension(t *testing.T) {
	raw := []byte(`{
		"success": true,
		"confidence": {
			"data_completeness": 0.9,
			"risk_assessment": 0.8,
			"policy_compliance": 1.0,
			"capability_match": 0.7
		}
	}`)

	_, err := ParseRawResult(raw)
	if !errors.Is(err, confidence.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing dimension, got %v", err)
	}
}

func TestParseRawResult_InvalidJSON(t *testing.T) {
	_, err := ParseRawResult([]byte(`{"success": tru`))
	if !errors.Is(err, confidence.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestScriptedExecutor_SequenceAndRepeat(t *testing.T) {
	exec := NewScriptedExecutor("analyst").
		Queue(&Result{Success: true, Breakdown: confidence.Breakdown{DataCompleteness: 1}}).
		Queue(&Result{Success: false, Error: "no data"})

	ctx := context.Background()

	first, err := exec.Execute(ctx, json.RawMessage(`{"n":1}`))
	if err != nil || !first.Success {
		t.Fatalf("first call: result=%+v err=%v", first, err)
	}

	second, err := exec.Execute(ctx, json.RawMessage(`{"n":2}`))
	if err != nil || second.Success {
		t.Fatalf("second call: result=%+v err=%v", second, err)
	}

	// Script exhausted: repeats the last entry.
	third, err := exec.Execute(ctx, json.RawMessage(`{"n":3}`))
	if err != nil || third.Success {
		t.Fatalf("third call: result=%+v err=%v", third, err)
	}

	if len(exec.Calls) != 3 {
		t.Errorf("recorded %d calls, want 3", len(exec.Calls))
	}
}

func TestScriptedExecutor_QueuedError(t *testing.T) {
	wantErr := errors.New("capability offline")
	exec := NewScriptedExecutor("contact").QueueError(wantErr)

	_, err := exec.Execute(context.Background(), nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected queued error, got %v", err)
	}
}
