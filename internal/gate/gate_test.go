package gate

import (
	"testing"

	"github.com/total-audio/autopilot/internal/mission"
)

func TestDecide_SuggestNeverAutoApproves(t *testing.T) {
	g := New()
	cfg := mission.Config{RiskTolerance: 0.1}

	for _, score := range []float64{0, 0.5, 0.99, 1.0} {
		if d := g.Decide(mission.ModeSuggest, cfg, score); d != QueuedForReview {
			t.Errorf("suggest mode with score %v: got %s, want %s", score, d, QueuedForReview)
		}
	}
}

func TestDecide_SemiAuto(t *testing.T) {
	g := New()
	cfg := mission.Config{RiskTolerance: 0.7}

	tests := []struct {
		name  string
		score float64
		want  Decision
	}{
		{"well above tolerance", 0.84, AutoApproved},
		{"exactly at tolerance", 0.7, AutoApproved},
		{"just below tolerance", 0.69, QueuedForReview},
		{"midpoint", 0.5, QueuedForReview},
		{"zero", 0, QueuedForReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := g.Decide(mission.ModeSemiAuto, cfg, tt.score); d != tt.want {
				t.Errorf("score %v: got %s, want %s", tt.score, d, tt.want)
			}
		})
	}
}

func TestDecide_SemiAutoNeverRejects(t *testing.T) {
	g := New()
	cfg := mission.Config{RiskTolerance: 0.9, SafetyFloor: 0.5}

	if d := g.Decide(mission.ModeSemiAuto, cfg, 0.1); d == Rejected {
		t.Error("semi_auto must queue low scores for review, not reject")
	}
}

func TestDecide_FullAuto(t *testing.T) {
	g := New()
	cfg := mission.Config{RiskTolerance: 0.7, SafetyFloor: 0.3}

	tests := []struct {
		name  string
		score float64
		want  Decision
	}{
		{"above tolerance", 0.8, AutoApproved},
		{"at tolerance", 0.7, AutoApproved},
		{"between floor and tolerance", 0.5, QueuedForReview},
		{"at floor", 0.3, QueuedForReview},
		{"below floor", 0.1, Rejected},
		{"zero", 0, Rejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := g.Decide(mission.ModeFullAuto, cfg, tt.score); d != tt.want {
				t.Errorf("score %v: got %s, want %s", tt.score, d, tt.want)
			}
		})
	}
}

func TestDecide_FullAutoBelowFloorNeverQueued(t *testing.T) {
	g := New()
	cfg := mission.Config{RiskTolerance: 0.9, SafetyFloor: 0.3}

	for _, score := range []float64{0, 0.1, 0.29} {
		if d := g.Decide(mission.ModeFullAuto, cfg, score); d != Rejected {
			t.Errorf("full_auto score %v below floor: got %s, want %s", score, d, Rejected)
		}
	}
}

func TestDecision_Approved(t *testing.T) {
	if !AutoApproved.Approved() {
		t.Error("auto_approved should report approved")
	}
	if QueuedForReview.Approved() {
		t.Error("queued_for_review should not report approved")
	}
	if Rejected.Approved() {
		t.Error("rejected should not report approved")
	}
}
