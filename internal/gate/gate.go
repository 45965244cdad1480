// Package gate decides whether a scored task action is auto-approved,
// queued for human review, or rejected outright, based on the mission's
// autonomy mode and risk tolerance.
package gate

import (
	"log/slog"

	"github.com/total-audio/autopilot/internal/logging"
	"github.com/total-audio/autopilot/internal/mission"
)

// Decision is the terminal disposition for one task/result pair. Decisions
// are never revisited.
type Decision string

const (
	// AutoApproved lets the task's action proceed without human review.
	AutoApproved Decision = "auto_approved"

	// QueuedForReview holds the task's action for a human operator.
	QueuedForReview Decision = "queued_for_review"

	// Rejected blocks the action entirely. Only full_auto missions reject,
	// since no human is in the loop to review low-confidence work.
	Rejected Decision = "rejected"
)

// Approved reports whether the decision authorizes the action without
// human involvement. This is what the telemetry event's approved flag
// records.
func (d Decision) Approved() bool {
	return d == AutoApproved
}

// Gate evaluates gating decisions. It is stateless and safe for concurrent
// use; all inputs arrive per call.
type Gate struct {
	log *slog.Logger
}

// New creates a gate.
func New() *Gate {
	return &Gate{log: logging.WithComponent("gate")}
}

// Decide maps mode, risk tolerance, and score to a terminal decision.
// The mission config is validated at creation time, so thresholds are
// trusted here.
func (g *Gate) Decide(mode mission.Mode, cfg mission.Config, score float64) Decision {
	var d Decision
	switch mode {
	case mission.ModeSuggest:
		// Suggest mode only proposes; confidence is irrelevant.
		d = QueuedForReview
	case mission.ModeSemiAuto:
		if score >= cfg.RiskTolerance {
			d = AutoApproved
		} else {
			d = QueuedForReview
		}
	case mission.ModeFullAuto:
		switch {
		case score >= cfg.RiskTolerance:
			d = AutoApproved
		case score < cfg.SafetyFloor:
			d = Rejected
		default:
			d = QueuedForReview
		}
	default:
		// Unknown modes never reach here through validated missions; hold
		// for review rather than act.
		d = QueuedForReview
	}

	g.log.Debug("gate decision",
		slog.String("mode", string(mode)),
		slog.Float64("score", score),
		slog.Float64("risk_tolerance", cfg.RiskTolerance),
		slog.String("decision", string(d)),
	)
	return d
}
