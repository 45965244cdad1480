package replay

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/total-audio/autopilot/internal/logging"
	"github.com/total-audio/autopilot/internal/mission"
)

// MonitorStore lists the missions and runs the drift monitor sweeps.
type MonitorStore interface {
	ListMissions(limit int) ([]*mission.Mission, error)
	RunsForMission(missionID string) ([]*mission.Run, error)
}

// MonitorConfig controls the scheduled drift sweep.
type MonitorConfig struct {
	// Schedule is a cron expression. Empty disables the monitor.
	Schedule string `yaml:"schedule"`

	// DriftThreshold is the match percentage below which a replay is
	// logged as drift.
	DriftThreshold float64 `yaml:"drift_threshold"`
}

// DefaultMonitorConfig sweeps nightly and flags anything below a full match.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Schedule:       "0 3 * * *",
		DriftThreshold: 100,
	}
}

// Monitor replays the latest finished run of every live mission on a cron
// schedule and logs drift. It only reads and replays; it never mutates the
// originals.
type Monitor struct {
	config *MonitorConfig
	engine *Engine
	store  MonitorStore
	cron   *cron.Cron
	log    *slog.Logger
}

// NewMonitor creates a drift monitor.
func NewMonitor(config *MonitorConfig, engine *Engine, store MonitorStore) *Monitor {
	if config == nil {
		config = DefaultMonitorConfig()
	}
	return &Monitor{
		config: config,
		engine: engine,
		store:  store,
		cron:   cron.New(),
		log:    logging.WithComponent("replay-monitor"),
	}
}

// Start schedules the sweep. Returns without scheduling when no cron
// expression is configured.
func (m *Monitor) Start() error {
	if m.config.Schedule == "" {
		m.log.Info("Drift monitor disabled, no schedule configured")
		return nil
	}
	if _, err := m.cron.AddFunc(m.config.Schedule, m.Sweep); err != nil {
		return err
	}
	m.cron.Start()
	m.log.Info("Drift monitor started", slog.String("schedule", m.config.Schedule))
	return nil
}

// Stop stops the cron scheduler. A sweep already in flight finishes.
func (m *Monitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// Sweep replays the latest finished run of every non-replay mission once.
func (m *Monitor) Sweep() {
	missions, err := m.store.ListMissions(500)
	if err != nil {
		m.log.Error("Drift sweep failed to list missions", slog.Any("error", err))
		return
	}

	for _, ms := range missions {
		if ms.Replay {
			continue
		}
		run := m.latestFinishedRun(ms.ID)
		if run == nil {
			continue
		}

		rec, err := m.engine.Run(context.Background(), ms.ID, run.ID)
		if err != nil {
			m.log.Error("Drift replay failed",
				slog.String("mission_id", ms.ID),
				slog.String("run_id", run.ID),
				slog.Any("error", err),
			)
			continue
		}

		if rec.MatchPercentage < m.config.DriftThreshold {
			m.log.Warn("Drift detected",
				slog.String("mission_id", ms.ID),
				slog.String("run_id", run.ID),
				slog.Float64("match_percentage", rec.MatchPercentage),
				slog.Int("deviations", len(rec.Deviations)),
			)
		} else {
			m.log.Debug("No drift",
				slog.String("mission_id", ms.ID),
				slog.Float64("match_percentage", rec.MatchPercentage),
			)
		}
	}
}

func (m *Monitor) latestFinishedRun(missionID string) *mission.Run {
	runs, err := m.store.RunsForMission(missionID)
	if err != nil {
		m.log.Error("Drift sweep failed to list runs",
			slog.String("mission_id", missionID),
			slog.Any("error", err),
		)
		return nil
	}
	for _, r := range runs {
		if r.Status != mission.RunRunning {
			return r
		}
	}
	return nil
}
