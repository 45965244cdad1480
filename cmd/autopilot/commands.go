package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/total-audio/autopilot/internal/agent"
	"github.com/total-audio/autopilot/internal/banner"
	"github.com/total-audio/autopilot/internal/confidence"
	"github.com/total-audio/autopilot/internal/config"
	"github.com/total-audio/autopilot/internal/gate"
	"github.com/total-audio/autopilot/internal/gateway"
	"github.com/total-audio/autopilot/internal/logging"
	"github.com/total-audio/autopilot/internal/replay"
	"github.com/total-audio/autopilot/internal/scheduler"
	"github.com/total-audio/autopilot/internal/store"
	"github.com/total-audio/autopilot/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var (
		cfgFile  string
		simulate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Autopilot control plane",
		Long: `Starts the scheduler, the drift monitor, and the HTTP gateway, then
blocks until SIGINT or SIGTERM.

With --simulate, a deterministic executor is registered for every default
agent role so missions can be exercised without live agents.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				cfgFile = config.DefaultConfigPath()
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return fmt.Errorf("failed to init logging: %w", err)
			}

			st, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			registry := agent.NewRegistry()
			if simulate {
				for _, role := range agent.DefaultRoles {
					registry.Register(agent.NewConstantExecutor(role, confidence.Breakdown{
						DataCompleteness: 0.9,
						RiskAssessment:   0.9,
						PolicyCompliance: 0.9,
						CapabilityMatch:  0.9,
						ContextQuality:   0.9,
					}))
				}
				fmt.Printf("🧪 Simulation mode: %d scripted agent roles registered\n", len(agent.DefaultRoles))
			}

			g := gate.New()
			tel := telemetry.NewEngine(st, st)
			sched := scheduler.New(st, registry, g, tel, cfg.Scheduler)
			replays := replay.NewEngine(st, registry, g, tel)
			monitor := replay.NewMonitor(cfg.Replay, replays, st)
			server := gateway.NewServer(cfg.Gateway, st, sched, replays, tel)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Println("\n⚠️  Shutting down...")
				cancel()
			}()

			sched.Start()
			defer sched.Stop()

			if err := monitor.Start(); err != nil {
				return fmt.Errorf("failed to start drift monitor: %w", err)
			}
			defer monitor.Stop()

			banner.StartupBanner(version, fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))
			fmt.Printf("   Store:  %s\n", cfg.Store.Path)
			fmt.Printf("   Drift:  %s\n", cfg.Replay.Schedule)
			fmt.Println()

			return server.Start(ctx)
		},
	}

	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Config file path")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Register deterministic executors for the default roles")
	return cmd
}

func newInitCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				cfgFile = config.DefaultConfigPath()
			}
			if _, err := os.Stat(cfgFile); err == nil {
				return fmt.Errorf("config already exists at %s", cfgFile)
			}
			if err := config.Save(config.DefaultConfig(), cfgFile); err != nil {
				return err
			}
			fmt.Printf("🔧 Wrote default config to %s\n", cfgFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Config file path")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether the control plane is up",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				cfgFile = config.DefaultConfigPath()
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			url := fmt.Sprintf("http://%s:%d/health", cfg.Gateway.Host, cfg.Gateway.Port)
			client := &http.Client{Timeout: 3 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				fmt.Println("📊 Autopilot Status")
				fmt.Println("───────────────────")
				fmt.Println("Status: Not running")
				return nil
			}
			defer func() { _ = resp.Body.Close() }()

			var health map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&health)
			fmt.Println("📊 Autopilot Status")
			fmt.Println("───────────────────")
			fmt.Printf("Status: %s\n", health["status"])
			fmt.Printf("Gateway: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Config file path")
	return cmd
}

func newReplayCmd() *cobra.Command {
	var (
		cfgFile  string
		simulate bool
	)

	cmd := &cobra.Command{
		Use:   "replay <mission-id> <run-id>",
		Short: "Replay a recorded run and report drift",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			missionID, runID := args[0], args[1]

			if cfgFile == "" {
				cfgFile = config.DefaultConfigPath()
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logging.Suppress()

			st, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			registry := agent.NewRegistry()
			if simulate {
				for _, role := range agent.DefaultRoles {
					registry.Register(agent.NewConstantExecutor(role, confidence.Breakdown{
						DataCompleteness: 0.9,
						RiskAssessment:   0.9,
						PolicyCompliance: 0.9,
						CapabilityMatch:  0.9,
						ContextQuality:   0.9,
					}))
				}
			}

			tel := telemetry.NewEngine(st, st)
			engine := replay.NewEngine(st, registry, gate.New(), tel)

			rec, err := engine.Run(cmd.Context(), missionID, runID)
			if err != nil {
				return err
			}

			fmt.Println("🔁 Replay Result")
			fmt.Println("────────────────")
			fmt.Printf("   Replay ID:  %s\n", rec.ID)
			fmt.Printf("   Match:      %.1f%%\n", rec.MatchPercentage)
			fmt.Printf("   Deviations: %d\n", len(rec.Deviations))
			for _, d := range rec.Deviations {
				fmt.Printf("     - task %s %s: %s → %s\n", d.TaskID, d.Field, d.OriginalValue, d.ReplayValue)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Config file path")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Register deterministic executors for the default roles")
	return cmd
}
