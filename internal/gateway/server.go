// Package gateway exposes the control plane over HTTP: mission and task
// management, dashboards, replays, and a WebSocket telemetry stream.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/total-audio/autopilot/internal/logging"
	"github.com/total-audio/autopilot/internal/mission"
	"github.com/total-audio/autopilot/internal/replay"
	"github.com/total-audio/autopilot/internal/scheduler"
	"github.com/total-audio/autopilot/internal/telemetry"
)

// Config holds gateway server configuration including network binding options.
type Config struct {
	// Host is the network interface to bind to (e.g., "127.0.0.1" or "0.0.0.0").
	Host string `yaml:"host"`
	// Port is the TCP port number to listen on.
	Port int `yaml:"port"`
	// AuthToken, when set, requires a matching bearer token on /api/v1/*.
	AuthToken string `yaml:"auth_token,omitempty"`
}

// Store is the read surface the gateway serves. Writes go through the
// scheduler and the replay engine, never through the store directly.
type Store interface {
	GetMission(id string) (*mission.Mission, error)
	ListMissions(limit int) ([]*mission.Mission, error)
	GetTask(id string) (*mission.Task, error)
	TasksForMission(missionID string) ([]*mission.Task, error)
	RunsForMission(missionID string) ([]*mission.Run, error)
}

// Server handles HTTP and WebSocket connections for the control plane.
// Safe for concurrent use.
type Server struct {
	config    *Config
	store     Store
	scheduler *scheduler.Scheduler
	replays   *replay.Engine
	telemetry *telemetry.Engine
	upgrader  websocket.Upgrader
	server    *http.Server
	log       *slog.Logger
	mu        sync.RWMutex
	running   bool
}

// NewServer creates a new gateway server. The server is not started until
// Start is called.
func NewServer(config *Config, store Store, sched *scheduler.Scheduler, replays *replay.Engine, tel *telemetry.Engine) *Server {
	return &Server{
		config:    config,
		store:     store,
		scheduler: sched,
		replays:   replays,
		telemetry: tel,
		log:       logging.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Allow requests with no origin (same-origin, CLI tools, etc.)
				if origin == "" {
					return true
				}
				// Allow localhost origins for development
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "https://127.0.0.1")
			},
		},
	}
}

// Handler builds the HTTP routing table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		if s.config.AuthToken != "" {
			r.Use(BearerAuth(s.config.AuthToken))
		}

		r.Post("/tasks/{taskID}/result", s.handleTaskResult)

		r.Route("/missions", func(r chi.Router) {
			r.Post("/", s.handleCreateMission)
			r.Get("/", s.handleListMissions)

			r.Route("/{missionID}", func(r chi.Router) {
				r.Get("/", s.handleGetMission)
				r.Patch("/", s.handleUpdateMission)
				r.Post("/tasks", s.handleEnqueueTask)
				r.Get("/tasks", s.handleListTasks)
				r.Get("/runs", s.handleListRuns)
				r.Get("/dashboard", s.handleDashboard)
				r.Post("/replays", s.handleCreateReplay)
				r.Get("/replays", s.handleListReplays)
				r.Get("/telemetry/stream", s.handleTelemetryStream)
			})
		})
	})

	return r
}

// Start starts the gateway server and blocks until the context is cancelled
// or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("Gateway starting", slog.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server with a 30-second timeout.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.running = false
	return s.server.Shutdown(ctx)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}
