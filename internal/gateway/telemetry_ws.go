package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	// wsPingInterval is the interval between ping frames sent to the client.
	wsPingInterval = 30 * time.Second
	// wsPongTimeout is how long to wait for a pong response before closing.
	wsPongTimeout = 10 * time.Second
	// wsWriteTimeout is the deadline for writing a message to the client.
	wsWriteTimeout = 5 * time.Second
)

// handleTelemetryStream upgrades the connection to WebSocket and pushes the
// mission's telemetry events as they are recorded. Events emitted before
// the connection are not replayed; the dashboard endpoint covers history.
func (s *Server) handleTelemetryStream(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "missionID")
	if _, err := s.store.GetMission(missionID); err != nil {
		s.respondError(w, err, true)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade error", slog.Any("error", err))
		return
	}
	defer conn.Close()

	s.log.Info("Telemetry stream connected",
		slog.String("mission_id", missionID),
		slog.String("remote", r.RemoteAddr),
	)

	events, cancel := s.telemetry.Subscribe(missionID)
	defer cancel()

	// Set up pong handler for keepalive.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))

	// Read pump: drain client messages (none expected) and detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					s.log.Warn("Telemetry stream read error", slog.Any("error", err))
				}
				return
			}
		}
	}()

	// Write pump: stream events and send pings.
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("Telemetry stream write error", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
