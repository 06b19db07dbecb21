package web

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/postalsys/ssh-mcp-server/internal/logging"
	"github.com/postalsys/ssh-mcp-server/internal/session"
)

// sessionListMessage is the monitoring socket's periodic payload.
type sessionListMessage struct {
	Type      string            `json:"type"`
	Sessions  []session.Summary `json:"sessions"`
	Timestamp time.Time         `json:"timestamp"`
}

const monitoringInterval = 2 * time.Second

// handleMonitoringWS upgrades the session-agnostic monitoring socket. It
// pushes the session list on attach and on every change tick; inbound
// messages are drained and ignored.
func (s *Server) handleMonitoringWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}

	logger := s.logger.With(logging.KeyRemoteAddr, r.RemoteAddr)
	logger.Debug("monitoring client connected")
	WSConnectionsActive.WithLabelValues("monitoring").Inc()
	defer WSConnectionsActive.WithLabelValues("monitoring").Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain inbound so pings and close frames are processed.
	go func() {
		defer cancel()
		for {
			if _, _, rerr := conn.Read(ctx); rerr != nil {
				return
			}
		}
	}()

	writer := &wsWriter{conn: conn}
	ticker := time.NewTicker(monitoringInterval)
	defer ticker.Stop()

	for {
		msg := sessionListMessage{
			Type:      "session_list",
			Sessions:  s.registry.List(),
			Timestamp: time.Now(),
		}
		if werr := writer.sendJSON(ctx, msg); werr != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
