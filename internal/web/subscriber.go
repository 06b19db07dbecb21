package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/postalsys/ssh-mcp-server/internal/broadcast"
	"github.com/postalsys/ssh-mcp-server/internal/logging"
	"github.com/postalsys/ssh-mcp-server/internal/recovery"
	"github.com/postalsys/ssh-mcp-server/internal/session"
	"github.com/postalsys/ssh-mcp-server/internal/wsproto"
)

const writeTimeout = 10 * time.Second

// wsWriter serializes writes to one WebSocket connection. The outbound
// pump and the inbound dispatch (recovery replies, malformed acks) both
// write, and nhooyr allows a single concurrent writer.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) sendJSON(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return w.conn.Write(wctx, websocket.MessageText, data)
}

// handleSessionWS upgrades a per-session subscriber socket. The handler
// goroutine runs the inbound loop; a second goroutine pumps broadcast
// events out. nhooyr requires the handler to stay alive for the socket's
// lifetime.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/ws/session/")
	sess, serr := s.registry.Get(name)
	if serr != nil {
		http.NotFound(w, r)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}

	logger := s.logger.With(
		logging.KeySession, name,
		logging.KeyRemoteAddr, r.RemoteAddr)
	logger.Info("subscriber connected")
	WSConnectionsActive.WithLabelValues("session").Inc()
	defer WSConnectionsActive.WithLabelValues("session").Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := sess.Attach()
	defer sess.Detach(sub)

	writer := &wsWriter{conn: conn}

	if err := s.sendOnboarding(ctx, writer, sess, sub); err != nil {
		conn.Close(websocket.StatusInternalError, "onboarding failed")
		return
	}

	go func() {
		defer recovery.RecoverWithLog(logger, "wsOutboundPump")
		defer cancel()
		s.pumpEvents(ctx, writer, sub)
		conn.Close(websocket.StatusNormalClosure, "session stream ended")
	}()

	s.inboundLoop(ctx, conn, writer, sess, logger)
	conn.Close(websocket.StatusNormalClosure, "")
	logger.Info("subscriber disconnected", logging.KeySubscriber, sub.ID())
}

// sendOnboarding delivers the history snapshot and the current lock state
// before any live event.
func (s *Server) sendOnboarding(ctx context.Context, writer *wsWriter, sess *session.Session, sub *broadcast.Subscriber) error {
	snap, seq := sub.Snapshot()
	if len(snap) > 0 {
		if err := writer.sendJSON(ctx, wsproto.NewTerminalOutput(string(snap), "", seq)); err != nil {
			return err
		}
	}
	return writer.sendJSON(ctx, sess.LockState())
}

// pumpEvents drains the subscriber queue into the socket until the queue
// closes (detach, overflow, or session end) or the socket dies.
func (s *Server) pumpEvents(ctx context.Context, writer *wsWriter, sub *broadcast.Subscriber) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			var msg any
			if ev.Chunk != nil {
				msg = wsproto.NewTerminalOutput(string(ev.Chunk.Data), "", ev.Chunk.Seq)
			} else {
				msg = ev.Control
			}
			if err := writer.sendJSON(ctx, msg); err != nil {
				return
			}
			WSOutboundTotal.Inc()
		case <-ctx.Done():
			return
		}
	}
}

// inboundLoop reads, rate-limits, decodes, and dispatches client messages.
// Malformed input is acknowledged and dropped; the socket stays open.
func (s *Server) inboundLoop(ctx context.Context, conn *websocket.Conn, writer *wsWriter, sess *session.Session, logger *slog.Logger) {
	var limiter *rate.Limiter
	if s.cfg.InboundRate > 0 {
		burst := s.cfg.InboundBurst
		if burst <= 0 {
			burst = int(s.cfg.InboundRate)
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.InboundRate), burst)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		msg, err := wsproto.DecodeInbound(data)
		if err != nil {
			logger.Warn("malformed inbound message", logging.KeyError, err)
			WSMalformedTotal.Inc()
			writer.sendJSON(ctx, wsproto.NewMalformedMessageHandled())
			continue
		}

		s.dispatchInbound(ctx, writer, sess, msg, logger)
	}
}

// dispatchInbound routes one decoded client message to the session.
// Command errors surface through the broadcast hub; only state recovery
// answers on this socket directly.
func (s *Server) dispatchInbound(ctx context.Context, writer *wsWriter, sess *session.Session, msg any, logger *slog.Logger) {
	switch m := msg.(type) {
	case wsproto.TerminalInput:
		WSInboundTotal.WithLabelValues(wsproto.TypeTerminalInput).Inc()
		if err := sess.SubmitBrowser(m.Command, m.CommandID, session.ParseSource(m.Source)); err != nil {
			logger.Debug("browser command rejected",
				logging.KeyCommandID, m.CommandID, logging.KeyError, err)
		}

	case wsproto.TerminalInputRaw:
		WSInboundTotal.WithLabelValues(wsproto.TypeTerminalInputRaw).Inc()
		if err := sess.WriteRaw([]byte(m.Data)); err != nil {
			logger.Debug("raw input dropped", logging.KeyError, err)
		}

	case wsproto.TerminalSignal:
		WSInboundTotal.WithLabelValues(wsproto.TypeTerminalSignal).Inc()
		if err := sess.Signal(m.Signal); err != nil {
			logger.Debug("signal rejected", "signal", m.Signal, logging.KeyError, err)
		}

	case wsproto.TerminalResize:
		WSInboundTotal.WithLabelValues(wsproto.TypeTerminalResize).Inc()
		if err := sess.Resize(m.Cols, m.Rows); err != nil {
			logger.Debug("resize failed", logging.KeyError, err)
		}

	case wsproto.RequestStateRecovery:
		WSInboundTotal.WithLabelValues(wsproto.TypeRequestStateRecovery).Inc()
		snap, seq := sess.Snapshot()
		writer.sendJSON(ctx, wsproto.NewTerminalOutput(string(snap), "", seq))
		writer.sendJSON(ctx, sess.LockState())

	default:
		logger.Warn("unhandled inbound message", logging.KeyMsgType, typeName(msg))
		WSMalformedTotal.Inc()
		writer.sendJSON(ctx, wsproto.NewMalformedMessageHandled())
	}
}

func typeName(msg any) string {
	return fmt.Sprintf("%T", msg)
}
