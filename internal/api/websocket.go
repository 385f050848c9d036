package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/brand-onboarding/internal/onboarding"
	"github.com/ashureev/brand-onboarding/internal/transcript"
)

const wsWriteTimeout = 10 * time.Second

// wsInbound is a client frame.
type wsInbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsTurn answers a "message" frame.
type wsTurn struct {
	Type string `json:"type"`
	onboarding.TurnResult
}

type wsError struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// ServeWebSocket upgrades to a turn channel for one session. Each text frame
// {"type":"message","content":...} runs one turn.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if _, err := h.svc.GetSession(r.Context(), sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.conns.Register(sessionID, ws)
	defer h.conns.Unregister(sessionID, ws)

	ctx := transcript.WithChannel(r.Context(), "ws")
	h.readLoop(ctx, ws, sessionID)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendWS(ctx, ws, wsError{Type: "error", Error: "invalid frame", Status: http.StatusBadRequest})
			continue
		}

		switch msg.Type {
		case "message":
			result, err := h.svc.SendTurn(ctx, sessionID, msg.Content)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				h.sendWS(ctx, ws, h.wsErrorFor(sessionID, err))
				continue
			}
			if err := h.sendWS(ctx, ws, wsTurn{Type: "turn", TurnResult: result}); err != nil {
				return
			}
		case "ping":
			if err := h.sendWS(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				return
			}
		default:
			h.sendWS(ctx, ws, wsError{Type: "error", Error: "unknown frame type " + msg.Type, Status: http.StatusBadRequest})
		}
	}
}

func (h *Handler) wsErrorFor(sessionID string, err error) wsError {
	status := StatusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error("WebSocket turn failed", "session_id", sessionID, "error", err)
		msg = "internal error"
	case http.StatusBadGateway:
		msg = "assistant unavailable, please retry"
	}
	return wsError{Type: "error", Error: msg, Status: status}
}

func (h *Handler) sendWS(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wsWriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		h.logger.Debug("WebSocket write error", "error", err)
		return err
	}
	return nil
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// connRegistry keeps one live socket per session. A new connection for the
// same session closes the previous one.
type connRegistry struct {
	mu     sync.Mutex
	active map[string]*websocket.Conn
	logger *slog.Logger
}

func newConnRegistry(logger *slog.Logger) *connRegistry {
	return &connRegistry{active: make(map[string]*websocket.Conn), logger: logger}
}

func (c *connRegistry) Register(sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.active[sessionID]; ok && existing != conn {
		// Close waits for the peer's close frame; don't hold mu for that.
		go func() { _ = existing.Close(websocket.StatusPolicyViolation, "session replaced") }()
	}
	c.active[sessionID] = conn
	c.logger.Info("Onboarding socket registered", "session_id", sessionID)
}

func (c *connRegistry) Unregister(sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.active[sessionID]; ok && current == conn {
		delete(c.active, sessionID)
		c.logger.Info("Onboarding socket unregistered", "session_id", sessionID)
	}
}

// Len reports the number of live sockets.
func (c *connRegistry) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
