package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/aexy-app/aexy/internal/conversation"
	"github.com/aexy-app/aexy/internal/identity"
	"github.com/aexy-app/aexy/internal/metrics"
)

const writeTimeout = 10 * time.Second

// Handler upgrades requests to WebSocket connections bound to one live session.
type Handler struct {
	sessions      *conversation.Manager
	hub           *Hub
	metrics       *metrics.Metrics
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a live Handler. m may be nil.
func NewHandler(sessions *conversation.Manager, hub *Hub, m *metrics.Metrics, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:      sessions,
		hub:           hub,
		metrics:       m,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// command is a client to server frame.
type command struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type snapshotFrame struct {
	Type    string                `json:"type"`
	Session conversation.Snapshot `json:"session"`
}

type resultFrame struct {
	Type   string                  `json:"type"`
	Result conversation.TurnResult `json:"result"`
	Error  string                  `json:"error,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func errFrame(code string) errorFrame { return errorFrame{Type: "error", Error: code} }

// ServeHTTP implements http.Handler for the WebSocket upgrade.
//
// The first frame is a snapshot of the session. Every session event follows
// as it happens; events may repeat messages already in the snapshot, and
// clients dedupe by message id.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	conversationID := chi.URLParam(r, "id")

	sess, err := h.sessions.Get(userID, conversationID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	c := h.hub.register(userID, conversationID)
	defer h.hub.unregister(c)

	// A dispose that ran before register published its event to nobody.
	if sess.Disposed() {
		h.writeDisposed(r.Context(), ws, c)
		return
	}
	c.push(snapshotFrame{Type: "snapshot", Session: sess.Snapshot()})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, sess, c)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, c)
	}()

	wg.Wait()
	h.logger.Info("Live connection ended", "user_id", userID, "conversation_id", conversationID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sess *conversation.Session, c *client) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				h.logger.Debug("WebSocket closed by client", "user_id", c.userID)
			case ctx.Err() == nil:
				h.logger.Warn("WebSocket read error", "error", err, "user_id", c.userID)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.push(errFrame("invalid_frame"))
			continue
		}

		switch cmd.Type {
		case "send":
			// Send rejects a second turn while one is loading, so turns
			// never overlap even though each runs on its own goroutine.
			go h.runTurn(context.WithoutCancel(ctx), sess, c, cmd.Content)
		case "end":
			if _, err := sess.End(ctx); err != nil {
				c.push(errFrame("session_not_active"))
			}
		case "ping":
			c.push(map[string]string{"type": "pong"})
		default:
			c.push(errFrame("unknown_command"))
		}
	}
}

func (h *Handler) runTurn(ctx context.Context, sess *conversation.Session, c *client, content string) {
	start := time.Now()
	result, err := sess.Send(ctx, content)
	if h.metrics != nil {
		h.metrics.RecordTurn(result, time.Since(start))
	}

	frame := resultFrame{Type: "turn_result", Result: result}
	if err != nil {
		h.logger.Warn("Turn rolled back", "user_id", c.userID, "conversation_id", c.conversationID, "error", err)
		frame.Error = "generator_failed"
	}
	c.push(frame)
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.out:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, ws, frame)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("WebSocket write error", "error", err, "user_id", c.userID)
				}
				return
			}
			if e, ok := frame.(conversation.Event); ok && e.Type == conversation.EventSessionDisposed {
				return
			}
		}
	}
}

func (h *Handler) writeDisposed(ctx context.Context, ws *websocket.Conn, c *client) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	err := wsjson.Write(writeCtx, ws, conversation.Event{
		Type:           conversation.EventSessionDisposed,
		ConversationID: c.conversationID,
		UserID:         c.userID,
		At:             time.Now().UTC(),
	})
	if err != nil {
		h.logger.Debug("WebSocket write error", "error", err, "user_id", c.userID)
	}
}
