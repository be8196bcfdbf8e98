package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/aexy-app/aexy/internal/catalog"
	"github.com/aexy-app/aexy/internal/conversation"
	"github.com/aexy-app/aexy/internal/domain"
	"github.com/aexy-app/aexy/internal/identity"
)

// historyLimit caps the history list.
const historyLimit = 100

type conversationView struct {
	ID            string                    `json:"id"`
	ScenarioID    int                       `json:"scenario_id"`
	ScenarioTitle string                    `json:"scenario_title"`
	Difficulty    domain.Difficulty         `json:"difficulty,omitempty"`
	Status        domain.ConversationStatus `json:"status"`
	StartedAt     time.Time                 `json:"started_at"`
	EndedAt       *time.Time                `json:"ended_at,omitempty"`
	Summary       *domain.Summary           `json:"summary,omitempty"`
	Live          bool                      `json:"live"`
	Messages      []domain.Message          `json:"messages,omitempty"`
}

func (h *Handler) viewOf(c *domain.Conversation) conversationView {
	v := conversationView{
		ID:         c.ID,
		ScenarioID: c.ScenarioID,
		Status:     c.Status,
		StartedAt:  c.StartedAt,
		EndedAt:    c.EndedAt,
		Summary:    c.Summary,
	}
	if s, err := h.catalog.Get(c.ScenarioID); err == nil {
		v.ScenarioTitle = s.Title
		v.Difficulty = s.Difficulty
	} else {
		v.ScenarioTitle = "Unknown scenario"
	}
	return v
}

// StartConversation starts a live session for a scenario.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req struct {
		ScenarioID int `json:"scenario_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.sessions.Start(r.Context(), userID, req.ScenarioID)
	if err != nil {
		if errors.Is(err, catalog.ErrScenarioNotFound) {
			JSON(w, http.StatusNotFound, map[string]string{
				"error":    "scenario_not_found",
				"notice":   "Scenario not found.",
				"redirect": "/dashboard",
			})
			return
		}
		status, code := startErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to start conversation",
				"user_id", userID,
				"scenario_id", req.ScenarioID,
				"request_id", chiMiddleware.GetReqID(r.Context()),
				"error", err,
			)
		} else {
			h.metrics.RecordStartDenied(code)
		}
		Error(w, status, code)
		return
	}

	JSON(w, http.StatusCreated, sess.Snapshot())
}

// ListConversations returns the learner's conversation history, newest first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	convs, err := h.repo.ListConversations(r.Context(), userID, historyLimit)
	if err != nil {
		h.logger.Error("Failed to list conversations", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	views := make([]conversationView, 0, len(convs))
	for _, c := range convs {
		v := h.viewOf(c)
		_, err := h.sessions.Get(userID, c.ID)
		v.Live = err == nil
		views = append(views, v)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"conversations": views})
}

// GetConversation returns the live snapshot of an in-memory session, or the
// stored history of a past one.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if sess, err := h.sessions.Get(userID, id); err == nil {
		JSON(w, http.StatusOK, map[string]interface{}{"live": true, "session": sess.Snapshot()})
		return
	}

	conv, err := h.repo.GetConversation(r.Context(), userID, id)
	if err != nil {
		h.logger.Error("Failed to get conversation", "user_id", userID, "conversation_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs, err := h.repo.ListMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list messages", "conversation_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	v := h.viewOf(conv)
	v.Messages = msgs
	JSON(w, http.StatusOK, v)
}

type turnResponse struct {
	Result  conversation.TurnResult `json:"result"`
	Notice  string                  `json:"notice,omitempty"`
	Session conversation.Snapshot   `json:"session"`
}

// SendMessage runs one turn of a live session.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	sess, err := h.sessions.Get(userID, id)
	if err != nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	// The turn outlives a client that goes away mid-call; its result is
	// discarded by the session if it is no longer live.
	ctx := context.WithoutCancel(r.Context())
	start := time.Now()
	result, err := sess.Send(ctx, req.Content)
	h.metrics.RecordTurn(result, time.Since(start))

	resp := turnResponse{Result: result, Session: sess.Snapshot()}
	switch result {
	case conversation.TurnCompleted:
		JSON(w, http.StatusOK, resp)
	case conversation.TurnRejected:
		JSON(w, http.StatusAccepted, resp)
	case conversation.TurnRolledBack:
		h.logger.Warn("Turn rolled back", "user_id", userID, "conversation_id", id, "error", err)
		if n := len(resp.Session.Notifications); n > 0 {
			resp.Notice = resp.Session.Notifications[n-1].Message
		}
		JSON(w, http.StatusBadGateway, resp)
	default:
		JSON(w, http.StatusConflict, resp)
	}
}

// EndConversation ends a live session and returns its summary.
func (h *Handler) EndConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	sess, err := h.sessions.Get(userID, id)
	if err != nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	sum, err := sess.End(r.Context())
	if err != nil {
		Error(w, http.StatusConflict, "session is not active")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"conversation_id": id, "summary": sum})
}

// DisposeConversation drops the live context of a session.
func (h *Handler) DisposeConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.sessions.Dispose(userID, id); err != nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
