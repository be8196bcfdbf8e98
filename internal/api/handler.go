// Package api provides HTTP handlers for the Aexy API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aexy-app/aexy/internal/catalog"
	"github.com/aexy-app/aexy/internal/conversation"
	"github.com/aexy-app/aexy/internal/metrics"
	"github.com/aexy-app/aexy/internal/store"
)

// maxRequestBodySize bounds JSON request bodies.
const maxRequestBodySize = 1 << 20 // 1MB

// Handler serves the REST API.
type Handler struct {
	repo     store.Repository
	sessions *conversation.Manager
	catalog  *catalog.Catalog
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository, sessions *conversation.Manager, cat *catalog.Catalog, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:     repo,
		sessions: sessions,
		catalog:  cat,
		metrics:  m,
		logger:   logger,
	}
}

// RegisterRoutes registers API routes. turnLimit wraps the turn endpoint.
func (h *Handler) RegisterRoutes(r chi.Router, turnLimit func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Put("/me/tier", h.UpdateTier)
		r.Get("/scenarios", h.ListScenarios)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", h.StartConversation)
			r.Get("/", h.ListConversations)
			r.Get("/{id}", h.GetConversation)
			r.With(turnLimit).Post("/{id}/messages", h.SendMessage)
			r.Post("/{id}/end", h.EndConversation)
			r.Delete("/{id}", h.DisposeConversation)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
