package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/aexy-app/aexy/internal/conversation"
	"github.com/aexy-app/aexy/internal/domain"
	"github.com/aexy-app/aexy/internal/identity"
	"github.com/aexy-app/aexy/internal/quota"
	"github.com/aexy-app/aexy/internal/store"
)

type meResponse struct {
	UserID             string      `json:"user_id"`
	Username           string      `json:"username"`
	Tier               domain.Tier `json:"tier"`
	ConversationsToday int         `json:"conversations_today"`
	Limit              int         `json:"limit"`
	LimitDisplay       string      `json:"limit_display"`
	DailyLimit         string      `json:"daily_limit"`
	LimitReached       bool        `json:"limit_reached"`
	Streak             int         `json:"streak"`
}

func (h *Handler) loadMe(w http.ResponseWriter, r *http.Request) (*meResponse, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return nil, false
	}

	q, err := h.sessions.QuotaState(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load quota state", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load quota")
		return nil, false
	}

	display := quota.DisplayLimit(q.Tier)
	return &meResponse{
		UserID:             user.UserID,
		Username:           user.Username,
		Tier:               q.Tier,
		ConversationsToday: q.ConversationsToday,
		Limit:              quota.Limit(q.Tier),
		LimitDisplay:       display,
		DailyLimit:         quotaDisplay(q.ConversationsToday, display),
		LimitReached:       quota.IsLimitReached(q),
		Streak:             q.Streak,
	}, true
}

func quotaDisplay(used int, limit string) string {
	return strconv.Itoa(used) + "/" + limit
}

// GetMe returns the current learner with quota information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	me, ok := h.loadMe(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, me)
}

// UpdateTier changes the learner's subscription tier.
func (h *Handler) UpdateTier(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req struct {
		Tier string `json:"tier"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	tier, ok := domain.ParseTier(req.Tier)
	if !ok {
		Error(w, http.StatusBadRequest, "tier must be FREE, STANDARD or PREMIUM")
		return
	}

	if err := h.repo.UpdateTier(r.Context(), userID, tier); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			Error(w, http.StatusUnauthorized, "user not found")
			return
		}
		h.logger.Error("Failed to update tier", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to update tier")
		return
	}
	h.logger.Info("Tier updated", "user_id", userID, "tier", tier)

	me, ok := h.loadMe(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, me)
}

// startErrorStatus maps a start failure to an HTTP status and error code.
func startErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, quota.ErrUpgradeRequired):
		return http.StatusPaymentRequired, "upgrade_required"
	case errors.Is(err, quota.ErrLimitReached):
		return http.StatusTooManyRequests, "limit_reached"
	case errors.Is(err, conversation.ErrUnknownUser), errors.Is(err, quota.ErrNotLoaded):
		return http.StatusUnauthorized, "user not found"
	default:
		return http.StatusInternalServerError, "failed to start conversation"
	}
}
