package api

import (
	"net/http"

	"github.com/aexy-app/aexy/internal/domain"
	"github.com/aexy-app/aexy/internal/identity"
	"github.com/aexy-app/aexy/internal/quota"
)

type scenarioView struct {
	domain.Scenario
	Access quota.Access `json:"access"`
}

// ListScenarios returns the catalog with the learner's access to each entry.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	q, err := h.sessions.QuotaState(r.Context(), userID)
	if err != nil {
		// Access stays unknown rather than defaulting to FREE.
		h.logger.Warn("Quota state unavailable for scenario listing", "user_id", userID, "error", err)
		q = domain.QuotaState{}
	}

	all := h.catalog.All()
	views := make([]scenarioView, 0, len(all))
	for _, s := range all {
		views = append(views, scenarioView{Scenario: s, Access: quota.Evaluate(q, s)})
	}

	resp := map[string]interface{}{
		"scenarios":     views,
		"quota_loaded":  q.Loaded(),
		"limit_reached": q.Loaded() && quota.IsLimitReached(q),
	}
	if q.Loaded() {
		resp["daily_limit"] = quotaDisplay(q.ConversationsToday, quota.DisplayLimit(q.Tier))
	}
	JSON(w, http.StatusOK, resp)
}
