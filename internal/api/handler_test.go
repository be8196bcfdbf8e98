package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aexy-app/aexy/internal/agent"
	"github.com/aexy-app/aexy/internal/catalog"
	"github.com/aexy-app/aexy/internal/conversation"
	"github.com/aexy-app/aexy/internal/domain"
	"github.com/aexy-app/aexy/internal/identity"
	"github.com/aexy-app/aexy/internal/metrics"
	"github.com/aexy-app/aexy/internal/store"
)

// switchGenerator fails while failNext is set.
type switchGenerator struct {
	mu       sync.Mutex
	failNext bool
}

func (g *switchGenerator) Generate(_ context.Context, req agent.Request) (*agent.Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNext {
		g.failNext = false
		return nil, errors.New("model unavailable")
	}
	return &agent.Reply{
		AIResponse: "You said: " + req.UserMessage,
		Feedback:   &domain.Feedback{Grammar: &domain.ScoredFeedback{Score: 80, Issues: []string{}}},
	}, nil
}

type testServer struct {
	t         *testing.T
	router    http.Handler
	repo      *store.SQLiteStore
	gen       *switchGenerator
	persister *conversation.Persister
	userID    string
}

func newTestServer(t *testing.T, tier domain.Tier) *testServer {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	const userID = "anon_0123456789abcdef0123456789abcdef"
	now := time.Now()
	if err := repo.UpsertUser(context.Background(), &domain.User{UserID: userID, Username: "learner", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := repo.UpdateTier(context.Background(), userID, tier); err != nil {
		t.Fatalf("UpdateTier failed: %v", err)
	}

	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default failed: %v", err)
	}

	bus := conversation.NewBus()
	persister := conversation.NewPersister(64, bus, nil)
	t.Cleanup(func() { _ = persister.Close() })

	gen := &switchGenerator{}
	mgr := conversation.NewManager(conversation.Deps{
		Scenarios: cat,
		Store:     repo,
		Counter:   repo,
		Generator: gen,
		Persister: persister,
		Bus:       bus,
	}, repo)

	h := NewHandler(repo, mgr, cat, metrics.New(nil), nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(identity.WithUser(req.Context(), userID, "learner")))
		})
	})
	h.RegisterRoutes(r, func(next http.Handler) http.Handler { return next })

	return &testServer{t: t, router: r, repo: repo, gen: gen, persister: persister, userID: userID}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) flush() {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.persister.Flush(ctx); err != nil {
		s.t.Fatalf("flush: %v", err)
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func (s *testServer) start(scenarioID int) conversation.Snapshot {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/conversations", map[string]int{"scenario_id": scenarioID})
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("start: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[conversation.Snapshot](s.t, rec)
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestGetMeShowsUnlimitedForPremium(t *testing.T) {
	s := newTestServer(t, domain.TierPremium)

	rec := s.do(http.MethodGet, "/api/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	me := decode[meResponse](t, rec)
	if me.LimitDisplay != "∞" || me.DailyLimit != "0/∞" {
		t.Fatalf("unexpected limit display: %+v", me)
	}
}

func TestUpdateTier(t *testing.T) {
	s := newTestServer(t, domain.TierFree)

	if rec := s.do(http.MethodPut, "/api/me/tier", map[string]string{"tier": "GOLD"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown tier, got %d", rec.Code)
	}

	rec := s.do(http.MethodPut, "/api/me/tier", map[string]string{"tier": "STANDARD"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	me := decode[meResponse](t, rec)
	if me.Tier != domain.TierStandard || me.Limit != 15 {
		t.Fatalf("unexpected me: %+v", me)
	}
}

func TestListScenariosAccess(t *testing.T) {
	s := newTestServer(t, domain.TierFree)

	rec := s.do(http.MethodGet, "/api/scenarios", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[struct {
		Scenarios  []scenarioView `json:"scenarios"`
		DailyLimit string         `json:"daily_limit"`
	}](t, rec)

	if body.DailyLimit != "0/3" {
		t.Fatalf("daily limit = %q", body.DailyLimit)
	}
	for _, sc := range body.Scenarios {
		if sc.IsPremium != sc.Access.Locked {
			t.Fatalf("scenario %d: premium=%v locked=%v", sc.ID, sc.IsPremium, sc.Access.Locked)
		}
		if sc.Access.Startable == sc.Access.Locked {
			t.Fatalf("scenario %d: startable must be the opposite of locked here", sc.ID)
		}
	}
}

func TestStartConversationGating(t *testing.T) {
	s := newTestServer(t, domain.TierFree)

	if rec := s.do(http.MethodPost, "/api/conversations", map[string]int{"scenario_id": 3}); rec.Code != http.StatusPaymentRequired {
		t.Fatalf("premium scenario: expected 402, got %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/conversations", map[string]int{"scenario_id": 99}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown scenario: expected 404, got %d", rec.Code)
	}

	for range 3 {
		s.start(2)
		s.flush()
	}
	rec := s.do(http.MethodPost, "/api/conversations", map[string]int{"scenario_id": 2})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("fourth start: expected 429, got %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["error"]; got != "limit_reached" {
		t.Fatalf("error = %q", got)
	}
}

func TestConversationFlow(t *testing.T) {
	s := newTestServer(t, domain.TierFree)
	snap := s.start(2)
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "Welcome! What would you like to order?" {
		t.Fatalf("unexpected seed: %+v", snap.Messages)
	}
	base := "/api/conversations/" + snap.ID

	rec := s.do(http.MethodPost, base+"/messages", map[string]string{"content": "A coffee, please."})
	if rec.Code != http.StatusOK {
		t.Fatalf("send: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	turn := decode[turnResponse](t, rec)
	if turn.Result != conversation.TurnCompleted || len(turn.Session.Messages) != 3 {
		t.Fatalf("unexpected turn: %+v", turn)
	}

	if rec := s.do(http.MethodPost, base+"/messages", map[string]string{"content": "   "}); rec.Code != http.StatusAccepted {
		t.Fatalf("blank send: expected 202, got %d", rec.Code)
	}

	s.gen.mu.Lock()
	s.gen.failNext = true
	s.gen.mu.Unlock()
	rec = s.do(http.MethodPost, base+"/messages", map[string]string{"content": "And a cake."})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("failed send: expected 502, got %d", rec.Code)
	}
	turn = decode[turnResponse](t, rec)
	if turn.Result != conversation.TurnRolledBack || turn.Notice == "" || len(turn.Session.Messages) != 3 {
		t.Fatalf("unexpected rollback: %+v", turn)
	}

	rec = s.do(http.MethodPost, base+"/end", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d", rec.Code)
	}
	ended := decode[struct {
		Summary domain.Summary `json:"summary"`
	}](t, rec)
	if ended.Summary.TotalMessages != 1 || ended.Summary.Scores.Grammar != 80 || ended.Summary.Scores.Fluency != 40 {
		t.Fatalf("unexpected summary: %+v", ended.Summary)
	}

	if rec := s.do(http.MethodDelete, base, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("dispose: expected 204, got %d", rec.Code)
	}
	s.flush()

	rec = s.do(http.MethodGet, base, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history detail: expected 200, got %d", rec.Code)
	}
	detail := decode[conversationView](t, rec)
	if detail.Live || detail.Status != domain.StatusEnded || detail.Summary == nil {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if len(detail.Messages) != 3 || detail.Messages[1].Content != "A coffee, please." {
		t.Fatalf("unexpected stored messages: %+v", detail.Messages)
	}
	if detail.ScenarioTitle != "Restaurant Ordering" {
		t.Fatalf("scenario title = %q", detail.ScenarioTitle)
	}

	rec = s.do(http.MethodGet, "/api/conversations", nil)
	list := decode[struct {
		Conversations []conversationView `json:"conversations"`
	}](t, rec)
	if len(list.Conversations) != 1 || list.Conversations[0].ID != snap.ID {
		t.Fatalf("unexpected history: %+v", list.Conversations)
	}
}

func TestSendUnknownSession(t *testing.T) {
	s := newTestServer(t, domain.TierFree)

	if rec := s.do(http.MethodPost, "/api/conversations/nope/messages", map[string]string{"content": "hi"}); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/conversations/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		redisErr   error
		wantStatus int
		wantRedis  string
	}{
		{"all healthy", nil, http.StatusOK, "ok"},
		{"redis down", errors.New("connection refused"), http.StatusServiceUnavailable, "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(time.Second, map[string]Pinger{
				"database": pingFunc(func(context.Context) error { return nil }),
				"redis":    pingFunc(func(context.Context) error { return tt.redisErr }),
			})
			r := chi.NewRouter()
			h.RegisterHealth(r)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Checks["redis"] != tt.wantRedis || body.Checks["database"] != "ok" {
				t.Errorf("checks = %v", body.Checks)
			}
		})
	}
}
