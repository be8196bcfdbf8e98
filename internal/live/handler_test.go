package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aexy-app/aexy/internal/agent"
	"github.com/aexy-app/aexy/internal/catalog"
	"github.com/aexy-app/aexy/internal/conversation"
	"github.com/aexy-app/aexy/internal/domain"
	"github.com/aexy-app/aexy/internal/identity"
	"github.com/aexy-app/aexy/internal/metrics"
	"github.com/aexy-app/aexy/internal/store"
)

const testUser = "anon_0123456789abcdef0123456789abcdef"

// frame is the union of every server to client frame.
type frame struct {
	Type    string                 `json:"type"`
	Result  string                 `json:"result"`
	Error   string                 `json:"error"`
	Message *domain.Message        `json:"message"`
	Session *conversation.Snapshot `json:"session"`
}

type liveFixture struct {
	server *httptest.Server
	mgr    *conversation.Manager
	hub    *Hub
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "live.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	now := time.Now()
	require.NoError(t, repo.UpsertUser(context.Background(), &domain.User{
		UserID: testUser, Username: "learner", CreatedAt: now, UpdatedAt: now,
	}))

	cat, err := catalog.Default()
	require.NoError(t, err)

	bus := conversation.NewBus()
	persister := conversation.NewPersister(64, bus, nil)
	t.Cleanup(func() { _ = persister.Close() })

	hub := NewHub(nil)
	bus.Subscribe(hub)

	mgr := conversation.NewManager(conversation.Deps{
		Scenarios: cat,
		Store:     repo,
		Counter:   repo,
		Generator: agent.NewMockGenerator(),
		Persister: persister,
		Bus:       bus,
	}, repo)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(identity.WithUser(req.Context(), testUser, "learner")))
		})
	})
	r.Handle("/ws/conversations/{id}", NewHandler(mgr, hub, metrics.New(nil), "http://localhost:5173", false, nil))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &liveFixture{server: srv, mgr: mgr, hub: hub}
}

func (f *liveFixture) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/conversations/" + id
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var fr frame
	require.NoError(t, wsjson.Read(ctx, ws, &fr))
	return fr
}

// readUntil reads frames until one of type typ arrives, returning all frames read.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) []frame {
	t.Helper()
	var frames []frame
	for range 20 {
		fr := readFrame(t, ws)
		frames = append(frames, fr)
		if fr.Type == typ {
			return frames
		}
	}
	t.Fatalf("no %q frame within 20 frames", typ)
	return nil
}

func writeCommand(t *testing.T, ws *websocket.Conn, cmd command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, cmd))
}

func (f *liveFixture) start(t *testing.T) string {
	t.Helper()
	sess, err := f.mgr.Start(context.Background(), testUser, 1)
	require.NoError(t, err)
	return sess.ID()
}

func TestLiveSnapshotThenTurn(t *testing.T) {
	f := newLiveFixture(t)
	id := f.start(t)
	ws := f.dial(t, id)

	first := readFrame(t, ws)
	require.Equal(t, "snapshot", first.Type)
	require.NotNil(t, first.Session)
	assert.Equal(t, id, first.Session.ID)
	assert.Equal(t, "active", first.Session.State)
	require.Len(t, first.Session.Messages, 1)
	assert.Equal(t, domain.RoleAssistant, first.Session.Messages[0].Role)

	writeCommand(t, ws, command{Type: "send", Content: "I would like a coffee, please."})
	frames := readUntil(t, ws, "turn_result")

	last := frames[len(frames)-1]
	assert.Equal(t, string(conversation.TurnCompleted), last.Result)
	assert.Empty(t, last.Error)

	var appended []domain.Role
	for _, fr := range frames {
		if fr.Type == string(conversation.EventMessageAppended) && fr.Message != nil {
			appended = append(appended, fr.Message.Role)
		}
	}
	assert.Equal(t, []domain.Role{domain.RoleUser, domain.RoleAssistant}, appended)
}

func TestLivePingAndUnknownCommand(t *testing.T) {
	f := newLiveFixture(t)
	ws := f.dial(t, f.start(t))
	readFrame(t, ws)

	writeCommand(t, ws, command{Type: "ping"})
	assert.Equal(t, "pong", readFrame(t, ws).Type)

	writeCommand(t, ws, command{Type: "dance"})
	fr := readFrame(t, ws)
	assert.Equal(t, "error", fr.Type)
	assert.Equal(t, "unknown_command", fr.Error)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte("not json")))
	assert.Equal(t, "invalid_frame", readFrame(t, ws).Error)
}

func TestLiveEndStreamsSummary(t *testing.T) {
	f := newLiveFixture(t)
	ws := f.dial(t, f.start(t))
	readFrame(t, ws)

	writeCommand(t, ws, command{Type: "end"})
	frames := readUntil(t, ws, string(conversation.EventSessionEnded))
	assert.Equal(t, string(conversation.EventSessionEnded), frames[len(frames)-1].Type)

	writeCommand(t, ws, command{Type: "send", Content: "One more thing."})
	fr := readUntil(t, ws, "turn_result")
	assert.Equal(t, string(conversation.TurnRejected), fr[len(fr)-1].Result)
}

func TestLiveDisposeClosesConnection(t *testing.T) {
	f := newLiveFixture(t)
	id := f.start(t)
	ws := f.dial(t, id)
	readFrame(t, ws)

	require.NoError(t, f.mgr.Dispose(testUser, id))
	readUntil(t, ws, string(conversation.EventSessionDisposed))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := ws.Read(ctx)
	require.Error(t, err)

	require.Eventually(t, func() bool { return f.hub.Watchers(id) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLiveSessionDisposedBeforeConnect(t *testing.T) {
	f := newLiveFixture(t)
	id := f.start(t)
	sess, err := f.mgr.Get(testUser, id)
	require.NoError(t, err)

	// Disposed but still reachable through the manager, as when a sweep
	// races the upgrade.
	sess.Dispose()

	ws := f.dial(t, id)
	fr := readFrame(t, ws)
	assert.Equal(t, string(conversation.EventSessionDisposed), fr.Type)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = ws.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	require.Eventually(t, func() bool { return f.hub.Watchers(id) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLiveUnknownSession(t *testing.T) {
	f := newLiveFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/conversations/missing"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLiveRejectsForeignOrigin(t *testing.T) {
	f := newLiveFixture(t)
	id := f.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/conversations/" + id
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubFiltersAndDrops(t *testing.T) {
	h := NewHub(nil)
	mine := h.register("u1", "c1")
	other := h.register("u2", "c1")
	defer h.unregister(mine)
	defer h.unregister(other)

	for range clientBuffer + 5 {
		h.OnEvent(conversation.Event{Type: conversation.EventLoadingChanged, ConversationID: "c1", UserID: "u1"})
	}
	h.OnEvent(conversation.Event{Type: conversation.EventLoadingChanged, ConversationID: "c2", UserID: "u1"})

	assert.Len(t, mine.out, clientBuffer)
	assert.Equal(t, int64(5), mine.dropped.Load())
	assert.Empty(t, other.out)

	ev := <-mine.out
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"loading_changed"`)
}
