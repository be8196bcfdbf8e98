package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aexy-app/aexy/internal/agent"
	"github.com/aexy-app/aexy/internal/catalog"
	"github.com/aexy-app/aexy/internal/domain"
)

var (
	freeScenario = domain.Scenario{
		ID: 1, Title: "Restaurant Ordering", Difficulty: domain.DifficultyBeginner,
		InitialPrompt: "Welcome! What would you like to order?",
	}
	premiumScenario = domain.Scenario{
		ID: 3, Title: "Business Negotiation", Difficulty: domain.DifficultyAdvanced,
		IsPremium: true, InitialPrompt: "Let's discuss the contract.",
	}
)

type fakeScenarios map[int]domain.Scenario

func (f fakeScenarios) Get(id int) (domain.Scenario, error) {
	s, ok := f[id]
	if !ok {
		return domain.Scenario{}, fmt.Errorf("scenario %d: %w", id, catalog.ErrScenarioNotFound)
	}
	return s, nil
}

type fakeStore struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
	messages      map[string][]domain.Message
	creates       int
	ends          int
	createErr     error
	appendErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

func (f *fakeStore) CreateConversation(_ context.Context, conv *domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.creates++
	c := *conv
	f.conversations[conv.ID] = &c
	return nil
}

func (f *fakeStore) AppendMessage(_ context.Context, id string, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.messages[id] = append(f.messages[id], msg)
	return nil
}

func (f *fakeStore) EndConversation(_ context.Context, id string, endedAt time.Time, s domain.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
	if c, ok := f.conversations[id]; ok {
		c.Status = domain.StatusEnded
		c.EndedAt = &endedAt
		c.Summary = &s
	}
	return nil
}

func (f *fakeStore) storedMessages(id string) []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.messages[id]...)
}

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeCounter() *fakeCounter { return &fakeCounter{counts: make(map[string]int)} }

func (f *fakeCounter) Increment(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[userID]++
	return f.counts[userID], nil
}

func (f *fakeCounter) Count(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[userID], nil
}

type fakeUsers map[string]*domain.User

func (f fakeUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	return f[id], nil
}

// scriptedGenerator returns the replies in order and records each request.
type scriptedGenerator struct {
	mu       sync.Mutex
	replies  []*agent.Reply
	errs     []error
	requests []agent.Request
}

func (g *scriptedGenerator) Generate(_ context.Context, req agent.Request) (*agent.Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := len(g.requests)
	g.requests = append(g.requests, req)
	var err error
	if i < len(g.errs) {
		err = g.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return &agent.Reply{AIResponse: fmt.Sprintf("reply %d", i)}, nil
}

// blockingGenerator waits for release before replying.
type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingGenerator() *blockingGenerator {
	return &blockingGenerator{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *blockingGenerator) Generate(ctx context.Context, _ agent.Request) (*agent.Reply, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return &agent.Reply{AIResponse: "late reply"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	deps    Deps
	store   *fakeStore
	counter *fakeCounter
	clock   *fakeClock
	events  *recorder
}

func newHarness(t *testing.T, gen agent.Generator) *harness {
	t.Helper()

	bus := NewBus()
	rec := &recorder{}
	bus.Subscribe(rec)

	persister := NewPersister(16, bus, nil)
	t.Cleanup(func() { _ = persister.Close() })

	h := &harness{
		store:   newFakeStore(),
		counter: newFakeCounter(),
		clock:   newFakeClock(),
		events:  rec,
	}
	h.deps = Deps{
		Scenarios: fakeScenarios{freeScenario.ID: freeScenario, premiumScenario.ID: premiumScenario},
		Store:     h.store,
		Counter:   h.counter,
		Generator: gen,
		Persister: persister,
		Bus:       bus,
		Avatars:   Avatars{User: "/avatars/user.png", Assistant: "/avatars/tutor.png"},
		Now:       h.clock.Now,
	}
	return h
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.deps.Persister.Flush(ctx); err != nil {
		t.Fatalf("flush persister: %v", err)
	}
}

func (h *harness) activeSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession("conv-1", "user-1", freeScenario.ID, h.deps)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return s
}

var errUpstream = errors.New("upstream unavailable")
