package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aexy-app/aexy/internal/domain"
	"github.com/aexy-app/aexy/internal/quota"
)

// Manager owns the live session contexts, keyed by conversation ID.
type Manager struct {
	deps   Deps
	users  Users
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(deps Deps, users Users) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger
	return &Manager{
		deps:     deps,
		users:    users,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// QuotaState loads the user's tier and today's conversation count.
func (m *Manager) QuotaState(ctx context.Context, userID string) (domain.QuotaState, error) {
	user, err := m.users.GetUser(ctx, userID)
	if err != nil {
		return domain.QuotaState{}, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return domain.QuotaState{}, ErrUnknownUser
	}

	count, err := m.deps.Counter.Count(ctx, userID)
	if err != nil {
		return domain.QuotaState{}, fmt.Errorf("count conversations: %w", err)
	}

	q := user.Quota()
	q.ConversationsToday = count
	return q, nil
}

// Start checks access to the scenario, then creates and initializes a new
// session. It returns catalog.ErrScenarioNotFound, quota.ErrUpgradeRequired
// or quota.ErrLimitReached when the session may not start.
func (m *Manager) Start(ctx context.Context, userID string, scenarioID int) (*Session, error) {
	scenario, err := m.deps.Scenarios.Get(scenarioID)
	if err != nil {
		return nil, err
	}

	q, err := m.QuotaState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := quota.CheckStart(q, scenario); err != nil {
		m.logger.Info("Conversation start denied",
			"user_id", userID,
			"scenario_id", scenarioID,
			"tier", q.Tier,
			"conversations_today", q.ConversationsToday,
			"reason", err,
		)
		return nil, err
	}

	sess := NewSession(uuid.NewString(), userID, scenarioID, m.deps)
	if err := sess.Initialize(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sess.ID()] = sess
	m.mu.Unlock()

	return sess, nil
}

// Get returns the live session with the given ID owned by userID.
func (m *Manager) Get(userID, id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok || sess.UserID() != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Dispose removes and disposes the session.
func (m *Manager) Dispose(userID, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.UserID() != userID {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	sess.Dispose()
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep disposes sessions idle for longer than ttl and returns how many
// were removed.
func (m *Manager) Sweep(ttl time.Duration) int {
	cutoff := m.deps.now().Add(-ttl)

	m.mu.Lock()
	var expired []*Session
	for id, sess := range m.sessions {
		if sess.idleSince().Before(cutoff) {
			expired = append(expired, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		sess.Dispose()
	}
	return len(expired)
}

// Close disposes every live session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Dispose()
	}
}
