package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aexy-app/aexy/internal/agent"
	"github.com/aexy-app/aexy/internal/domain"
	"github.com/aexy-app/aexy/internal/quota"
	"github.com/aexy-app/aexy/internal/summary"
)

// State is the lifecycle state of a session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "uninitialized"
	}
}

// TurnResult reports what Send did.
type TurnResult string

const (
	// TurnRejected means the input was ignored without side effects.
	TurnRejected TurnResult = "rejected"
	// TurnCompleted means the user and assistant messages were both appended.
	TurnCompleted TurnResult = "completed"
	// TurnRolledBack means the user message was removed after a generator failure.
	TurnRolledBack TurnResult = "rolled_back"
	// TurnDiscarded means the session ended or was disposed while the generator ran.
	TurnDiscarded TurnResult = "discarded"
)

// Notification is a user-visible notice raised by the session.
type Notification struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// turnFailedNotice is shown when a turn is rolled back.
const turnFailedNotice = "Failed to get AI response. Please try again."

// Deps are the collaborators of a session.
type Deps struct {
	Scenarios Scenarios
	Store     Store
	Counter   quota.Counter
	Generator agent.Generator
	Persister *Persister
	Bus       *Bus
	Avatars   Avatars
	Now       func() time.Time
	Logger    *slog.Logger
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Session is the context of one live practice conversation. All mutations
// are serialized by its mutex; the generator call runs outside the lock.
type Session struct {
	id         string
	userID     string
	scenarioID int
	deps       Deps
	logger     *slog.Logger

	initStarted atomic.Bool

	mu            sync.Mutex
	state         State
	scenario      domain.Scenario
	messages      []domain.Message
	nextID        int64
	loading       bool
	pending       *domain.Message
	startedAt     time.Time
	lastActivity  time.Time
	summary       *domain.Summary
	disposed      bool
	notifications []Notification
}

// NewSession creates an uninitialized session context.
func NewSession(id, userID string, scenarioID int, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:           id,
		userID:       userID,
		scenarioID:   scenarioID,
		deps:         deps,
		logger:       logger.With("conversation_id", id, "user_id", userID),
		lastActivity: deps.now(),
	}
}

// ID returns the conversation ID.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// Initialize creates the conversation record, seeds the opening assistant
// message and consumes one unit of quota. Only the first call does any work;
// later and concurrent calls return nil immediately.
func (s *Session) Initialize(ctx context.Context) error {
	if !s.initStarted.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	s.state = StateInitializing
	s.mu.Unlock()

	scenario, err := s.deps.Scenarios.Get(s.scenarioID)
	if err != nil {
		return fmt.Errorf("resolve scenario %d: %w", s.scenarioID, err)
	}

	startedAt := s.deps.now()
	conv := &domain.Conversation{
		ID:         s.id,
		UserID:     s.userID,
		ScenarioID: scenario.ID,
		Status:     domain.StatusActive,
		StartedAt:  startedAt,
	}
	if err := s.deps.Store.CreateConversation(ctx, conv); err != nil {
		s.deps.Bus.Publish(Event{
			Type:           EventPersistenceError,
			ConversationID: s.id,
			UserID:         s.userID,
			Op:             "create_conversation",
			Error:          err.Error(),
		})
		return fmt.Errorf("create conversation: %w", err)
	}

	s.mu.Lock()
	s.scenario = scenario
	s.startedAt = startedAt
	seed := s.appendLocked(domain.RoleAssistant, scenario.InitialPrompt, nil)
	s.state = StateActive
	s.mu.Unlock()

	s.persistMessage(seed)
	s.deps.Persister.Enqueue("increment_quota", s.id, s.userID, func(ctx context.Context) error {
		_, err := s.deps.Counter.Increment(ctx, s.userID)
		return err
	})

	s.logger.Info("Conversation started", "scenario_id", scenario.ID, "scenario", scenario.Title)
	s.publish(Event{Type: EventSessionStarted, ScenarioID: scenario.ID})
	s.publish(Event{Type: EventMessageAppended, Message: &seed})
	return nil
}

// Send runs one turn. Preconditions that the client can prevent (blank input,
// a turn already in flight, a session that is not active) are rejected
// silently with TurnRejected. A generator failure rolls the user message back
// and returns TurnRolledBack with an error wrapping ErrGeneratorFailed.
func (s *Session) Send(ctx context.Context, content string) (TurnResult, error) {
	s.mu.Lock()
	if strings.TrimSpace(content) == "" || s.loading || s.disposed || s.state != StateActive {
		s.mu.Unlock()
		return TurnRejected, nil
	}

	userMsg := s.appendLocked(domain.RoleUser, content, nil)
	s.pending = &userMsg
	s.loading = true
	req := agent.Request{
		ScenarioTitle:       s.scenario.Title,
		ConversationHistory: buildTranscript(s.messages),
		UserMessage:         content,
	}
	s.mu.Unlock()

	s.publish(Event{Type: EventMessageAppended, Message: &userMsg})
	s.publish(Event{Type: EventLoadingChanged, Loading: true})

	reply, genErr := s.deps.Generator.Generate(ctx, req)

	s.mu.Lock()
	if s.disposed || s.state != StateActive || s.pending == nil || s.pending.ID != userMsg.ID {
		s.mu.Unlock()
		s.logger.Info("Discarding generator result for inactive session")
		return TurnDiscarded, nil
	}

	if genErr != nil || reply == nil || reply.AIResponse == "" {
		s.revertLocked(userMsg.ID)
		s.pending = nil
		s.loading = false
		notice := Notification{Message: turnFailedNotice, At: s.deps.now()}
		s.notifications = append(s.notifications, notice)
		s.mu.Unlock()

		if genErr == nil {
			genErr = ErrEmptyReply
		}
		s.logger.Warn("Turn rolled back", "message_id", userMsg.ID, "error", genErr)
		s.publish(Event{Type: EventMessageReverted, MessageID: userMsg.ID})
		s.publish(Event{Type: EventLoadingChanged, Loading: false})
		s.publish(Event{Type: EventNotification, Notice: notice.Message})
		return TurnRolledBack, fmt.Errorf("%w: %w", ErrGeneratorFailed, genErr)
	}

	aiMsg := s.appendLocked(domain.RoleAssistant, reply.AIResponse, reply.Feedback)
	s.pending = nil
	s.loading = false
	s.mu.Unlock()

	s.persistMessage(userMsg)
	s.persistMessage(aiMsg)
	s.publish(Event{Type: EventMessageAppended, Message: &aiMsg})
	s.publish(Event{Type: EventLoadingChanged, Loading: false})
	return TurnCompleted, nil
}

// End moves the session to Ended and computes its summary. The summary is
// computed once; later calls return the same value.
func (s *Session) End(_ context.Context) (domain.Summary, error) {
	s.mu.Lock()
	if s.state == StateEnded && s.summary != nil {
		sum := *s.summary
		s.mu.Unlock()
		return sum, nil
	}
	if s.state != StateActive || s.disposed {
		s.mu.Unlock()
		return domain.Summary{}, ErrNotActive
	}

	endedAt := s.deps.now()
	sum := summary.Compute(s.messages, s.startedAt, endedAt)
	s.summary = &sum
	s.state = StateEnded
	s.lastActivity = endedAt
	pending := s.pending
	s.pending = nil
	wasLoading := s.loading
	s.loading = false
	s.mu.Unlock()

	// A user message whose reply was still outstanding is part of the frozen log.
	if pending != nil {
		s.persistMessage(*pending)
	}
	s.deps.Persister.Enqueue("end_conversation", s.id, s.userID, func(ctx context.Context) error {
		return s.deps.Store.EndConversation(ctx, s.id, endedAt, sum)
	})

	s.logger.Info("Conversation ended",
		"total_messages", sum.TotalMessages,
		"duration_s", sum.Duration,
		"fluency", sum.Scores.Fluency,
	)
	if wasLoading {
		s.publish(Event{Type: EventLoadingChanged, Loading: false})
	}
	s.publish(Event{Type: EventSessionEnded, Summary: &sum})
	return sum, nil
}

// Dispose detaches the session. In-flight generator results are discarded.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.loading = false
	s.mu.Unlock()

	s.publish(Event{Type: EventSessionDisposed})
}

// Snapshot is a copy of the observable session state.
type Snapshot struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	ScenarioID    int              `json:"scenario_id"`
	ScenarioTitle string           `json:"scenario_title"`
	State         string           `json:"state"`
	Loading       bool             `json:"loading"`
	StartedAt     time.Time        `json:"started_at"`
	Messages      []domain.Message `json:"messages"`
	Summary       *domain.Summary  `json:"summary,omitempty"`
	Notifications []Notification   `json:"notifications,omitempty"`
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:            s.id,
		UserID:        s.userID,
		ScenarioID:    s.scenarioID,
		ScenarioTitle: s.scenario.Title,
		State:         s.state.String(),
		Loading:       s.loading,
		StartedAt:     s.startedAt,
		Messages:      append([]domain.Message(nil), s.messages...),
		Notifications: append([]Notification(nil), s.notifications...),
	}
	if s.summary != nil {
		sum := *s.summary
		snap.Summary = &sum
	}
	return snap
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Disposed reports whether Dispose has been called.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// appendLocked adds a message with the next ID. Callers hold s.mu.
func (s *Session) appendLocked(role domain.Role, content string, fb *domain.Feedback) domain.Message {
	now := s.deps.now()
	msg := domain.Message{
		ID:        s.nextID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
		Feedback:  fb,
		Avatar:    s.deps.Avatars.forRole(role),
	}
	s.nextID++
	s.messages = append(s.messages, msg)
	s.lastActivity = now
	return msg
}

// revertLocked removes the message with the given ID. Callers hold s.mu.
func (s *Session) revertLocked(id int64) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Session) persistMessage(msg domain.Message) {
	s.deps.Persister.Enqueue("append_message", s.id, s.userID, func(ctx context.Context) error {
		return s.deps.Store.AppendMessage(ctx, s.id, msg)
	})
}

func (s *Session) publish(e Event) {
	e.ConversationID = s.id
	e.UserID = s.userID
	s.deps.Bus.Publish(e)
}

// buildTranscript renders messages as "<Label>: <content>" lines.
func buildTranscript(messages []domain.Message) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = m.Role.Label() + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}
