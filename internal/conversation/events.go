package conversation

import (
	"sync"
	"time"

	"github.com/aexy-app/aexy/internal/domain"
)

// EventType names a session event.
type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventMessageAppended  EventType = "message_appended"
	EventMessageReverted  EventType = "message_reverted"
	EventLoadingChanged   EventType = "loading_changed"
	EventNotification     EventType = "notification"
	EventSessionEnded     EventType = "session_ended"
	EventSessionDisposed  EventType = "session_disposed"
	EventPersistenceError EventType = "persistence_error"
)

// Event is emitted on every observable session change.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	At             time.Time       `json:"at"`
	ScenarioID     int             `json:"scenario_id,omitempty"`
	Message        *domain.Message `json:"message,omitempty"`
	MessageID      int64           `json:"message_id,omitempty"`
	Loading        bool            `json:"loading"`
	Notice         string          `json:"notice,omitempty"`
	Summary        *domain.Summary `json:"summary,omitempty"`
	Op             string          `json:"op,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Observer receives session events. OnEvent is called synchronously from the
// emitting goroutine and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Bus fans events out to observers.
type Bus struct {
	mu        sync.RWMutex
	observers map[int]Observer
	nextID    int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{observers: make(map[int]Observer)}
}

// Subscribe registers o and returns a function that removes it.
func (b *Bus) Subscribe(o Observer) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.observers[id] = o
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.observers, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to every observer. A nil Bus drops the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	observers := make([]Observer, 0, len(b.observers))
	for _, o := range b.observers {
		observers = append(observers, o)
	}
	b.mu.RUnlock()

	for _, o := range observers {
		o.OnEvent(e)
	}
}
