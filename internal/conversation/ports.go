// Package conversation implements live practice sessions: the per-session
// state machine, the turn protocol, and the manager that owns session contexts.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/aexy-app/aexy/internal/domain"
)

var (
	// ErrSessionNotFound is returned when no live session matches the ID and user.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotActive is returned when an operation needs an active session.
	ErrNotActive = errors.New("session is not active")
	// ErrGeneratorFailed wraps generator errors and empty replies that caused a rollback.
	ErrGeneratorFailed = errors.New("generator failed")
	// ErrEmptyReply is returned by the turn protocol when the generator produced no text.
	ErrEmptyReply = errors.New("generator returned an empty reply")
	// ErrUnknownUser is returned when the quota state of a user cannot be loaded.
	ErrUnknownUser = errors.New("unknown user")
)

// Store is the persistence collaborator used by sessions.
type Store interface {
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error
	EndConversation(ctx context.Context, conversationID string, endedAt time.Time, summary domain.Summary) error
}

// Users loads the stored user record for quota decisions.
type Users interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// Scenarios resolves catalog entries.
type Scenarios interface {
	Get(id int) (domain.Scenario, error)
}

// Avatars are the avatar references attached to new messages.
type Avatars struct {
	User      string
	Assistant string
}

func (a Avatars) forRole(r domain.Role) string {
	if r == domain.RoleAssistant {
		return a.Assistant
	}
	return a.User
}
