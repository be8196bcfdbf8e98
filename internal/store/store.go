// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/aexy-app/aexy/internal/domain"
)

// Repository defines the interface for persisting users, conversations and
// their messages.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns (nil, nil) when
	// the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates a user record or refreshes its username. Counters
	// and tier of an existing user are left untouched.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateTier changes the subscription tier of a user.
	UpdateTier(ctx context.Context, userID string, tier domain.Tier) error

	// Increment atomically adds one to conversations_today and returns the new value.
	Increment(ctx context.Context, userID string) (int, error)

	// Count returns conversations_today for a user.
	Count(ctx context.Context, userID string) (int, error)

	// CreateConversation inserts a new conversation record.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// EndConversation marks a conversation ended and stores its summary.
	EndConversation(ctx context.Context, conversationID string, endedAt time.Time, summary domain.Summary) error

	// GetConversation retrieves a conversation owned by userID. It returns
	// (nil, nil) when no such conversation exists.
	GetConversation(ctx context.Context, userID, conversationID string) (*domain.Conversation, error)

	// ListConversations returns a user's conversations, newest first.
	ListConversations(ctx context.Context, userID string, limit int) ([]*domain.Conversation, error)

	// AppendMessage stores one message of a conversation.
	AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error

	// ListMessages returns the messages of a conversation in creation order.
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
