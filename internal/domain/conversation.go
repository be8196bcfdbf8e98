package domain

import (
	"time"
)

// ConversationStatus is the persisted lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusActive ConversationStatus = "active"
	StatusEnded  ConversationStatus = "ended"
)

// Conversation is the persisted record of one practice session.
type Conversation struct {
	ID         string             `json:"id"`
	UserID     string             `json:"user_id"`
	ScenarioID int                `json:"scenario_id"`
	Status     ConversationStatus `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    *time.Time         `json:"ended_at,omitempty"`
	Summary    *Summary           `json:"summary,omitempty"`
}

// Scores are the averaged session scores, each 0-100.
type Scores struct {
	Fluency       int `json:"fluency"`
	Grammar       int `json:"grammar"`
	Pronunciation int `json:"pronunciation"`
}

// Summary is computed once when a session ends.
type Summary struct {
	TotalMessages int     `json:"total_messages"`
	Duration      float64 `json:"duration"`
	Scores        Scores  `json:"scores"`
}
