// Package agent implements the AI tutor response generator.
package agent

import (
	"time"

	"github.com/aexy-app/aexy/internal/domain"
)

// Request is the input to a generator call.
type Request struct {
	ScenarioTitle       string `json:"scenario_title"`
	ConversationHistory string `json:"conversation_history"`
	UserMessage         string `json:"user_message"`
}

// Reply is the generator output.
type Reply struct {
	AIResponse string           `json:"ai_response"`
	Feedback   *domain.Feedback `json:"feedback,omitempty"`
}

// Provider names accepted in Config.
const (
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// Config holds generator configuration.
type Config struct {
	Provider    string
	ModelName   string
	APIKey      string
	Timeout     time.Duration
	Temperature float32
}

// DefaultConfig returns default generator configuration.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderMock,
		ModelName:   "gemini-2.5-flash",
		Timeout:     30 * time.Second,
		Temperature: 0.7,
	}
}
