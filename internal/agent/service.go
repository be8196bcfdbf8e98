package agent

import (
	"context"
	"fmt"
	"log/slog"
)

// FallbackResponse is returned to the learner when the model call fails.
const FallbackResponse = "Sorry, I encountered an unexpected error and couldn't process your message. Please try again."

// Fallback converts generator errors into a safe apology reply so that raw
// model or network failures never reach the conversation.
type Fallback struct {
	next   Generator
	logger *slog.Logger
}

// NewFallback wraps next.
func NewFallback(next Generator, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{next: next, logger: logger}
}

// Generate implements Generator.
func (f *Fallback) Generate(ctx context.Context, req Request) (reply *Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("generator panicked", "panic", fmt.Sprint(r), "scenario", req.ScenarioTitle)
			reply, err = &Reply{AIResponse: FallbackResponse}, nil
		}
	}()

	reply, err = f.next.Generate(ctx, req)
	if err != nil {
		f.logger.Error("generator failed, using fallback reply",
			"error", err,
			"scenario", req.ScenarioTitle,
			"message_length", len(req.UserMessage),
		)
		return &Reply{AIResponse: FallbackResponse}, nil
	}
	return reply, nil
}

// New builds the generator selected by cfg, wrapped in Fallback.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Generator, error) {
	var g Generator
	switch cfg.Provider {
	case ProviderGemini:
		gg, err := NewGeminiGenerator(ctx, cfg)
		if err != nil {
			return nil, err
		}
		g = gg
	case ProviderMock, "":
		g = NewMockGenerator()
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
	return NewFallback(g, logger), nil
}
