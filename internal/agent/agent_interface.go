package agent

import (
	"context"
)

// Generator produces the tutor's next utterance and optional feedback.
type Generator interface {
	// Generate returns the reply to the learner's latest message. A reply with
	// an empty AIResponse is treated by callers as no reply at all.
	Generate(ctx context.Context, req Request) (*Reply, error)
}

// Ensure implementations satisfy Generator.
var (
	_ Generator = (*GeminiGenerator)(nil)
	_ Generator = (*MockGenerator)(nil)
	_ Generator = (*Fallback)(nil)
)
