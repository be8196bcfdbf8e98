package agent

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiGenerator implements Generator with the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	cfg    Config
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(ctx context.Context, cfg Config) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY must be set for the gemini provider")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultConfig().ModelName
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiGenerator{client: client, cfg: cfg}, nil
}

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Reply, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	temp := g.cfg.Temperature
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(req.ScenarioTitle), genai.RoleUser),
		Temperature:       &temp,
		ResponseMIMEType:  "application/json",
	}

	res, err := g.client.Models.GenerateContent(ctx, g.cfg.ModelName, genai.Text(userPrompt(req)), genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return nil, errors.New("gemini returned empty text")
	}

	return parseReply(text)
}
