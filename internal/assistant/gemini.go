package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ashureev/brand-onboarding/internal/domain"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
	logger      *slog.Logger
}

var _ Provider = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini-backed provider.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Provider: ProviderGemini, Err: errMissingAPIKey}
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &Error{Provider: ProviderGemini, Err: fmt.Errorf("create GenAI client: %w", err)}
	}

	return &GeminiClient{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
		timeout:     cfg.Timeout,
		logger:      slog.Default().With("provider", ProviderGemini),
	}, nil
}

// Name returns the provider name.
func (c *GeminiClient) Name() string { return ProviderGemini }

// Close is a no-op; genai clients need no explicit shutdown.
func (c *GeminiClient) Close() error { return nil }

// Complete generates a reply with the instructions as system instruction.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, geminiContents(req), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.Instructions, genai.RoleUser),
		Temperature:       genai.Ptr(c.temperature),
		MaxOutputTokens:   c.maxTokens,
	})
	if err != nil {
		return "", &Error{Provider: ProviderGemini, Err: fmt.Errorf("generate content: %w", err)}
	}

	reply := strings.TrimSpace(resp.Text())
	if reply == "" {
		return "", &Error{Provider: ProviderGemini, Err: errEmptyReply}
	}

	c.logger.Debug("completion finished",
		"model", c.model,
		"duration", time.Since(start),
		"response_length", len(reply),
	)
	return reply, nil
}

func geminiContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))
}
