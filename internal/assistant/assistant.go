// Package assistant talks to the language model that drives onboarding.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/brand-onboarding/internal/domain"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderGRPC      = "grpc"
)

// Request is one completion call: the fixed instructions, the conversation so
// far and the new human message.
type Request struct {
	Instructions string
	History      []domain.ChatMessage
	Message      string
}

// Prompt renders the request as a single text prompt for providers that take
// one string.
func (r Request) Prompt() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Instructions))
	b.WriteString("\n\nPrevious conversation:\n")
	for _, m := range r.History {
		switch m.Role {
		case domain.RoleHuman:
			b.WriteString("Human: ")
		default:
			b.WriteString("AI: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nHuman: ")
	b.WriteString(r.Message)
	b.WriteString("\nAI: ")
	return b.String()
}

// Completer returns the assistant's free-text reply to a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Provider is a Completer bound to a backend.
type Provider interface {
	Completer
	Name() string
	Close() error
}

// Error reports a failed assistant call. It matches errdefs.ErrUnavailable
// and the underlying cause.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("assistant %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{errdefs.ErrUnavailable, e.Err}
}

// Config selects and tunes a provider.
type Config struct {
	Provider        string
	Model           string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
	AnthropicAPIKey string
	AnthropicURL    string
	GeminiAPIKey    string
	GRPCAddr        string
}

// New builds the provider named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			APIKey:      cfg.AnthropicAPIKey,
			BaseURL:     cfg.AnthropicURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case ProviderGemini:
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case ProviderGRPC:
		return NewGrpcClient(ctx, GrpcConfig{
			Address:     cfg.GRPCAddr,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}, nil)
	default:
		return nil, fmt.Errorf("unknown assistant provider %q: %w", cfg.Provider, errdefs.ErrInvalidArgument)
	}
}

// withTimeout applies d when ctx carries no deadline of its own.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
