package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/brand-onboarding/internal/domain"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com"
	defaultAnthropicModel = "claude-3-7-sonnet-20250219"
	anthropicVersion      = "2023-06-01"
)

var (
	errMissingAPIKey = errors.New("API key not configured")
	errEmptyReply    = errors.New("no completion returned")
)

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

var _ Provider = (*AnthropicClient)(nil)

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicClient creates a client. An API key is required.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Provider: ProviderAnthropic, Err: errMissingAPIKey}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &AnthropicClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		httpClient:  httpClient,
		logger:      slog.Default().With("provider", ProviderAnthropic),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string { return ProviderAnthropic }

// Close is a no-op; the HTTP client holds no dedicated resources.
func (c *AnthropicClient) Close() error { return nil }

// Complete sends the instructions as the system prompt and the history plus
// the new message as alternating user/assistant turns.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	body := anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      req.Instructions,
		Messages:    anthropicMessages(req),
		Temperature: c.temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", c.fail(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", c.fail(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.fail(fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.fail(fmt.Errorf("read response: %w", err))
	}

	var parsed anthropicResponse
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return "", c.fail(fmt.Errorf("parse response: %w", jsonErr))
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", c.fail(fmt.Errorf("status %d: %s: %s", resp.StatusCode, parsed.Error.Type, parsed.Error.Message))
		}
		return "", c.fail(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 256)))
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	reply := strings.TrimSpace(text.String())
	if reply == "" {
		return "", c.fail(errEmptyReply)
	}

	c.logger.Debug("completion finished",
		"model", c.model,
		"duration", time.Since(start),
		"response_length", len(reply),
	)
	return reply, nil
}

func (c *AnthropicClient) fail(err error) error {
	return &Error{Provider: ProviderAnthropic, Err: err}
}

func anthropicMessages(req Request) []anthropicMessage {
	msgs := make([]anthropicMessage, 0, len(req.History)+1)
	for _, m := range req.History {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: m.Content})
	}
	return append(msgs, anthropicMessage{Role: "user", Content: req.Message})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
