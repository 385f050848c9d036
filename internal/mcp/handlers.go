package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ashureev/brand-onboarding/internal/onboarding"
	"github.com/ashureev/brand-onboarding/internal/transcript"
)

// Handlers holds dependencies for the tool handlers.
type Handlers struct {
	svc    Onboarding
	brands BrandGetter
}

// NewHandlers creates a Handlers instance.
func NewHandlers(svc Onboarding, brands BrandGetter) *Handlers {
	return &Handlers{svc: svc, brands: brands}
}

// SendRequest holds onboarding_send arguments.
type SendRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SessionRequest holds onboarding_get arguments.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// BrandRequest holds brand_get arguments.
type BrandRequest struct {
	BrandID string `json:"brand_id"`
}

// StartResult is returned by onboarding_start.
type StartResult struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// HandleStart handles onboarding_start.
func (h *Handlers) HandleStart(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view := h.svc.CreateSession(transcript.WithChannel(ctx, "mcp"))
	return successResult(StartResult{SessionID: view.ID, Message: onboarding.WelcomeMessage})
}

// HandleSend handles onboarding_send.
func (h *Handlers) HandleSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SendRequest](req)
	if err != nil {
		return errorResult(fmt.Errorf("%s: %w", err, errdefs.ErrInvalidArgument)), nil
	}
	if input.SessionID == "" {
		return errorResult(fmt.Errorf("session_id is required: %w", errdefs.ErrInvalidArgument)), nil
	}

	result, err := h.svc.SendTurn(transcript.WithChannel(ctx, "mcp"), input.SessionID, input.Message)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleGet handles onboarding_get.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(fmt.Errorf("%s: %w", err, errdefs.ErrInvalidArgument)), nil
	}

	view, err := h.svc.GetSession(ctx, input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(view)
}

// HandleBrandGet handles brand_get.
func (h *Handlers) HandleBrandGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BrandRequest](req)
	if err != nil {
		return errorResult(fmt.Errorf("%s: %w", err, errdefs.ErrInvalidArgument)), nil
	}
	if h.brands == nil {
		return errorResult(fmt.Errorf("brand store not configured: %w", errdefs.ErrUnavailable)), nil
	}

	brand, err := h.brands.GetBrand(ctx, input.BrandID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(brand)
}

// errorResult builds an IsError result. Internal errors are reported without
// their message.
func errorResult(err error) *mcp.CallToolResult {
	code, status, msg := "INTERNAL", 500, "an internal error occurred"
	switch {
	case errdefs.IsNotFound(err):
		code, status, msg = "NOT_FOUND", 404, err.Error()
	case errdefs.IsInvalidArgument(err):
		code, status, msg = "INVALID_REQUEST", 400, err.Error()
	case errdefs.IsUnavailable(err):
		code, status, msg = "UNAVAILABLE", 502, err.Error()
	}

	content, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
			"status":  status,
		},
	})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
