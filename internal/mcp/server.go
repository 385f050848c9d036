// Package mcp exposes onboarding as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ashureev/brand-onboarding/internal/domain"
	"github.com/ashureev/brand-onboarding/internal/onboarding"
	"github.com/ashureev/brand-onboarding/internal/session"
)

// Onboarding is the conversation surface the tools drive.
type Onboarding interface {
	CreateSession(ctx context.Context) session.View
	GetSession(ctx context.Context, id string) (session.View, error)
	SendTurn(ctx context.Context, id, message string) (onboarding.TurnResult, error)
}

// BrandGetter loads stored brands.
type BrandGetter interface {
	GetBrand(ctx context.Context, id string) (*domain.Brand, error)
}

type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = map[string]toolEntry{
	"onboarding_start": {
		def: mcp.NewTool("onboarding_start",
			mcp.WithDescription("Start a brand onboarding conversation. Returns the session id and the welcome message."),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStart },
	},
	"onboarding_send": {
		def: mcp.NewTool("onboarding_send",
			mcp.WithDescription("Send one client message to an onboarding session and return the assistant reply."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id from onboarding_start")),
			mcp.WithString("message", mcp.Required(), mcp.Description("Client message")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSend },
	},
	"onboarding_get": {
		def: mcp.NewTool("onboarding_get",
			mcp.WithDescription("Return the state and chat history of an onboarding session."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGet },
	},
	"brand_get": {
		def: mcp.NewTool("brand_get",
			mcp.WithDescription("Load a persisted brand with its social media accounts and keywords."),
			mcp.WithString("brand_id", mcp.Required(), mcp.Description("Brand id returned on completion")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBrandGet },
	},
}

// ToolNames returns the registered tool names.
func ToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// NewServer creates an MCP server with the onboarding tools. brand_get is
// only registered when brands is non-nil.
func NewServer(svc Onboarding, brands BrandGetter, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"brand-onboarding",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(svc, brands)
	for name, entry := range toolRegistry {
		if name == "brand_get" && brands == nil {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves the tools on stdio until stdin closes.
func Run(svc Onboarding, brands BrandGetter, version string) error {
	return server.ServeStdio(NewServer(svc, brands, version))
}

// decode unmarshals tool arguments into a typed struct.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("unmarshal args: %w", err)
	}
	return result, nil
}
