// Package api provides HTTP handlers for the onboarding API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/brand-onboarding/internal/domain"
	"github.com/ashureev/brand-onboarding/internal/onboarding"
	"github.com/ashureev/brand-onboarding/internal/session"
)

// Onboarding is the conversation surface the handlers drive.
type Onboarding interface {
	CreateSession(ctx context.Context) session.View
	GetSession(ctx context.Context, id string) (session.View, error)
	SendTurn(ctx context.Context, id, message string) (onboarding.TurnResult, error)
}

// BrandReader is the read side of the brand store.
type BrandReader interface {
	GetBrand(ctx context.Context, id string) (*domain.Brand, error)
	ListBrands(ctx context.Context, limit, offset int) ([]*domain.Brand, error)
	Ping(ctx context.Context) error
}

// Handler serves the onboarding, brand and health endpoints.
type Handler struct {
	svc            Onboarding
	brands         BrandReader
	logger         *slog.Logger
	maxBodyBytes   int64
	allowedOrigins []string
	conns          *connRegistry
}

// Options tunes a Handler.
type Options struct {
	Logger         *slog.Logger
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// NewHandler creates a Handler. brands may be nil when no store is configured.
func NewHandler(svc Onboarding, brands BrandReader, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Handler{
		svc:            svc,
		brands:         brands,
		logger:         opts.Logger,
		maxBodyBytes:   opts.MaxBodyBytes,
		allowedOrigins: opts.AllowedOrigins,
		conns:          newConnRegistry(opts.Logger),
	}
}

// RegisterRoutes registers every route served by h.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Route("/onboarding", func(r chi.Router) {
			r.Post("/start", h.StartOnboarding)
			r.Post("/message/{session_id}", h.SendMessage)
			r.Get("/session/{session_id}", h.GetSession)
		})
		r.Get("/brands", h.ListBrands)
		r.Get("/brands/{brand_id}", h.GetBrand)
	})
	r.Get("/ws/onboarding/{session_id}", h.ServeWebSocket)
}

// Health reports database connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.brands == nil {
		JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.brands.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an error class to its HTTP status.
func StatusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsUnavailable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and writes it. Internal errors are logged
// and hidden from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	case http.StatusBadGateway:
		h.logger.Warn("Assistant unavailable", "path", r.URL.Path, "error", err)
		msg = "assistant unavailable, please retry"
	}
	Error(w, status, msg)
}
