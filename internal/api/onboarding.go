package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/brand-onboarding/internal/onboarding"
	"github.com/ashureev/brand-onboarding/internal/transcript"
)

// StartResponse is returned by POST /api/onboarding/start.
type StartResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// MessageRequest is the body of POST /api/onboarding/message/{session_id}.
type MessageRequest struct {
	Message string `json:"message"`
}

// StartOnboarding creates a session and returns the welcome message.
func (h *Handler) StartOnboarding(w http.ResponseWriter, r *http.Request) {
	ctx := transcript.WithChannel(r.Context(), "http")
	view := h.svc.CreateSession(ctx)
	JSON(w, http.StatusOK, StartResponse{
		SessionID: view.ID,
		Message:   onboarding.WelcomeMessage,
	})
}

// SendMessage runs one turn for the session in the path.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, r, err)
			return
		}
		h.writeError(w, r, fmt.Errorf("invalid request body: %w", errdefs.ErrInvalidArgument))
		return
	}

	ctx := transcript.WithChannel(r.Context(), "http")
	result, err := h.svc.SendTurn(ctx, sessionID, req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// GetSession returns the session snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}
