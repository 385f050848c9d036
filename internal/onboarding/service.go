// Package onboarding runs the conversational brand onboarding flow.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/brand-onboarding/internal/assistant"
	"github.com/ashureev/brand-onboarding/internal/domain"
	"github.com/ashureev/brand-onboarding/internal/extract"
	"github.com/ashureev/brand-onboarding/internal/session"
	"github.com/ashureev/brand-onboarding/internal/transcript"
)

// ErrEmptyMessage is returned for blank turn messages.
var ErrEmptyMessage = fmt.Errorf("message is required: %w", errdefs.ErrInvalidArgument)

const defaultCommitTimeout = 10 * time.Second

// Committer persists a completed profile and returns its brand id.
type Committer interface {
	CommitBrand(ctx context.Context, profile *domain.BrandProfile) (string, error)
}

// TurnResult is what a caller sees after one turn.
type TurnResult struct {
	Message   string               `json:"message"`
	Completed bool                 `json:"completed"`
	BrandData *domain.BrandProfile `json:"brand_data,omitempty"`
	BrandID   string               `json:"brand_id,omitempty"`
}

// Service processes onboarding turns.
type Service struct {
	sessions      *session.Store
	assistant     assistant.Completer
	committer     Committer
	transcript    transcript.Logger
	logger        *slog.Logger
	instructions  string
	commitTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithTranscript sets the transcript logger.
func WithTranscript(l transcript.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.transcript = l
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithInstructions replaces DefaultInstructions.
func WithInstructions(instructions string) Option {
	return func(s *Service) { s.instructions = instructions }
}

// WithCommitTimeout bounds the brand commit run after completion.
func WithCommitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.commitTimeout = d
		}
	}
}

// NewService creates a Service. committer may be nil, in which case completed
// profiles stay in memory only.
func NewService(sessions *session.Store, asst assistant.Completer, committer Committer, opts ...Option) *Service {
	s := &Service{
		sessions:      sessions,
		assistant:     asst,
		committer:     committer,
		transcript:    transcript.Noop{},
		logger:        slog.Default(),
		instructions:  DefaultInstructions(),
		commitTimeout: defaultCommitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession starts a new conversation and returns its view.
func (s *Service) CreateSession(ctx context.Context) session.View {
	sess := s.sessions.Create()
	s.logger.Info("Onboarding session started", "session_id", sess.ID)
	s.transcript.Log(transcript.Event{
		SessionID: sess.ID,
		Channel:   transcript.ChannelFromContext(ctx),
		Direction: "internal",
		EventType: transcript.EventSessionStarted,
	})
	return sess.View()
}

// GetSession returns a snapshot of the session.
func (s *Service) GetSession(_ context.Context, id string) (session.View, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return session.View{}, err
	}
	return sess.View(), nil
}

// SendTurn processes one human message. Turns on the same session run one at
// a time; turns on different sessions run independently.
//
// It returns a *session.NotFoundError for unknown sessions, ErrEmptyMessage
// for blank input, the context error when ctx ends while another turn holds
// the session, and an *assistant.Error when the assistant call fails. In
// the last case the human message is removed again so the history only holds
// complete turns. Extraction and persistence problems never fail the turn.
func (s *Service) SendTurn(ctx context.Context, id, message string) (TurnResult, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return TurnResult{}, err
	}
	if strings.TrimSpace(message) == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	if err := sess.AcquireTurn(ctx); err != nil {
		return TurnResult{}, fmt.Errorf("wait for turn on session %s: %w", id, err)
	}
	defer sess.ReleaseTurn()

	if sess.Completed() {
		return TurnResult{
			Message:   AlreadyCompletedMessage,
			Completed: true,
			BrandData: sess.BrandData(),
			BrandID:   sess.BrandID(),
		}, nil
	}

	channel := transcript.ChannelFromContext(ctx)
	history := sess.History()
	mark := sess.Append(domain.RoleHuman, message)
	s.transcript.Log(transcript.Event{
		SessionID: id,
		Channel:   channel,
		Direction: "inbound",
		EventType: transcript.EventHumanMessage,
		Content:   message,
	})

	s.logger.Info("Onboarding turn", "session_id", id, "message_length", len(message), "history_length", len(history))

	call := assistant.Start(ctx, s.assistant, assistant.Request{
		Instructions: s.instructions,
		History:      history,
		Message:      message,
	})
	reply, err := call.Wait(ctx)
	if err != nil {
		sess.Truncate(mark)
		var aerr *assistant.Error
		if !errors.As(err, &aerr) {
			err = &assistant.Error{Provider: "assistant", Err: err}
		}
		s.logger.Error("Assistant call failed", "session_id", id, "error", err)
		s.transcript.Log(transcript.Event{
			SessionID: id,
			Channel:   channel,
			Direction: "internal",
			EventType: transcript.EventAssistantFailed,
			Error:     err.Error(),
		})
		return TurnResult{}, err
	}

	sess.Append(domain.RoleAssistant, reply)
	s.transcript.Log(transcript.Event{
		SessionID: id,
		Channel:   channel,
		Direction: "outbound",
		EventType: transcript.EventAssistantMessage,
		Content:   reply,
	})

	result := extract.Extract(reply)
	if result.Status == extract.StatusMalformed {
		s.logger.Warn("Assistant emitted a malformed brand block", "session_id", id, "error", result.Err)
		event := transcript.Event{
			SessionID: id,
			Channel:   channel,
			Direction: "internal",
			EventType: transcript.EventMalformedBlock,
			Error:     result.Err.Error(),
		}
		if result.Block != nil {
			event.Meta = map[string]any{"format": string(result.Block.Format)}
		}
		s.transcript.Log(event)
		return TurnResult{Message: reply}, nil
	}
	if !result.Complete() {
		if len(result.Missing) > 0 {
			s.logger.Debug("Brand block is missing fields", "session_id", id, "missing", result.Missing)
		}
		return TurnResult{Message: reply}, nil
	}

	if !sess.Complete(result.Profile) {
		// Another turn completed the session first.
		return TurnResult{Message: reply, Completed: true, BrandData: sess.BrandData(), BrandID: sess.BrandID()}, nil
	}
	s.logger.Info("Onboarding completed", "session_id", id, "brand_name", result.Profile.BrandName)

	brandID := s.commit(ctx, sess, channel, result.Profile)
	s.transcript.Log(transcript.Event{
		SessionID: id,
		Channel:   channel,
		Direction: "internal",
		EventType: transcript.EventCompleted,
		BrandID:   brandID,
		Meta:      map[string]any{"brand_name": result.Profile.BrandName},
	})
	return TurnResult{
		Message:   reply,
		Completed: true,
		BrandData: sess.BrandData(),
		BrandID:   brandID,
	}, nil
}

// commit persists profile once. A failure is logged and leaves the session
// completed without a brand id.
func (s *Service) commit(ctx context.Context, sess *session.Session, channel string, profile *domain.BrandProfile) string {
	if s.committer == nil {
		return ""
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()

	brandID, err := s.committer.CommitBrand(commitCtx, profile)
	if err != nil {
		s.logger.Error("Failed to persist brand", "session_id", sess.ID, "brand_name", profile.BrandName, "error", err)
		s.transcript.Log(transcript.Event{
			SessionID: sess.ID,
			Channel:   channel,
			Direction: "internal",
			EventType: transcript.EventPersistFailed,
			Error:     err.Error(),
		})
		return ""
	}

	sess.SetBrandID(brandID)
	s.logger.Info("Brand persisted", "session_id", sess.ID, "brand_id", brandID)
	return brandID
}
