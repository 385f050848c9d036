// Package session holds in-memory onboarding conversations.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/brand-onboarding/internal/domain"
)

// Session is one onboarding conversation. Fields are guarded by mu; the turn
// slot serializes turn processing and is held for the whole assistant call.
type Session struct {
	ID        string
	CreatedAt time.Time

	turn chan struct{}

	mu        sync.RWMutex
	completed bool
	brandData *domain.BrandProfile
	brandID   string
	history   []domain.ChatMessage
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		turn:      make(chan struct{}, 1),
	}
}

// AcquireTurn blocks until no other turn is running on the session or ctx is done.
func (s *Session) AcquireTurn(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseTurn frees the turn slot taken by AcquireTurn.
func (s *Session) ReleaseTurn() {
	select {
	case <-s.turn:
	default:
	}
}

// Append adds a message to the history and returns the history length before
// the append, usable with Truncate.
func (s *Session) Append(role domain.Role, content string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	s.history = append(s.history, domain.ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	return n
}

// Truncate drops history entries past n. It is a no-op once the session is
// completed so a finished transcript cannot shrink.
func (s *Session) Truncate(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed || n < 0 || n >= len(s.history) {
		return
	}
	s.history = s.history[:n]
}

// Complete marks the session finished with profile. It returns false if the
// session was already completed, in which case nothing changes.
func (s *Session) Complete(profile *domain.BrandProfile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed || profile == nil {
		return false
	}
	s.completed = true
	s.brandData = profile.Clone()
	return true
}

// SetBrandID records the persisted brand identifier. Only the first call wins.
func (s *Session) SetBrandID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.brandID == "" {
		s.brandID = id
	}
}

// Completed reports whether the session has finished onboarding.
func (s *Session) Completed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed
}

// BrandData returns a copy of the stored profile, or nil before completion.
func (s *Session) BrandData() *domain.BrandProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.brandData.Clone()
}

// BrandID returns the persisted brand id, empty if not committed.
func (s *Session) BrandID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.brandID
}

// History returns a copy of the chat history.
func (s *Session) History() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

// View is a point-in-time snapshot of a session.
type View struct {
	ID          string               `json:"session_id"`
	Completed   bool                 `json:"completed"`
	BrandData   *domain.BrandProfile `json:"brand_data"`
	BrandID     string               `json:"brand_id,omitempty"`
	ChatHistory []domain.ChatMessage `json:"chat_history"`
	CreatedAt   time.Time            `json:"created_at"`
}

// View snapshots the session under a single read lock.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]domain.ChatMessage, len(s.history))
	copy(history, s.history)
	return View{
		ID:          s.ID,
		Completed:   s.completed,
		BrandData:   s.brandData.Clone(),
		BrandID:     s.brandID,
		ChatHistory: history,
		CreatedAt:   s.CreatedAt,
	}
}
