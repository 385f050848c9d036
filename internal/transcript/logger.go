// Package transcript writes per-session onboarding transcripts as NDJSON.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types written by the onboarding service.
const (
	EventSessionStarted   = "session_started"
	EventHumanMessage     = "human_message"
	EventAssistantMessage = "assistant_message"
	EventAssistantFailed  = "assistant_failed"
	EventMalformedBlock   = "malformed_block"
	EventCompleted        = "completed"
	EventPersistFailed    = "persist_failed"
)

// Event is one transcript line.
type Event struct {
	Timestamp string         `json:"ts"`
	SessionID string         `json:"session_id"`
	Channel   string         `json:"channel"`
	Direction string         `json:"direction"`
	EventType string         `json:"event_type"`
	Content   string         `json:"content,omitempty"`
	BrandID   string         `json:"brand_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Logger accepts transcript events. Log never blocks the caller.
type Logger interface {
	Log(event Event)
	Close() error
}

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

type channelKey struct{}

// WithChannel tags ctx with the transport a turn arrived on (http, ws, mcp, cli).
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey{}, channel)
}

// ChannelFromContext returns the channel set by WithChannel, or "api".
func ChannelFromContext(ctx context.Context) string {
	if ch, ok := ctx.Value(channelKey{}).(string); ok && ch != "" {
		return ch
	}
	return "api"
}

// Noop discards every event.
type Noop struct{}

// Log discards event.
func (Noop) Log(Event) {}

// Close does nothing.
func (Noop) Close() error { return nil }

type fileLogger struct {
	dir    string
	queue  chan Event
	done   chan struct{}
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// New returns a Noop when cfg is disabled, otherwise a file logger writing
// {Dir}/{session_id}.ndjson from a single background goroutine.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript dir cannot be empty")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	l := &fileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

func (l *fileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("transcript queue full, dropping events", "dropped", n, "session_id", event.SessionID)
		}
	}
}

func (l *fileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *fileLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write transcript event", "session_id", event.SessionID, "error", err)
		}
	}
}

func (l *fileLogger) write(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	path := filepath.Join(l.dir, safeName(event.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append transcript: %w", err)
	}
	return f.Close()
}

// safeName keeps session ids usable as file names.
func safeName(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
