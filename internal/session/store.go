package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
)

const defaultShardCount = 32

// NotFoundError is returned for unknown session identifiers.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "session not found: " + e.ID
}

// Unwrap lets callers match with errdefs.IsNotFound.
func (e *NotFoundError) Unwrap() error {
	return errdefs.ErrNotFound
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Store maps session identifiers to sessions. Keys are spread over shards so
// creates and lookups on different sessions rarely contend.
type Store struct {
	shards []*shard
	newID  func() string
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the session id source.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithShards sets the shard count; values below 1 are ignored.
func WithShards(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.shards = make([]*shard, n)
		}
	}
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		shards: make([]*shard, defaultShardCount),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Create allocates a new session with a fresh identifier. An id already in
// use is regenerated rather than overwritten.
func (s *Store) Create() *Session {
	for {
		id := s.newID()
		sh := s.shardFor(id)

		sh.mu.Lock()
		if _, exists := sh.sessions[id]; exists {
			sh.mu.Unlock()
			continue
		}
		sess := newSession(id, s.now().UTC())
		sh.sessions[id] = sess
		sh.mu.Unlock()
		return sess
	}
}

// Get returns the session for id or a *NotFoundError.
func (s *Store) Get(id string) (*Session, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	sess, ok := sh.sessions[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return sess, nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}
