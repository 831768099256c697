// Package sessions implements ConversationStore: an in-memory mapping from
// sessionId to a FIFO-bounded, TTL-evicted message history.
package sessions

import (
	"sync"
	"time"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

// DefaultMaxMessagesPerSession is used when a Store is built with a
// non-positive cap.
const DefaultMaxMessagesPerSession = 200

// sweepInterval is the fixed cadence of the TTL sweeper.
const sweepInterval = 60 * time.Second

// Store is the ConversationStore: sessionId -> bounded message history.
// All operations are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*models.ConversationSession

	maxMessages int
	ttl         time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Store at construction.
type Option func(*Store)

// WithMaxMessagesPerSession overrides DefaultMaxMessagesPerSession.
func WithMaxMessagesPerSession(n int) Option {
	return func(s *Store) { s.maxMessages = n }
}

// WithSessionTTL enables the TTL sweeper: sessions untouched for longer than
// ttl are evicted every sweepInterval. A zero ttl (the default) disables
// sweeping.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New builds a Store and, if a TTL was configured, starts its sweeper.
func New(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*models.ConversationSession),
		maxMessages: DefaultMaxMessagesPerSession,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}
	return s
}

// Has reports whether sessionId currently has a session.
func (s *Store) Has(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok
}

// Count returns the number of messages currently held for sessionId.
func (s *Store) Count(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(sess.Messages)
}

// Get returns a defensive copy of sessionId's message history, touching
// lastAccessedAt. Returns nil if the session does not exist.
func (s *Store) Get(sessionID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	sess.LastAccessedAt = time.Now()
	out := make([]models.Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out
}

// Add appends msg to sessionId, creating the session lazily, then truncates
// from the head until the FIFO cap holds. Touches lastAccessedAt.
func (s *Store) Add(sessionID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &models.ConversationSession{CreatedAt: now}
		s.sessions[sessionID] = sess
	}
	sess.Messages = append(sess.Messages, msg)
	sess.LastAccessedAt = now

	cap := s.maxMessages
	if cap <= 0 {
		cap = DefaultMaxMessagesPerSession
	}
	if over := len(sess.Messages) - cap; over > 0 {
		sess.Messages = sess.Messages[over:]
	}
}

// Clear deletes sessionId entirely.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Cleanup evicts every session whose lastAccessedAt is older than the
// configured TTL. It is a no-op when no TTL is configured; exported so
// callers (and tests) can trigger a sweep deterministically instead of
// waiting on the background ticker.
func (s *Store) Cleanup() {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastAccessedAt) > s.ttl {
			delete(s.sessions, id)
		}
	}
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// Destroy stops the TTL sweeper (if any) and releases all sessions. Safe to
// call multiple times.
func (s *Store) Destroy() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*models.ConversationSession)
}
