package search

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CancelResult is the outcome of a cancellation request.
type CancelResult int

const (
	CancelAccepted CancelResult = iota
	CancelNotFound
	CancelAlreadyTerminal
)

// DefaultJanitorInterval is how often the registry sweeps for expired
// sessions.
const DefaultJanitorInterval = 10 * time.Minute

// Registry is the process-wide session map with background eviction of
// idle sessions. Reads dominate; writes hold the lock briefly and the
// sweep never deletes while iterating under it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	ttl      time.Duration
	logger   zerolog.Logger
}

func NewRegistry(ttl time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		ttl:      ttl,
		logger:   logger,
	}
}

func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// MarkCancelled sets the cancellation flag on a running session. A
// second request on a terminal session is a no-op.
func (r *Registry) MarkCancelled(id uuid.UUID) CancelResult {
	s, ok := r.Get(id)
	if !ok {
		return CancelNotFound
	}
	if s.Status().Terminal() {
		return CancelAlreadyTerminal
	}
	s.Cancel()
	return CancelAccepted
}

// RunJanitor evicts sessions idle longer than the TTL until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictExpired()
		}
	}
}

// EvictExpired removes idle sessions. Candidates are collected under the
// read lock; deletion re-checks idleness under the write lock.
func (r *Registry) EvictExpired() int {
	cutoff := time.Now().UTC().Add(-r.ttl)

	r.mu.RLock()
	candidates := make([]uuid.UUID, 0)
	for id, s := range r.sessions {
		if s.IdleSince().Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return 0
	}

	evicted := 0
	r.mu.Lock()
	for _, id := range candidates {
		if s, ok := r.sessions[id]; ok && s.IdleSince().Before(cutoff) {
			delete(r.sessions, id)
			evicted++
		}
	}
	r.mu.Unlock()

	if evicted > 0 {
		r.logger.Info().Int("evicted", evicted).Msg("expired sessions evicted")
	}
	return evicted
}
