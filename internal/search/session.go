package search

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/eventscope/eventscope/internal/models"
)

// Status is the lifecycle state of a search session. Terminal states
// are absorbing.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Counters is the monotonic progress snapshot of one session.
type Counters struct {
	ArticlesScraped   int     `json:"articles_scraped"`
	ArticlesExtracted int     `json:"articles_extracted"`
	EventsMatched     int     `json:"events_matched"`
	ProcessingSeconds float64 `json:"processing_seconds"`
}

// Session is the server-side handle for one search. The cancellation
// flag is atomic so every pipeline stage can poll it without locking;
// everything else is guarded by the mutex, which is never held across
// I/O.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Query     models.Query

	cancelled atomic.Bool

	mu         sync.Mutex
	status     Status
	events     []models.EventData
	counters   Counters
	lastActive time.Time
}

func NewSession(query models.Query) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         uuid.New(),
		CreatedAt:  now,
		Query:      query,
		status:     StatusRunning,
		lastActive: now,
	}
}

// Cancel sets the cancellation flag. The status transition happens at
// the orchestrator's next safe point, not here.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports the flag; polled at every pipeline boundary.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Finish moves the session into a terminal status exactly once and
// reports whether this call made the transition.
func (s *Session) Finish(status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = status
	s.lastActive = time.Now().UTC()
	return true
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AppendEvent records a matched event and bumps the counter.
func (s *Session) AppendEvent(event models.EventData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.counters.EventsMatched++
	s.lastActive = time.Now().UTC()
}

func (s *Session) AddScraped(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.ArticlesScraped += n
	s.lastActive = time.Now().UTC()
}

func (s *Session) IncExtracted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.ArticlesExtracted++
	s.lastActive = time.Now().UTC()
}

func (s *Session) SetProcessingSeconds(secs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.ProcessingSeconds = secs
}

// Counters returns a snapshot; later snapshots dominate earlier ones on
// every monotonic counter.
func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Events returns a copy of the matched events so far.
func (s *Session) Events() []models.EventData {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventData, len(s.events))
	copy(out, s.events)
	return out
}

// IdleSince reports the last time the session saw activity.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// MarshalJSON serializes the session for the lookup endpoint.
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(struct {
		ID        uuid.UUID          `json:"id"`
		CreatedAt time.Time          `json:"created_at"`
		Query     models.Query       `json:"query"`
		Status    Status             `json:"status"`
		Events    []models.EventData `json:"events"`
		Counters  Counters           `json:"counters"`
	}{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Query:     s.Query,
		Status:    s.status,
		Events:    s.events,
		Counters:  s.counters,
	})
}
