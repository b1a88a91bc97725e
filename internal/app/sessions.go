package app

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
)

type SessionStatus string

const (
	StatusIdle    SessionStatus = "idle"
	StatusIntake  SessionStatus = "intake"
	StatusRunning SessionStatus = "running"
	StatusDone    SessionStatus = "done"
	StatusFailed  SessionStatus = "failed"
)

// Session is a snapshot of one chat session's pipeline state.
type Session struct {
	ID        string
	Status    SessionStatus
	Results   string
	Delimited string
	Error     string
	Orchard   *orchard.Context
	UpdatedAt time.Time

	// gen changes on every reset so a run started before the reset cannot write
	// into the fresh session.
	gen uint64
}

// Sessions is a bounded session table. Least recently used sessions are evicted.
type Sessions struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Session]
	gen   uint64
	now   func() time.Time
}

func NewSessions(size int) (*Sessions, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, *Session](size)
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	return &Sessions{cache: c, now: time.Now}, nil
}

// Get returns a copy of the session. Unknown sessions read as idle.
func (s *Sessions) Get(id string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cache.Get(id); ok {
		return *cur
	}
	return Session{ID: id, Status: StatusIdle}
}

func (s *Sessions) lockedSession(id string) *Session {
	cur, ok := s.cache.Get(id)
	if !ok {
		s.gen++
		cur = &Session{ID: id, Status: StatusIdle, gen: s.gen}
		s.cache.Add(id, cur)
	}
	return cur
}

// MarkIntake records that the session is collecting intake data, unless a run
// is already under way or finished.
func (s *Sessions) MarkIntake(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.lockedSession(id)
	if cur.Status == StatusIdle {
		cur.Status = StatusIntake
		cur.UpdatedAt = s.now()
	}
}

// Start marks the session running and returns the generation the run must
// present when it finishes. It fails if a run is already going.
func (s *Sessions) Start(id string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.lockedSession(id)
	if cur.Status == StatusRunning {
		return 0, false
	}
	cur.Status = StatusRunning
	cur.Results, cur.Delimited, cur.Error = "", "", ""
	cur.UpdatedAt = s.now()
	return cur.gen, true
}

// Finish stores a run's outcome. It reports false when the session was reset or
// evicted after the run started.
func (s *Sessions) Finish(id string, gen uint64, res Result, snapshot *orchard.Context, runErr error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cache.Get(id)
	if !ok || cur.gen != gen {
		return false
	}
	cur.Results = res.Text
	cur.Delimited = res.Delimited
	cur.Orchard = snapshot
	cur.UpdatedAt = s.now()
	if runErr != nil {
		cur.Status = StatusFailed
		cur.Error = runErr.Error()
		return true
	}
	cur.Status = StatusDone
	return true
}

// Reset forgets the session entirely.
func (s *Sessions) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(id)
}

func (s *Sessions) Len() int {
	return s.cache.Len()
}
