package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"detect-web/common/log"
)

// Registry holds every live session in memory. Nothing is persisted.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl   time.Duration
	clock clock.Clock
}

// NewRegistry creates a registry whose sessions expire after ttl of
// inactivity. A zero ttl disables expiry.
func NewRegistry(ttl time.Duration, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		clock:    clk,
	}
}

func generateSessionID() string {
	return uuid.New().String()
}

// SafeReadSessions calls fn with the session map under the read lock.
func (r *Registry) SafeReadSessions(fn func(map[string]*Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.sessions)
}

// SafeUpdateSessions calls fn with the session map under the write lock.
func (r *Registry) SafeUpdateSessions(fn func(map[string]*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.sessions)
}

// Get returns the session for id and refreshes its idle timer.
func (r *Registry) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	var s *Session
	r.SafeReadSessions(func(m map[string]*Session) { s = m[id] })
	if s == nil {
		return nil, false
	}
	s.touch(r.clock.Now())
	return s, true
}

// Create registers a new session with a fresh id.
func (r *Registry) Create() *Session {
	s := newSession(generateSessionID(), r.clock.Now())
	r.SafeUpdateSessions(func(m map[string]*Session) { m[s.ID] = s })
	log.Debug(fmt.Sprintf("created session %s", s.ID))
	return s
}

// GetOrCreate returns the session for id, creating a new one (with a new id)
// when id is unknown. created reports whether a new session was made.
func (r *Registry) GetOrCreate(id string) (s *Session, created bool) {
	if s, ok := r.Get(id); ok {
		return s, false
	}
	return r.Create(), true
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	var n int
	r.SafeReadSessions(func(m map[string]*Session) { n = len(m) })
	return n
}

// Remove drops a session and its results.
func (r *Registry) Remove(id string) error {
	var s *Session
	r.SafeUpdateSessions(func(m map[string]*Session) {
		s = m[id]
		delete(m, id)
	})
	if s == nil {
		return nil
	}
	return s.Clear()
}

// Sweep removes sessions idle for longer than the ttl and returns how many
// were removed.
func (r *Registry) Sweep() (int, error) {
	if r.ttl <= 0 {
		return 0, nil
	}
	cutoff := r.clock.Now().Add(-r.ttl)

	var expired []*Session
	r.SafeUpdateSessions(func(m map[string]*Session) {
		for id, s := range m {
			if s.LastSeen().Before(cutoff) {
				expired = append(expired, s)
				delete(m, id)
			}
		}
	})

	var err error
	for _, s := range expired {
		err = multierr.Append(err, s.Clear())
	}
	return len(expired), err
}

// RunJanitor sweeps every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) error {
	if r.ttl <= 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := r.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Sweep()
			if err != nil {
				log.Warn(fmt.Sprintf("session sweep: %v", err))
			}
			if n > 0 {
				log.Info(fmt.Sprintf("expired %d idle sessions", n))
			}
		}
	}
}

// Close drops every session.
func (r *Registry) Close() error {
	var all []*Session
	r.SafeUpdateSessions(func(m map[string]*Session) {
		for id, s := range m {
			all = append(all, s)
			delete(m, id)
		}
	})
	var err error
	for _, s := range all {
		err = multierr.Append(err, s.Clear())
	}
	return err
}
