package scheduler

import (
	"sync"
	"time"
)

// Session is the in-memory record of one tenant's active automation. Its
// fields are mutated by the scheduler's cycle for that tenant and by external
// control calls; the internal mutex keeps those two writers mutually
// exclusive. Cross-tenant state is never shared.
type Session struct {
	mu sync.Mutex

	tenantID    string
	mode        string
	startedAt   time.Time
	pausedUntil time.Time
	pauseReason string
	stopped     bool
}

func newSession(tenantID, mode string, now time.Time) *Session {
	return &Session{
		tenantID:  tenantID,
		mode:      mode,
		startedAt: now,
	}
}

// TenantID returns the owning tenant.
func (s *Session) TenantID() string {
	return s.tenantID
}

// Mode returns the session's trading mode.
func (s *Session) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode updates the trading mode.
func (s *Session) SetMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Pause excludes the tenant from order placement until now+d. The window
// self-clears: once it elapses the tenant is eligible again with no call.
func (s *Session) Pause(d time.Duration, reason string, now time.Time) {
	s.mu.Lock()
	s.pausedUntil = now.Add(d)
	s.pauseReason = reason
	s.mu.Unlock()
}

// Resume clears any pause window early.
func (s *Session) Resume() {
	s.mu.Lock()
	s.pausedUntil = time.Time{}
	s.pauseReason = ""
	s.mu.Unlock()
}

// IsPaused reports whether a pause window is still in effect at time now.
// An elapsed window is cleared as a side effect.
func (s *Session) IsPaused(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pausedUntil.IsZero() {
		return false
	}
	if !now.Before(s.pausedUntil) {
		s.pausedUntil = time.Time{}
		s.pauseReason = ""
		return false
	}
	return true
}

// PauseInfo returns the current pause window and reason.
func (s *Session) PauseInfo() (until time.Time, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pausedUntil, s.pauseReason
}

// Stop marks the session stopped. The transition is one-way: a stopped
// session never generates or executes another signal.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// IsStopped reports whether emergency stop has been recorded.
func (s *Session) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// sessionRegistry holds the active sessions, keyed by tenant. Reads are
// concurrent; add/remove serialize.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*Session)}
}

// getOrCreate returns the tenant's session, creating one on first use.
func (r *sessionRegistry) getOrCreate(tenantID, mode string, now time.Time) *Session {
	r.mu.RLock()
	s, ok := r.sessions[tenantID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[tenantID]; ok {
		return s
	}
	s = newSession(tenantID, mode, now)
	r.sessions[tenantID] = s
	return s
}

// replace installs a fresh session for the tenant, discarding any previous
// one, including a stopped tombstone left behind by a disable or emergency
// stop.
func (r *sessionRegistry) replace(tenantID, mode string, now time.Time) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := newSession(tenantID, mode, now)
	r.sessions[tenantID] = s
	return s
}

// get returns the tenant's session if one is active.
func (r *sessionRegistry) get(tenantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tenantID]
	return s, ok
}

// clear drops all sessions, including stopped tombstones, used when the
// market closes.
func (r *sessionRegistry) clear() {
	r.mu.Lock()
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
}
