package main

import (
	"fmt"
	"sync"
	"time"

	"exam-integrity-monitor/monitor"
	"exam-integrity-monitor/session"
)

type sessionEntry struct {
	session session.Context
	monitor *monitor.Monitor
}

// FinishedRetention is how long an ended session stays readable through the
// status endpoint.
const FinishedRetention = time.Minute

// SessionRegistry tracks the sessions this process is monitoring.
// Sessions nobody connects to expire with their nonce; ended sessions are
// dropped after the retention period.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	unattachedTTL time.Duration
	retention     time.Duration
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions:      make(map[string]*sessionEntry),
		unattachedTTL: NonceTimeout,
		retention:     FinishedRetention,
	}
}

func (r *SessionRegistry) Create(sessionId string, sess session.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &sessionEntry{session: sess}
	r.sessions[sessionId] = e
	time.AfterFunc(r.unattachedTTL, func() {
		r.removeIf(sessionId, func(cur *sessionEntry) bool { return cur == e && cur.monitor == nil })
	})
}

// Finish schedules removal of a session whose monitor has ended.
func (r *SessionRegistry) Finish(sessionId string, m *monitor.Monitor) {
	time.AfterFunc(r.retention, func() {
		r.removeIf(sessionId, func(cur *sessionEntry) bool { return cur.monitor == m })
	})
}

func (r *SessionRegistry) removeIf(sessionId string, match func(*sessionEntry) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sessionId]; ok && match(e) {
		delete(r.sessions, sessionId)
	}
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *SessionRegistry) Get(sessionId string) (session.Context, *monitor.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionId]
	if !ok {
		return session.Context{}, nil, false
	}
	return e.session, e.monitor, true
}

// Attach binds a monitor to a session. A session is monitored at most once.
func (r *SessionRegistry) Attach(sessionId string, m *monitor.Monitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionId]
	if !ok {
		return fmt.Errorf("unknown session %s", sessionId)
	}
	if e.monitor != nil {
		return fmt.Errorf("session %s is already monitored", sessionId)
	}
	e.monitor = m
	return nil
}

func (r *SessionRegistry) Remove(sessionId string) (*monitor.Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionId]
	if !ok {
		return nil, false
	}
	delete(r.sessions, sessionId)
	return e.monitor, true
}

// CloseAll tears down every running monitor.
func (r *SessionRegistry) CloseAll() {
	r.mu.RLock()
	monitors := make([]*monitor.Monitor, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.monitor != nil {
			monitors = append(monitors, e.monitor)
		}
	}
	r.mu.RUnlock()

	for _, m := range monitors {
		m.Close()
	}
}
