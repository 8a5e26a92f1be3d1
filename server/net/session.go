package net

import (
	"sync"
	"time"

	getty "github.com/AlexStocks/getty/transport"
)

// ServerSession is the per-connection state the handler keeps next to the
// transport session.
type ServerSession struct {
	mu      sync.Mutex
	session getty.Session
	opened  time.Time
	active  time.Time
}

func NewServerSession(session getty.Session) *ServerSession {
	now := time.Now()
	return &ServerSession{session: session, opened: now, active: now}
}

func (s *ServerSession) Touch() {
	s.mu.Lock()
	s.active = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long the session has gone without a request.
func (s *ServerSession) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.active)
}

func (s *ServerSession) Opened() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}
