package nsp

import (
	"sync"
	"time"
)

// DefaultScheduler is a time.AfterFunc-based TimerScheduler, suitable for
// tests and the example command. A production deployment wires a shared
// timer wheel instead (out of scope per spec §5).
type DefaultScheduler struct {
	mu     sync.Mutex
	timers map[*Connection]map[TimerField]*time.Timer
	onFire func(conn *Connection, field TimerField)
}

// NewDefaultScheduler creates a scheduler that calls onFire when a timer
// expires.
func NewDefaultScheduler(onFire func(conn *Connection, field TimerField)) *DefaultScheduler {
	return &DefaultScheduler{
		timers: make(map[*Connection]map[TimerField]*time.Timer),
		onFire: onFire,
	}
}

// Schedule arms (or re-arms) the named timer for conn.
func (s *DefaultScheduler) Schedule(conn *Connection, field TimerField, delta time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byField, ok := s.timers[conn]
	if !ok {
		byField = make(map[TimerField]*time.Timer)
		s.timers[conn] = byField
	}
	if t, exists := byField[field]; exists {
		t.Stop()
	}
	byField[field] = time.AfterFunc(delta, func() {
		if s.onFire != nil {
			s.onFire(conn, field)
		}
	})
}

// Cancel stops the named timer for conn, if armed.
func (s *DefaultScheduler) Cancel(conn *Connection, field TimerField) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byField, ok := s.timers[conn]
	if !ok {
		return
	}
	if t, exists := byField[field]; exists {
		t.Stop()
		delete(byField, field)
	}
}
