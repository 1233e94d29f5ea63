package session

import (
	"sync"
	"time"
)

// DefaultGracePeriod is how long an empty room survives before deletion.
const DefaultGracePeriod = 5 * time.Minute

// Timer is the handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// Clock schedules deferred work. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type pendingCleanup struct {
	timer Timer
}

// Scheduler owns one cancellable deferred deletion per room.
type Scheduler struct {
	mu       sync.Mutex
	clock    Clock
	grace    time.Duration
	pending  map[string]*pendingCleanup
	onExpire func(roomID string)
}

func NewScheduler(clock Clock, grace time.Duration, onExpire func(roomID string)) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Scheduler{
		clock:    clock,
		grace:    grace,
		pending:  make(map[string]*pendingCleanup),
		onExpire: onExpire,
	}
}

// Schedule starts the grace timer for roomID. It reports false when a timer
// was already pending.
func (s *Scheduler) Schedule(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[roomID]; ok {
		return false
	}
	p := &pendingCleanup{}
	p.timer = s.clock.AfterFunc(s.grace, func() { s.fire(roomID, p) })
	s.pending[roomID] = p
	return true
}

// Cancel stops and forgets the pending timer for roomID, if any.
func (s *Scheduler) Cancel(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[roomID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.pending, roomID)
	return true
}

func (s *Scheduler) Pending(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[roomID]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
}

func (s *Scheduler) fire(roomID string, p *pendingCleanup) {
	s.mu.Lock()
	// a cancelled or replaced timer may still fire
	if s.pending[roomID] != p {
		s.mu.Unlock()
		return
	}
	delete(s.pending, roomID)
	s.mu.Unlock()

	if s.onExpire != nil {
		s.onExpire(roomID)
	}
}
