package ratecontrol

import (
	"sync"
	"time"
)

// Scheduler owns delayed one-shot tasks so they can all be cancelled on
// shutdown. Lifecycle mutations use it to trigger a mode check shortly after
// completing instead of waiting out a full check interval.
type Scheduler struct {
	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[*time.Timer]struct{})}
}

// ScheduleAfter runs task once after d. Tasks scheduled after Close are
// dropped.
func (s *Scheduler) ScheduleAfter(d time.Duration, task func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, timer)
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			task()
		}
	})
	s.timers[timer] = struct{}{}
	s.mu.Unlock()
}

// Close stops every pending timer. Safe to call multiple times.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for timer := range s.timers {
		timer.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
}
