package escalation

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// timerFired is posted when an incident's timer expires. Generation lets the
// receiver discard timers that were superseded after they fired.
type timerFired struct {
	incidentID string
	generation uint64
}

// scheduler keeps at most one single-shot timer per key. Expired timers post
// a message on fired instead of running escalation logic themselves.
type scheduler struct {
	clock clock.WithDelayedExecution
	fired chan timerFired
	done  chan struct{}

	mu     sync.Mutex
	timers map[string]pendingTimer
	closed bool
}

type pendingTimer struct {
	timer      clock.Timer
	generation uint64
}

func newScheduler(c clock.WithDelayedExecution) *scheduler {
	return &scheduler{
		clock:  c,
		fired:  make(chan timerFired),
		done:   make(chan struct{}),
		timers: make(map[string]pendingTimer),
	}
}

// schedule replaces any timer registered under key.
func (s *scheduler) schedule(key string, generation uint64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if p, ok := s.timers[key]; ok {
		p.timer.Stop()
	}
	msg := timerFired{incidentID: key, generation: generation}
	t := s.clock.AfterFunc(d, func() {
		// The clock may run this while holding its own lock.
		go s.post(msg)
	})
	s.timers[key] = pendingTimer{timer: t, generation: generation}
}

func (s *scheduler) post(msg timerFired) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if p, ok := s.timers[msg.incidentID]; ok && p.generation == msg.generation {
		delete(s.timers, msg.incidentID)
	}
	s.mu.Unlock()
	select {
	case s.fired <- msg:
	case <-s.done:
	}
}

// cancel stops the timer under key. It reports whether one was pending.
func (s *scheduler) cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.timers[key]
	if !ok {
		return false
	}
	delete(s.timers, key)
	return p.timer.Stop()
}

func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for key, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, key)
	}
	close(s.done)
}
