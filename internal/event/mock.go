package event

import (
	"sync"
	"time"
)

// ManualScheduler queues callbacks instead of running them, so tests can
// drain pending asynchronous work (settlement callbacks, webhook
// deliveries) at a chosen point. Not for production use.
type ManualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

// NewManualScheduler creates an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) After(_ time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, fn)
}

// Pending reports how many callbacks are queued.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Drain runs every queued callback, including ones queued by the
// callbacks themselves, and returns how many ran.
func (s *ManualScheduler) Drain() int {
	ran := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return ran
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
		ran++
	}
}
