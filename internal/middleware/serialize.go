package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/adrienverge/localstripe/internal/event"
)

// Serialize runs every request under one shared lock. All state lives
// behind a single logical store and handlers read-modify-write it in
// several steps; the lock makes each request atomic against the others
// and against scheduled settlement callbacks, which take the same lock.
func Serialize(mu *sync.Mutex) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

// LockingScheduler wraps a scheduler so every scheduled callback takes
// the shared lock before touching state.
type LockingScheduler struct {
	Mu   *sync.Mutex
	Next event.Scheduler
}

func (s LockingScheduler) After(d time.Duration, fn func()) {
	s.Next.After(d, func() {
		s.Mu.Lock()
		defer s.Mu.Unlock()
		fn()
	})
}
