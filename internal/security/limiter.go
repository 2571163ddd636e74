package security

import (
	"sync"
	"time"
)

type window struct {
	mu   sync.Mutex
	hits []time.Time
	dead bool // removed from the map by Sweep
}

// SlidingWindowLimiter counts hits per key over a trailing window.
// Keys are independent: each carries its own lock.
type SlidingWindowLimiter struct {
	windows sync.Map // key -> *window
	now     func() time.Time
}

// NewSlidingWindowLimiter constructs an empty limiter.
func NewSlidingWindowLimiter() *SlidingWindowLimiter {
	return &SlidingWindowLimiter{now: time.Now}
}

func (l *SlidingWindowLimiter) get(key string) *window {
	if w, ok := l.windows.Load(key); ok {
		return w.(*window)
	}
	w, _ := l.windows.LoadOrStore(key, &window{})
	return w.(*window)
}

// Allow records a hit for key unless max hits already fall inside span.
// Rejected attempts are not recorded.
func (l *SlidingWindowLimiter) Allow(key string, max int, span time.Duration) bool {
	if max <= 0 {
		return true
	}
	now := l.now()
	w := l.lock(key)
	defer w.mu.Unlock()
	w.prune(now.Add(-span))
	if len(w.hits) >= max {
		return false
	}
	w.hits = append(w.hits, now)
	return true
}

// lock returns the live window for key with its mutex held. A window that
// Sweep removed after get loaded it is skipped so no hit lands in it.
func (l *SlidingWindowLimiter) lock(key string) *window {
	for {
		w := l.get(key)
		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// Sweep drops every key without a hit inside idle and returns how many were removed.
func (l *SlidingWindowLimiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	removed := 0
	l.windows.Range(func(key, value any) bool {
		w := value.(*window)
		w.mu.Lock()
		defer w.mu.Unlock()
		w.prune(cutoff)
		if len(w.hits) == 0 && l.windows.CompareAndDelete(key, w) {
			w.dead = true
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of tracked keys.
func (l *SlidingWindowLimiter) Len() int {
	n := 0
	l.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
