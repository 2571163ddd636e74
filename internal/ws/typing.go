package ws

import (
	"sync"
	"time"
)

// typingTimers holds one expiry timer per recipient a connection is typing to.
type typingTimers struct {
	mu     sync.Mutex
	timers map[int]*time.Timer
}

func newTypingTimers() *typingTimers {
	return &typingTimers{timers: make(map[int]*time.Timer)}
}

// arm (re)starts the timer for recipientID. onExpire runs once unless the
// timer is re-armed or disarmed first.
func (t *typingTimers) arm(recipientID int, d time.Duration, onExpire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[recipientID]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.timers[recipientID] != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, recipientID)
		t.mu.Unlock()
		onExpire()
	})
	t.timers[recipientID] = timer
}

func (t *typingTimers) disarm(recipientID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[recipientID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, recipientID)
	return true
}

// stopAll cancels every timer and returns the recipients that were still armed.
func (t *typingTimers) stopAll() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, len(t.timers))
	for id, timer := range t.timers {
		timer.Stop()
		ids = append(ids, id)
	}
	t.timers = make(map[int]*time.Timer)
	return ids
}

func (t *typingTimers) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
