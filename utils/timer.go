package utils

import (
	"sync"
	"time"
)

// Timer is a cancellable one-shot or repeating timer handle.
type Timer struct {
	mu      sync.Mutex
	t       *time.Timer
	ticker  *time.Ticker
	done    chan struct{}
	stopped bool
}

// SetTimeout runs fn once after d on its own goroutine.
func SetTimeout(fn func(), d time.Duration) *Timer {
	timer := &Timer{done: make(chan struct{})}
	timer.t = time.AfterFunc(d, fn)
	return timer
}

// ClearTimeout cancels a timer created by SetTimeout. Safe on nil and safe
// to call more than once.
func ClearTimeout(timer *Timer) {
	if timer == nil {
		return
	}
	timer.mu.Lock()
	defer timer.mu.Unlock()

	if timer.stopped {
		return
	}
	timer.stopped = true
	if timer.t != nil {
		timer.t.Stop()
	}
}

// SetInterval runs fn every d until cleared.
func SetInterval(fn func(), d time.Duration) *Timer {
	timer := &Timer{done: make(chan struct{}), ticker: time.NewTicker(d)}
	go func() {
		for {
			select {
			case <-timer.ticker.C:
				fn()
			case <-timer.done:
				return
			}
		}
	}()
	return timer
}

// ClearInterval stops a timer created by SetInterval. Safe on nil and safe
// to call more than once.
func ClearInterval(timer *Timer) {
	if timer == nil {
		return
	}
	timer.mu.Lock()
	defer timer.mu.Unlock()

	if timer.stopped {
		return
	}
	timer.stopped = true
	if timer.ticker != nil {
		timer.ticker.Stop()
	}
	close(timer.done)
}
