// Package timer provides the whole-second countdown used for the battle lead-in and for rounds.
package timer

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	stateRunning int32 = iota
	stateCancelled
	stateExpired
)

type Config struct {
	Clock   clockwork.Clock
	Seconds int

	// OnTick is called with the seconds left after each elapsed second, down to 0.
	OnTick func(remaining int)
	// OnExpired is called once when the count reaches 0, unless the timer was cancelled first.
	OnExpired func()
}

// Timer counts down whole seconds. Callbacks run on the timer's own goroutine.
type Timer struct {
	state     atomic.Int32
	remaining atomic.Int32
	stop      chan struct{}
	done      chan struct{}
}

// Start starts a countdown. The underlying ticker is registered on the clock before Start returns.
func Start(c Config) *Timer {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	t := &Timer{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	t.remaining.Store(int32(max(c.Seconds, 0)))

	ticker := c.Clock.NewTicker(time.Second)
	go t.run(ticker, c)

	return t
}

func (t *Timer) run(ticker clockwork.Ticker, c Config) {
	defer close(t.done)
	defer ticker.Stop()

	if t.remaining.Load() == 0 {
		t.expire(c)
		return
	}

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.Chan():
			left := t.remaining.Add(-1)
			if t.state.Load() != stateRunning {
				return
			}

			if c.OnTick != nil {
				c.OnTick(int(left))
			}

			if left <= 0 {
				t.expire(c)
				return
			}
		}
	}
}

func (t *Timer) expire(c Config) {
	if !t.state.CompareAndSwap(stateRunning, stateExpired) {
		return
	}

	if c.OnExpired != nil {
		c.OnExpired()
	}
}

// Cancel stops the countdown. It returns true only for the call that stopped a running
// timer; once it returns true OnExpired will not be called.
func (t *Timer) Cancel() bool {
	if !t.state.CompareAndSwap(stateRunning, stateCancelled) {
		return false
	}

	close(t.stop)
	return true
}
