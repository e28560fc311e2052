package timectrl

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock access so that solve budgets and progress
// reporting can be driven deterministically in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the Clock backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ManualClock only moves when told to. Channels returned by After fire once
// Advance or Set moves the clock past their deadline.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a waiter that fires when the clock reaches now+d.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := c.now.Add(d)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: at, ch: ch})
	return ch
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

// Set moves the clock to t and fires every waiter whose deadline has passed.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	var due []waiter
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(t) {
			due = append(due, w)
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
	c.mu.Unlock()

	for _, w := range due {
		w.ch <- t
	}
}

// Budget is a wall-clock allowance measured against a Clock. A nil Budget
// never expires.
type Budget struct {
	clock    Clock
	start    time.Time
	deadline time.Time
	limited  bool
}

// NewBudget starts a budget of limit on clock. A non-positive limit yields a
// budget that never expires.
func NewBudget(clock Clock, limit time.Duration) *Budget {
	if clock == nil {
		clock = SystemClock{}
	}
	now := clock.Now()
	b := &Budget{clock: clock, start: now}
	if limit > 0 {
		b.deadline = now.Add(limit)
		b.limited = true
	}
	return b
}

// Expired reports whether the deadline has passed.
func (b *Budget) Expired() bool {
	if b == nil || !b.limited {
		return false
	}
	return !b.clock.Now().Before(b.deadline)
}

// Elapsed returns the time spent since the budget started.
func (b *Budget) Elapsed() time.Duration {
	if b == nil {
		return 0
	}
	return b.clock.Now().Sub(b.start)
}

// Remaining returns the time left, or -1 for an unlimited budget.
func (b *Budget) Remaining() time.Duration {
	if b == nil || !b.limited {
		return -1
	}
	if left := b.deadline.Sub(b.clock.Now()); left > 0 {
		return left
	}
	return 0
}

// Ticker invokes listeners every interval of clock time until stopped. It
// drives periodic progress reporting for long solves.
type Ticker struct {
	mu        sync.Mutex
	clock     Clock
	interval  time.Duration
	listeners []func(time.Time)
}

// NewTicker constructs a ticker on clock.
func NewTicker(clock Clock, interval time.Duration) *Ticker {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Ticker{clock: clock, interval: interval}
}

// AddListener registers a callback invoked on every tick.
func (t *Ticker) AddListener(fn func(time.Time)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Start runs the ticker in a separate goroutine until stop is closed. The
// returned channel is closed when the goroutine exits.
func (t *Ticker) Start(stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if t.interval <= 0 {
			<-stop
			return
		}
		for {
			select {
			case <-stop:
				return
			case now := <-t.clock.After(t.interval):
				t.mu.Lock()
				listeners := append([]func(time.Time){}, t.listeners...)
				t.mu.Unlock()
				for _, fn := range listeners {
					fn(now)
				}
			}
		}
	}()
	return done
}
