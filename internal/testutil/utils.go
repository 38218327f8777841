package testutil

import (
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/clock"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// FakeClock records scheduled tasks and runs them only when told to.
type FakeClock struct {
	mu        sync.Mutex
	now       time.Time
	pending   []*fakeTimer
	scheduled int
}

type fakeTimer struct {
	clock   *FakeClock
	delay   time.Duration
	f       func()
	stopped bool
	ran     bool
}

func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, delay: d, f: f}
	c.scheduled++
	c.pending = append(c.pending, t)
	return t
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.ran {
		return false
	}
	t.stopped = true
	t.clock.remove(t)
	return true
}

func (c *FakeClock) remove(t *fakeTimer) {
	for i, p := range c.pending {
		if p == t {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// Pending returns the number of scheduled tasks that have neither run nor
// been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Scheduled returns how many tasks have been scheduled in total.
func (c *FakeClock) Scheduled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduled
}

// LastDelay returns the delay of the most recently scheduled pending task.
func (c *FakeClock) LastDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return 0
	}
	return c.pending[len(c.pending)-1].delay
}

// FireNext runs the oldest pending task on the calling goroutine and
// reports whether there was one.
func (c *FakeClock) FireNext() bool {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return false
	}
	t := c.pending[0]
	c.pending = c.pending[1:]
	t.ran = true
	c.now = c.now.Add(t.delay)
	c.mu.Unlock()

	t.f()
	return true
}
