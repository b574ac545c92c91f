package monitor

import (
	"sync"
	"time"
)

// Clock provides time and timed waits for the monitor loop.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// After waits for the duration to elapse.
func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// TestClock provides manually advanced time for testing. After fires
// immediately and advances CurrentTime by the requested duration.
type TestClock struct {
	CurrentTime time.Time
	Waits       int

	mu sync.Mutex
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CurrentTime
}

// After advances the test time and returns a channel that is ready.
func (t *TestClock) After(d time.Duration) <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.CurrentTime = t.CurrentTime.Add(d)
	t.Waits++

	ch := make(chan time.Time, 1)
	ch <- t.CurrentTime
	return ch
}
