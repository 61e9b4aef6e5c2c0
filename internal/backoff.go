package internal

import "time"

// Backoff implements exponential backoff for goroutines polling a resource
// that fails, such as a serial port reader. The zero value is not usable.
type Backoff struct {
	wait      time.Duration
	startWait time.Duration
	maxWait   time.Duration
}

// NewBackoff returns a Backoff that first waits start and doubles on every miss up to limit.
func NewBackoff(start, limit time.Duration) Backoff {
	if start <= 0 || limit < start {
		panic("internal: invalid backoff bounds")
	}
	return Backoff{wait: start, startWait: start, maxWait: limit}
}

// Hit resets the wait to its starting value.
func (eb *Backoff) Hit() {
	eb.wait = eb.startWait
}

// Miss sleeps for the current wait and increases it exponentially.
func (eb *Backoff) Miss() {
	time.Sleep(eb.wait)
	eb.wait = min(eb.wait*2, eb.maxWait)
}

// Wait returns the duration the next call to Miss will sleep.
func (eb *Backoff) Wait() time.Duration { return eb.wait }
