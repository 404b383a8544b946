// Package clock abstracts wall-clock reads and timed waits so the queue's
// backoff, metadata timestamps, and connectivity probing are testable.
//
// Production code uses Real(). Tests use Fake(), which only moves when
// Advance is called, or AutoFake(), which jumps forward by the requested
// duration whenever something waits on it.
package clock

import "time"

// Clock is the time source injected into scanvault components.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
