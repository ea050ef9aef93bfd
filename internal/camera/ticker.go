package camera

import (
	"time"

	"github.com/benbjohnson/clock"
)

// frameTicker paces a capture loop to a fixed frame rate. When the loop
// falls behind by more than one interval it resets instead of bursting to
// catch up.
type frameTicker struct {
	clock clock.Clock
	dur   time.Duration
	next  time.Time
}

// newTicker returns a ticker for fps frames per second. fps <= 0 never waits.
func newTicker(clk clock.Clock, fps int) *frameTicker {
	t := &frameTicker{clock: clk}
	if fps > 0 {
		t.dur = time.Second / time.Duration(fps)
	}
	return t
}

// Wait blocks until the next frame is due.
func (t *frameTicker) Wait() {
	if t.dur <= 0 {
		return
	}
	now := t.clock.Now()
	if t.next.IsZero() {
		t.next = now.Add(t.dur)
		return
	}
	if sleep := t.next.Sub(now); sleep > 0 {
		t.clock.Sleep(sleep)
	}
	t.next = t.next.Add(t.dur)
	if lag := t.clock.Since(t.next); lag > t.dur {
		t.next = t.clock.Now().Add(t.dur)
	}
}
