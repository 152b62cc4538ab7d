package frame

import "time"

// Clock computes fixed-interval frame boundaries from a target rate. It is
// not safe for concurrent use; the frame loop owns it.
type Clock struct {
	interval time.Duration
	next     time.Time
	running  bool
	frame    ID
}

// NewClock returns a running clock targeting the given frames per second.
func NewClock(fps uint) *Clock {
	c := &Clock{running: true, frame: NewID()}
	c.SetFPS(fps)
	return c
}

// SetFPS retargets the clock. The next boundary is rescheduled one full
// interval from now.
func (c *Clock) SetFPS(fps uint) {
	if fps == 0 {
		fps = 1
	}
	c.interval = time.Duration(float64(time.Second) / float64(fps))
	c.next = time.Now().Add(c.interval)
}

// Reset reschedules the next boundary one interval from now without
// touching the frame counter.
func (c *Clock) Reset() {
	c.next = time.Now().Add(c.interval)
}

// Pause stops the clock from firing until Resume is called.
func (c *Clock) Pause() { c.running = false }

// Resume restarts a paused clock. The cadence restarts from now rather than
// replaying boundaries missed while paused.
func (c *Clock) Resume() {
	if !c.running {
		c.running = true
		c.Reset()
	}
}

// Running reports whether the clock is firing.
func (c *Clock) Running() bool { return c.running }

// Interval returns the configured frame interval.
func (c *Clock) Interval() time.Duration { return c.interval }

// Frame returns the current frame.
func (c *Clock) Frame() ID { return c.frame }

// Tick consumes every boundary that has passed as of now, advancing the
// frame counter once per elapsed interval, and reports whether at least one
// boundary fired plus how long the caller should wait before ticking again.
// Consuming all elapsed intervals in one call is the catch-up behavior: a
// stall longer than one interval skips frames instead of queueing them.
func (c *Clock) Tick(now time.Time) (fired bool, wait time.Duration) {
	if !c.running {
		return false, c.interval
	}
	for !c.next.After(now) {
		c.next = c.next.Add(c.interval)
		c.frame = c.frame.Next()
		fired = true
	}
	wait = c.next.Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return fired, wait
}
