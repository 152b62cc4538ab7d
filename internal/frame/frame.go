// Package frame provides frame identity and the fixed-cadence clock that
// drives the render/update loop.
package frame

import (
	"fmt"
	"time"
)

// ID identifies a single frame boundary. The counter is what scheduling
// decisions key off; the instant records when the frame was opened so the
// loop can report frame age.
type ID struct {
	n  uint64
	at time.Time
}

// NewID returns the zeroth frame, opened now.
func NewID() ID {
	return ID{at: time.Now()}
}

// IDAt returns a frame with an explicit counter value, opened now. Mostly
// useful for driving the scheduler from tests and headless harnesses.
func IDAt(n uint64) ID {
	return ID{n: n, at: time.Now()}
}

// N returns the frame counter.
func (id ID) N() uint64 { return id.n }

// Elapsed reports how long ago the frame was opened.
func (id ID) Elapsed() time.Duration { return time.Since(id.at) }

// Next returns the following frame, opened now.
func (id ID) Next() ID {
	return ID{n: id.n + 1, at: time.Now()}
}

func (id ID) String() string {
	return fmt.Sprintf("frame(%d)", id.n)
}
