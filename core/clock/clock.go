// Package clock provides the millisecond time source used throughout the
// core: route aging, queue/engine timestamps, and ack-timeout detection all
// take a caller-supplied `now int64` rather than reading the wall clock
// directly, so Clock is the single place that wraps time.Now for production
// use while tests pass fixed or fake-advancing values.
package clock

import (
	"sync"
	"time"
)

// Clock produces strictly increasing millisecond timestamps, bumping by one
// millisecond on repeated calls within the same wall-clock tick. This
// mirrors the firmware's RTCClock::getCurrentTimeUnique pattern, narrowed
// from unix-seconds granularity to the core's millisecond granularity.
type Clock struct {
	mu         sync.Mutex
	lastUnique int64
	nowFn      func() int64 // overridable for testing
}

// New creates a Clock backed by the system clock.
func New() *Clock {
	return &Clock{
		nowFn: func() int64 {
			return time.Now().UnixMilli()
		},
	}
}

// NowMillis returns a strictly increasing millisecond timestamp. If the
// underlying clock hasn't advanced past the last value returned, the
// internal counter is bumped by one instead of repeating it.
func (c *Clock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.nowFn()
	if t <= c.lastUnique {
		c.lastUnique++
		return c.lastUnique
	}
	c.lastUnique = t
	return t
}
