package clock

import (
	"sync/atomic"
	"testing"
)

// mockClock creates a Clock with a controllable time source.
func mockClock(initial int64) (*Clock, *atomic.Int64) {
	var t atomic.Int64
	t.Store(initial)
	c := &Clock{
		nowFn: func() int64 { return t.Load() },
	}
	return c, &t
}

func TestNowMillisAdvancing(t *testing.T) {
	c, now := mockClock(100)

	if got := c.NowMillis(); got != 100 {
		t.Errorf("got %d, want 100", got)
	}
	now.Store(101)
	if got := c.NowMillis(); got != 101 {
		t.Errorf("got %d, want 101", got)
	}
	now.Store(250)
	if got := c.NowMillis(); got != 250 {
		t.Errorf("got %d, want 250", got)
	}
}

func TestNowMillisSameTickBumps(t *testing.T) {
	c, _ := mockClock(100)

	v1 := c.NowMillis()
	v2 := c.NowMillis()
	v3 := c.NowMillis()

	if v2 <= v1 {
		t.Errorf("v2 (%d) should be > v1 (%d)", v2, v1)
	}
	if v3 <= v2 {
		t.Errorf("v3 (%d) should be > v2 (%d)", v3, v2)
	}
}

func TestNowMillisStrictlyIncreasing(t *testing.T) {
	c, now := mockClock(100)

	v1 := c.NowMillis() // 100
	v2 := c.NowMillis() // 101 (bumped)
	v3 := c.NowMillis() // 102 (bumped)

	now.Store(200)
	v4 := c.NowMillis() // 200 (clock jumped ahead)

	vals := []int64{v1, v2, v3, v4}
	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			t.Errorf("not strictly increasing at index %d: %d <= %d", i, vals[i], vals[i-1])
		}
	}
}

func TestNowMillisClockGoesBackward(t *testing.T) {
	c, now := mockClock(200)

	v1 := c.NowMillis() // 200

	now.Store(150) // e.g. NTP step backward
	v2 := c.NowMillis()

	if v2 <= v1 {
		t.Errorf("v2 (%d) should be > v1 (%d) even when the clock goes backward", v2, v1)
	}
}

func TestNowMillisZeroStart(t *testing.T) {
	c, _ := mockClock(0)

	v1 := c.NowMillis()
	if v1 != 1 {
		t.Errorf("first call with clock=0: got %d, want 1", v1)
	}

	v2 := c.NowMillis()
	if v2 <= v1 {
		t.Errorf("v2 (%d) should be > v1 (%d)", v2, v1)
	}
}

func TestNewReturnsReasonableTime(t *testing.T) {
	c := New()
	got := c.NowMillis()
	// Should be a reasonable unix-millis timestamp (after 2020-01-01).
	if got < 1577836800000 {
		t.Errorf("NowMillis() = %d, expected > 1577836800000 (2020-01-01)", got)
	}
}
