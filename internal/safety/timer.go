package safety

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a free-running microsecond counter that wraps at 2^32, read from
// a monotonic clock.
type Timer struct {
	clk   clock.Clock
	epoch time.Time
}

// NewTimer starts a timer at zero. A nil clock uses the wall clock.
func NewTimer(clk clock.Clock) *Timer {
	if clk == nil {
		clk = clock.New()
	}
	return &Timer{clk: clk, epoch: clk.Now()}
}

// Micros returns microseconds since the timer was created, modulo 2^32.
func (t *Timer) Micros() uint32 {
	return uint32(t.clk.Since(t.epoch).Microseconds())
}

// Clock exposes the underlying clock.
func (t *Timer) Clock() clock.Clock { return t.clk }

// Elapsed is ts-last with wraparound.
func Elapsed(ts, last uint32) uint32 { return ts - last }
