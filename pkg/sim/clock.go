// Package sim drives the flight-control firmware from physics host packets.
// Host deltas are accumulated and released to the firmware scheduler in
// fixed ticks of TickMicros, so the firmware only ever sees uniform time.
package sim

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

const (
	// Frequency is the scheduler tick rate in Hz.
	Frequency = 20000
	// TickMicros is the virtual time advanced per scheduler tick.
	TickMicros = 1_000_000 / Frequency

	// maxDeltaMicros bounds a single host delta, about twelve days.
	maxDeltaMicros = 1 << 40
)

// ErrBadDelta reports a host delta with no usable microsecond value.
var ErrBadDelta = errors.New("delta is not a finite duration")

// TimeSource is the only notion of elapsed time the firmware gets.
type TimeSource interface {
	Micros() uint64
	Millis() uint32
}

// Clock holds virtual firmware time and the host time not yet released to
// the scheduler. Virtual time only moves in TickMicros steps.
type Clock struct {
	virtual atomic.Uint64
	pending int64
}

var _ TimeSource = (*Clock)(nil)

func (c *Clock) Micros() uint64 {
	return c.virtual.Load()
}

func (c *Clock) Millis() uint32 {
	return uint32(c.virtual.Load() / 1000)
}

// Pending is the accumulated host time, in micros, not yet ticked.
func (c *Clock) Pending() int64 {
	return c.pending
}

// Reset zeroes both counters.
func (c *Clock) Reset() {
	c.virtual.Store(0)
	c.pending = 0
}

// Add accumulates host time. Negative values are kept and offset later deltas.
// The sum saturates rather than wrapping.
func (c *Clock) Add(micros int64) {
	switch {
	case micros > 0 && c.pending > math.MaxInt64-micros:
		c.pending = math.MaxInt64
	case micros < 0 && c.pending < math.MinInt64-micros:
		c.pending = math.MinInt64
	default:
		c.pending += micros
	}
}

// Drain releases whole ticks from the pending time, advancing virtual time
// before each call to tick. It returns the number of ticks run.
func (c *Clock) Drain(tick func()) int {
	n := 0
	for c.pending >= TickMicros {
		c.pending -= TickMicros
		c.virtual.Add(TickMicros)
		if tick != nil {
			tick()
		}
		n++
	}
	return n
}

// DeltaMicros converts a host delta in seconds to whole microseconds. NaN,
// infinities and deltas beyond maxDeltaMicros are rejected with ErrBadDelta.
func DeltaMicros(seconds float32) (int64, error) {
	v := math.Round(float64(seconds) * 1e6)
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > maxDeltaMicros {
		return 0, fmt.Errorf("%w: %v s", ErrBadDelta, seconds)
	}
	return int64(v), nil
}
