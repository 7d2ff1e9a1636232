// Package timeunit contains a fixed-point rational time unit, used to convert
// RTP timestamps from and to wall-clock durations.
package timeunit

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// predefined time units.
var (
	Millisecond = TimeUnit{Num: 1, Den: 1000}
	Audio8k     = TimeUnit{Num: 1, Den: 8000}
	Video90k    = TimeUnit{Num: 1, Den: 90000}
)

// TimeUnit is a rational time unit.
// A tick lasts Num/Den seconds.
type TimeUnit struct {
	Num uint32
	Den uint32
}

// FromClockRate returns the time unit of a clock rate expressed in Hz.
func FromClockRate(rate int) TimeUnit {
	return TimeUnit{Num: 1, Den: uint32(rate)}
}

// Parse decodes a time unit in the "num/den" form.
func Parse(s string) (TimeUnit, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return TimeUnit{}, fmt.Errorf("invalid time unit (%v)", s)
	}

	num, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return TimeUnit{}, fmt.Errorf("invalid time unit (%v)", s)
	}

	den, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return TimeUnit{}, fmt.Errorf("invalid time unit (%v)", s)
	}

	u := TimeUnit{Num: uint32(num), Den: uint32(den)}
	if !u.Valid() {
		return TimeUnit{}, fmt.Errorf("invalid time unit (%v)", s)
	}

	return u, nil
}

// Valid checks whether the time unit can be used in conversions.
func (u TimeUnit) Valid() bool {
	return u.Num != 0 && u.Den != 0
}

// String implements fmt.Stringer.
func (u TimeUnit) String() string {
	return strconv.FormatUint(uint64(u.Num), 10) + "/" + strconv.FormatUint(uint64(u.Den), 10)
}

// ClockRate returns the number of ticks per second, truncated.
func (u TimeUnit) ClockRate() int {
	if u.Num == 0 {
		return 0
	}
	return int(u.Den / u.Num)
}

// mulDiv computes v*mul/div with a 128-bit intermediate, truncating toward zero.
func mulDiv(v int64, mul uint64, div uint64) int64 {
	neg := v < 0
	uv := uint64(v)
	if neg {
		uv = uint64(-v)
	}

	hi, lo := bits.Mul64(uv, mul)

	// saturate instead of panicking when the quotient does not fit
	if hi >= div {
		if neg {
			return -1 << 63
		}
		return 1<<63 - 1
	}

	q, _ := bits.Div64(hi, lo, div)
	if q > 1<<63-1 {
		q = 1<<63 - 1
	}

	if neg {
		return -int64(q)
	}
	return int64(q)
}

// ToDuration converts a tick count into a duration.
func (u TimeUnit) ToDuration(ticks int64) time.Duration {
	return time.Duration(mulDiv(ticks, uint64(u.Num)*uint64(time.Second), uint64(u.Den)))
}

// FromDuration converts a duration into a tick count.
func (u TimeUnit) FromDuration(d time.Duration) int64 {
	return mulDiv(int64(d), uint64(u.Den), uint64(u.Num)*uint64(time.Second))
}

// ToMillis converts a tick count into milliseconds.
func (u TimeUnit) ToMillis(ticks int64) int64 {
	return mulDiv(ticks, uint64(u.Num)*1000, uint64(u.Den))
}

// FromMillis converts milliseconds into a tick count.
func (u TimeUnit) FromMillis(ms int64) int64 {
	return mulDiv(ms, uint64(u.Den), uint64(u.Num)*1000)
}

// Convert converts a tick count expressed in u into a tick count expressed in to.
func (u TimeUnit) Convert(ticks int64, to TimeUnit) int64 {
	return mulDiv(ticks, uint64(u.Num)*uint64(to.Den), uint64(u.Den)*uint64(to.Num))
}
