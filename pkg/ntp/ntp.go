// Package ntp contains functions to encode and decode timestamps to/from NTP format.
package ntp

import (
	"math/bits"
	"time"
)

// seconds between 1st January 1900 and 1st January 1970
const unixOffset = 2208988800

// Encode encodes a timestamp in NTP format.
// Higher 32 bits are seconds since 1st January 1900, lower 32 bits are the fractional part.
// Specification: RFC3550, section 4
func Encode(t time.Time) uint64 {
	nanos := t.UnixNano()
	secs := uint64(nanos/1e9) + unixOffset
	rem := uint64(nanos % 1e9)

	// round to the nearest fraction
	hi, lo := bits.Mul64(rem, 1<<32)
	frac, r := bits.Div64(hi, lo, 1e9)
	if r >= 1e9/2 {
		frac++
	}

	return secs<<32 + frac
}

// Decode decodes a timestamp from NTP format.
// Specification: RFC3550, section 4
func Decode(v uint64) time.Time {
	secs := int64(v>>32) - unixOffset

	hi, lo := bits.Mul64(v&0xFFFFFFFF, 1e9)
	nanos, r := bits.Div64(hi, lo, 1<<32)
	if r >= 1<<31 {
		nanos++
	}

	return time.Unix(secs, int64(nanos))
}

// Middle32 returns the middle 32 bits of a NTP timestamp,
// the form used in the LSR field of reception reports.
func Middle32(v uint64) uint32 {
	return uint32(v >> 16)
}

// Delay encodes a duration in units of 1/65536 seconds,
// the form used in the DLSR field of reception reports.
func Delay(d time.Duration) uint32 {
	if d < 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(d), 65536)
	q, _ := bits.Div64(hi, lo, uint64(time.Second))
	if q > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(q)
}
