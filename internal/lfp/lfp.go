// Package lfp implements the 64-bit NTP fixed-point timestamp used by the
// refclock driver.
//
// A Timestamp holds 32 bits of seconds since 1900-01-01T00:00:00Z (modulo
// 2^32) in its upper half and a 32-bit binary fraction of a second in its
// lower half. All arithmetic wraps modulo 2^64, so the difference of two
// timestamps from adjacent eras is still the correct signed interval.
//
// Usage:
//
//	ts := lfp.FromUnix(1622548800, 500000000)
//	d := ts.Sub(other)            // signed 32.32 interval
//	sec, nsec := ts.Unix(pivot)   // back to calendar time
package lfp

import (
	"math"
	"time"
)

// Fixed-point layout constants
const (
	// FracBits is the number of fraction bits in a timestamp
	FracBits = 32

	// FracPerSecond is the number of fraction units in one second
	FracPerSecond = 1 << FracBits

	// UnixEpoch is the number of seconds between the NTP epoch (1900) and the Unix epoch (1970)
	UnixEpoch = 2208988800

	nanosPerSecond = 1000000000
	halfFrac       = 1 << (FracBits - 1)
	fracMask       = FracPerSecond - 1
)

// Timestamp is an NTP fixed-point timestamp (32-bit seconds, 32-bit fraction)
type Timestamp uint64

// Duration is a signed 32.32 fixed-point interval
type Duration int64

// New builds a timestamp from its raw seconds and fraction halves
func New(seconds, fraction uint32) Timestamp {
	return Timestamp(uint64(seconds)<<FracBits | uint64(fraction))
}

// Seconds returns the raw (unsigned) seconds half
func (t Timestamp) Seconds() uint32 {
	return uint32(t >> FracBits)
}

// SignedSeconds returns the seconds half interpreted as a signed value
func (t Timestamp) SignedSeconds() int32 {
	return int32(t >> FracBits)
}

// Fraction returns the binary fraction half
func (t Timestamp) Fraction() uint32 {
	return uint32(t & fracMask)
}

// FromUnix converts Unix seconds and nanoseconds to a timestamp.
// Nanoseconds outside [0, 1e9) are normalised into the seconds part and the
// fraction is rounded to the nearest fraction unit.
func FromUnix(sec, nsec int64) Timestamp {
	sec += floorDiv(nsec, nanosPerSecond)
	nsec = floorMod(nsec, nanosPerSecond)

	frac := (uint64(nsec)<<FracBits + nanosPerSecond/2) / nanosPerSecond
	if frac >= FracPerSecond {
		frac -= FracPerSecond
		sec++
	}
	return Timestamp(uint64(sec+UnixEpoch)<<FracBits | frac)
}

// FromTime converts a time.Time to a timestamp
func FromTime(tm time.Time) Timestamp {
	return FromUnix(tm.Unix(), int64(tm.Nanosecond()))
}

// Unix converts the timestamp back to Unix seconds and nanoseconds.
// The 32-bit seconds are ambiguous across NTP eras; the result is the
// candidate closest to pivot (Unix seconds), within [pivot-2^31, pivot+2^31).
func (t Timestamp) Unix(pivot int64) (sec, nsec int64) {
	base := int64(t.Seconds()) - UnixEpoch
	diff := floorMod(base-pivot+(1<<31), 1<<32) - (1 << 31)
	sec = pivot + diff

	nsec = int64((uint64(t.Fraction())*nanosPerSecond + halfFrac) >> FracBits)
	if nsec >= nanosPerSecond {
		nsec -= nanosPerSecond
		sec++
	}
	return sec, nsec
}

// Time converts the timestamp to a time.Time, resolving the era around now
func (t Timestamp) Time() time.Time {
	sec, nsec := t.Unix(time.Now().Unix())
	return time.Unix(sec, nsec).UTC()
}

// Add returns t shifted by d
func (t Timestamp) Add(d Duration) Timestamp {
	return t + Timestamp(d)
}

// Sub returns the signed interval t-u
func (t Timestamp) Sub(u Timestamp) Duration {
	return Duration(t - u)
}

// Compare returns -1, 0 or +1 depending on whether t is less than, equal
// to or greater than u in raw 64-bit order
func (t Timestamp) Compare(u Timestamp) int {
	switch {
	case t < u:
		return -1
	case t > u:
		return 1
	default:
		return 0
	}
}

// RoundToSecond returns t rounded to the nearest whole second
func (t Timestamp) RoundToSecond() Timestamp {
	return (t + halfFrac) &^ fracMask
}

// String renders the timestamp as an ISO-8601 UTC string
func (t Timestamp) String() string {
	sec, nsec := t.Unix(time.Now().Unix())
	return FormatUnix(sec, nsec)
}

// DurationFromSeconds converts floating point seconds to a fixed-point interval
func DurationFromSeconds(s float64) Duration {
	return Duration(math.Round(s * FracPerSecond))
}

// DurationFromStd converts a time.Duration to a fixed-point interval
func DurationFromStd(d time.Duration) Duration {
	sec := floorDiv(int64(d), nanosPerSecond)
	nsec := floorMod(int64(d), nanosPerSecond)
	frac := (uint64(nsec)<<FracBits + nanosPerSecond/2) / nanosPerSecond
	return Duration(sec<<FracBits + int64(frac))
}

// WholeSeconds returns the interval truncated towards negative infinity
func (d Duration) WholeSeconds() int64 {
	return int64(d) >> FracBits
}

// Std converts the interval to a time.Duration (nanosecond resolution)
func (d Duration) Std() time.Duration {
	sec := d.WholeSeconds()
	frac := uint64(d) & fracMask
	nsec := int64((frac*nanosPerSecond + halfFrac) >> FracBits)
	return time.Duration(sec*nanosPerSecond + nsec)
}

// Float returns the interval in seconds as a float64
func (d Duration) Float() float64 {
	return float64(d) / FracPerSecond
}

// floorDiv is integer division rounding towards negative infinity
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// floorMod is the modulus matching floorDiv
func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
