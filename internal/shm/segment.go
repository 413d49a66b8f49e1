// Package shm publishes refclock samples through the ntpd shared memory
// driver segment (refclock type 28), which ntpd and chronyd both read.
package shm

import (
	"errors"
	"sync/atomic"
	"time"
)

// BaseKey is the System V IPC key of segment 0. Segment n uses BaseKey+n.
const BaseKey = 0x4e545030

// SegmentSize is the size of struct shmTime on 64-bit hosts
const SegmentSize = 96

// Mode 1 lets the reader detect a torn sample through the count field
const modeCounted = 1

// Leap indicator values
const (
	LeapNone   = 0
	LeapInsert = 1
	LeapDelete = 2
	LeapAlarm  = 3
)

// ErrUnsupported is returned where System V shared memory is not available
var ErrUnsupported = errors.New("shared memory segments not supported on this platform")

// ErrClosed is returned when storing into a detached segment
var ErrClosed = errors.New("shm segment closed")

// Segment mirrors struct shmTime of ntpd/refclock_shm.c
type Segment struct {
	Mode                 int32
	Count                int32
	ClockTimeStampSec    int64
	ClockTimeStampUSec   int32
	ReceiveTimeStampSec  int64
	ReceiveTimeStampUSec int32
	Leap                 int32
	Precision            int32
	Nsamples             int32
	Valid                int32
	ClockTimeStampNSec   uint32
	ReceiveTimeStampNSec uint32
	Dummy                [8]int32
}

// Sample is one reference/receive time pair
type Sample struct {
	Clock     time.Time
	Receive   time.Time
	Precision int
	Leap      int
}

// Key returns the IPC key of segment unit
func Key(unit int) int {
	return BaseKey + unit
}

// Store writes s into the segment. The count is bumped before and after
// the payload so a reader racing with the write sees a changed count.
func (seg *Segment) Store(s Sample) {
	atomic.StoreInt32(&seg.Valid, 0)
	atomic.AddInt32(&seg.Count, 1)

	seg.Mode = modeCounted
	seg.ClockTimeStampSec = s.Clock.Unix()
	seg.ClockTimeStampUSec = int32(s.Clock.Nanosecond() / 1000)
	seg.ClockTimeStampNSec = uint32(s.Clock.Nanosecond())
	seg.ReceiveTimeStampSec = s.Receive.Unix()
	seg.ReceiveTimeStampUSec = int32(s.Receive.Nanosecond() / 1000)
	seg.ReceiveTimeStampNSec = uint32(s.Receive.Nanosecond())
	seg.Leap = int32(s.Leap)
	seg.Precision = int32(s.Precision)
	seg.Nsamples = 3

	atomic.AddInt32(&seg.Count, 1)
	atomic.StoreInt32(&seg.Valid, 1)
}

// ClockTimeStamp returns the reference time held by the segment
func (seg *Segment) ClockTimeStamp() time.Time {
	return time.Unix(seg.ClockTimeStampSec, int64(seg.ClockTimeStampNSec))
}

// ReceiveTimeStamp returns the local receive time held by the segment
func (seg *Segment) ReceiveTimeStamp() time.Time {
	return time.Unix(seg.ReceiveTimeStampSec, int64(seg.ReceiveTimeStampNSec))
}

// Config selects the segment to attach to
type Config struct {
	Unit        int
	Permissions uint32
}

// Writer is an attached segment
type Writer struct {
	unit int
	id   uintptr
	addr uintptr
	seg  *Segment
}

// Unit returns the segment number
func (w *Writer) Unit() int {
	return w.unit
}

// Store publishes one sample
func (w *Writer) Store(s Sample) error {
	if w.seg == nil {
		return ErrClosed
	}
	w.seg.Store(s)
	return nil
}

// Snapshot copies the current segment contents
func (w *Writer) Snapshot() (Segment, error) {
	if w.seg == nil {
		return Segment{}, ErrClosed
	}
	return *w.seg, nil
}
