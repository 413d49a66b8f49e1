// Package iodispatch runs the single goroutine event loop that serves the
// refclock sockets.
//
// The loop waits for readable descriptors, reads whatever arrived, stamps
// it with the local receive time and hands it to the registered receiver.
// Once per tick interval it runs the registered tick handlers. Receivers and
// tick handlers always run on the loop goroutine; other goroutines reach
// loop state through Do.
package iodispatch

import (
	"errors"
	"time"

	"github.com/maximewewer/gpsd-refclock/internal/lfp"
)

// Receiver gets raw socket data together with the local receive time
type Receiver interface {
	Receive(data []byte, rtime lfp.Timestamp)
}

// ReceiverFunc adapts a function to Receiver
type ReceiverFunc func(data []byte, rtime lfp.Timestamp)

// Receive calls f(data, rtime)
func (f ReceiverFunc) Receive(data []byte, rtime lfp.Timestamp) {
	f(data, rtime)
}

const (
	// DefaultTickInterval is the cadence of tick handlers
	DefaultTickInterval = time.Second

	// ReadBufferSize bounds a single read
	ReadBufferSize = 4096
)

// Loop errors
var (
	// ErrClosed indicates use of a closed loop
	ErrClosed = errors.New("dispatch loop closed")

	// ErrAlreadyRegistered indicates a descriptor registered twice
	ErrAlreadyRegistered = errors.New("descriptor already registered")

	// ErrInvalidDescriptor indicates a negative descriptor
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

// Option configures a Loop
type Option func(*options)

type options struct {
	interval time.Duration
	now      func() time.Time
}

// WithTickInterval sets the tick cadence
func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithClock replaces the receive time source
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func defaultOptions() options {
	return options{
		interval: DefaultTickInterval,
		now:      time.Now,
	}
}
