// Package kernelclock reads the kernel clock discipline state, which shows
// whether ntpd is steering the system clock from the refclock samples.
package kernelclock

import (
	"errors"
	"time"

	"github.com/maximewewer/gpsd-refclock/pkg/metrics"
)

// ErrUnsupported is returned on platforms without adjtimex
var ErrUnsupported = errors.New("kernel clock state is only available on Linux")

// Clock states returned by adjtimex
const (
	timeOK = iota
	timeIns
	timeDel
	timeOOP
	timeWait
	timeError
)

// Status bits of struct timex
const (
	staIns       = 0x0010
	staDel       = 0x0020
	staUnsync    = 0x0040
	staPPSSignal = 0x0100
	staPPSJitter = 0x0200
	staPPSWander = 0x0400
	staPPSError  = 0x0800
	staClockErr  = 0x1000
	staNano      = 0x2000
)

// State is a snapshot of the kernel clock discipline
type State struct {
	Offset       time.Duration `json:"offset"`
	FrequencyPPM float64       `json:"frequency_ppm"`
	MaxError     time.Duration `json:"max_error"`
	EstError     time.Duration `json:"est_error"`
	Status       int32         `json:"status"`
	Code         int           `json:"code"`
}

// fromTimex converts raw timex fields. Offsets are in microseconds unless
// the kernel runs in nanosecond mode; frequency is scaled by 2^16.
func fromTimex(code int, status int32, offset, freq, maxErr, estErr int64) State {
	unit := time.Microsecond
	if status&staNano != 0 {
		unit = time.Nanosecond
	}
	return State{
		Offset:       time.Duration(offset) * unit,
		FrequencyPPM: float64(freq) / 65536,
		MaxError:     time.Duration(maxErr) * time.Microsecond,
		EstError:     time.Duration(estErr) * time.Microsecond,
		Status:       status,
		Code:         code,
	}
}

// Synchronized reports whether the kernel considers the clock in sync
func (s State) Synchronized() bool {
	return s.Status&staUnsync == 0 && s.Code != timeError
}

// PPSSignal reports whether a PPS signal disciplines the kernel
func (s State) PPSSignal() bool {
	return s.Status&staPPSSignal != 0 &&
		s.Status&(staPPSJitter|staPPSWander|staPPSError) == 0
}

// LeapPending reports an armed leap second
func (s State) LeapPending() bool {
	return s.Status&(staIns|staDel) != 0
}

// String names the clock state
func (s State) String() string {
	switch {
	case s.Status&staUnsync != 0:
		return "unsynchronized"
	case s.Status&staClockErr != 0:
		return "clock_error"
	}
	switch s.Code {
	case timeOK:
		return "synchronized"
	case timeIns:
		return "leap_insert_pending"
	case timeDel:
		return "leap_delete_pending"
	case timeOOP:
		return "leap_in_progress"
	case timeWait:
		return "leap_occurred"
	case timeError:
		return "error"
	default:
		return "unknown"
	}
}

var states = []string{
	"synchronized",
	"unsynchronized",
	"clock_error",
	"leap_insert_pending",
	"leap_delete_pending",
	"leap_in_progress",
	"leap_occurred",
	"error",
	"unknown",
}

// Export publishes s through m
func Export(m *metrics.DriverMetrics, s State) {
	m.KernelSynchronized.Set(boolValue(s.Synchronized()))
	m.KernelPPSSignal.Set(boolValue(s.PPSSignal()))
	m.KernelOffsetSeconds.Set(s.Offset.Seconds())
	m.KernelFrequencyPPM.Set(s.FrequencyPPM)
	m.KernelMaxErrorSeconds.Set(s.MaxError.Seconds())
	m.KernelEstErrorSeconds.Set(s.EstError.Seconds())

	current := s.String()
	for _, name := range states {
		m.KernelStatus.WithLabelValues(name).Set(boolValue(name == current))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
