package gpsd

import (
	"github.com/maximewewer/gpsd-refclock/internal/jsontok"
	"github.com/maximewewer/gpsd-refclock/internal/lfp"
	"github.com/maximewewer/gpsd-refclock/pkg/mathutil"
)

// Mode selects how serial time and pulses are fused
type Mode int

// Operating modes
const (
	// ModeSerial feeds serial (TPV/TOFF) time alone
	ModeSerial Mode = 0

	// ModeStrict feeds only serial time paired with a pulse
	ModeStrict Mode = 1

	// ModeAuto switches between the two depending on pulse availability
	ModeAuto Mode = 2

	modeMask = 0x03
)

// ParseMode maps the 2-bit mode selector; unknown values fall back to ModeSerial
func ParseMode(v int) Mode {
	m := Mode(v & modeMask)
	if m > ModeAuto {
		return ModeSerial
	}
	return m
}

func (m Mode) String() string {
	switch m {
	case ModeSerial:
		return "serial"
	case ModeStrict:
		return "strict"
	case ModeAuto:
		return "auto"
	default:
		return "invalid"
	}
}

// Tuning holds the hysteresis and timeout constants of the driver
type Tuning struct {
	// primary pulse credit account
	PulseCreditMax int
	PulseCreditInc int
	PulseCreditDec int

	// secondary pulse credit account
	Pulse2CreditMax int
	Pulse2CreditInc int

	// connection countdown (timer ticks)
	TickLow  int
	TickHigh int
	TickStep int

	// ticks between throttled log lines
	LogThrottle int
}

// DefaultTuning returns the stock constants
func DefaultTuning() Tuning {
	return Tuning{
		PulseCreditMax:  60,
		PulseCreditInc:  3,
		PulseCreditDec:  1,
		Pulse2CreditMax: 10,
		Pulse2CreditInc: 2,
		TickLow:         10,
		TickHigh:        120,
		TickStep:        5,
		LogThrottle:     3600,
	}
}

// channel holds one timestamp triple: when the record arrived locally, the
// reference time it carries and when gpsd saw the event
type channel struct {
	local lfp.Timestamp
	stamp lfp.Timestamp
	recvt lfp.Timestamp
}

// unit is the state shared by a primary clock and its pulse-only secondary.
// It owns the connection to gpsd and the record assembly buffer.
type unit struct {
	id     int
	refs   int
	name   string
	device string
	mode   Mode
	tuning Tuning

	primary   *Clock
	secondary *Clock

	proto uint32

	serial channel
	pulse  channel
	pulse2 channel

	credit  mathutil.Credit
	credit2 mathutil.Credit

	serialPrec int
	pulsePrec  int

	fudgePulse  lfp.Duration
	fudgePulse2 lfp.Duration
	fudgeSerial lfp.Duration

	// data availability
	noSync     bool
	haveSerial bool
	havePulse  bool
	havePulse2 bool
	rawSerial  bool
	haveVers   bool
	watching   bool

	// protocol features
	nanoPPS bool
	toff    bool

	// connection
	fd       int
	fdt      int
	next     int
	tickover int
	tickpres int

	tallies  Tallies
	throttle int

	framer *Framer
	record *jsontok.Record
}

func newUnit(id int, name, device string, tuning Tuning) *unit {
	return &unit{
		id:         id,
		name:       name,
		device:     device,
		tuning:     tuning,
		credit:     mathutil.Credit{Max: tuning.PulseCreditMax},
		credit2:    mathutil.Credit{Max: tuning.Pulse2CreditMax},
		serialPrec: SerialPrecision,
		pulsePrec:  SerialPrecision,
		fd:         -1,
		fdt:        -1,
		tickpres:   tuning.TickLow,
		framer:     NewFramer(MaxLineLength),
		record:     jsontok.NewRecord(jsontok.MaxTokens),
	}
}

// logOK reports whether a throttled log line may be written now and
// restarts the throttle countdown if so
func (u *unit) logOK(force bool) bool {
	ok := force || u.throttle == 0 || u.throttle == u.tuning.LogThrottle
	if ok {
		u.throttle = u.tuning.LogThrottle
	}
	return ok
}

// backoff re-arms the countdown with the current preset and extends the preset
func (u *unit) backoff() {
	u.tickover = u.tickpres
	u.tickpres = min(u.tickpres+u.tuning.TickStep, u.tuning.TickHigh)
}

func (u *unit) resetTallies() {
	u.tallies = Tallies{}
}
