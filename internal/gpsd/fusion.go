package gpsd

import (
	"github.com/rs/zerolog"

	"github.com/maximewewer/gpsd-refclock/internal/lfp"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
)

const oneSecond = lfp.Duration(lfp.FracPerSecond)

// enterMode prepares the unit for mode. AUTO starts out trusting pulses
// with half the credit.
func (u *unit) enterMode(m Mode) {
	logger.Refclock(zerolog.DebugLevel, u.name, "enter operation mode", map[string]interface{}{
		"mode": m.String(),
	})
	if m == ModeAuto {
		u.rawSerial = false
		u.credit.Set(u.tuning.PulseCreditMax / 2)
	}
	u.havePulse = false
	u.haveSerial = false
}

func (u *unit) leaveMode(m Mode) {
	logger.Refclock(zerolog.DebugLevel, u.name, "leave operation mode", map[string]interface{}{
		"mode": m.String(),
	})
	if m == ModeAuto {
		u.rawSerial = false
		u.credit.Set(0)
	}
	u.havePulse = false
	u.haveSerial = false
}

// dropStale invalidates whichever of serial time and pulse arrived a second
// or more before the other
func (u *unit) dropStale() {
	if !u.haveSerial || !u.havePulse {
		return
	}
	diff := u.serial.local.Sub(u.pulse.local)
	switch {
	case diff >= oneSecond:
		u.havePulse = false
	case diff <= -oneSecond:
		u.haveSerial = false
	}
}

// evalSerial feeds serial time alone
func (c *Clock) evalSerial() {
	u := c.u
	if !u.haveSerial {
		return
	}
	c.addSample(u.serial.stamp, u.serial.recvt, u.serialPrec)
	u.haveSerial = false
	u.tallies.SerialUsed++
}

// evalStrict feeds serial reference time with the pulse receive time, and
// only when both are present
func (c *Clock) evalStrict() {
	u := c.u
	if !u.haveSerial || !u.havePulse {
		return
	}
	c.addSample(u.serial.stamp, u.pulse.recvt, u.pulsePrec)
	u.havePulse = false
	u.haveSerial = false
	u.tallies.SerialUsed++
}

// evalAuto switches between strict and serial evaluation depending on how
// reliably pulses accompany serial time
func (c *Clock) evalAuto() {
	u := c.u
	if !u.haveSerial {
		return
	}

	if u.havePulse {
		if u.credit.Add(u.tuning.PulseCreditInc) && u.rawSerial {
			u.rawSerial = false
			logger.Refclock(zerolog.InfoLevel, c.name, "expect valid PPS from now", nil)
		}
	} else {
		if u.credit.Sub(u.tuning.PulseCreditDec) && !u.rawSerial {
			u.rawSerial = true
			logger.Refclock(zerolog.WarnLevel, c.name, "use TPV alone from now", nil)
		}
	}

	if u.rawSerial {
		c.evalSerial()
	} else {
		c.evalStrict()
	}
}

// evalSecondary feeds a fresh pulse to the pulse-only clock and qualifies
// its peer once pulses arrive steadily
func (c *Clock) evalSecondary() {
	u := c.u
	if !u.havePulse2 {
		return
	}
	c.addSample(u.pulse2.stamp, u.pulse2.recvt, u.pulsePrec)
	if u.credit2.Add(u.tuning.Pulse2CreditInc) && c.cfg.PermitPPS {
		c.setPPS(true)
	}
	u.havePulse2 = false
	u.tallies.PulseUsed++
}

// timerSecondary decays the pulse credit of the pulse-only clock. Once it is
// used up pending samples are flushed and the PPS qualification dropped.
func (c *Clock) timerSecondary() {
	u := c.u
	if !u.credit2.Sub(1) {
		return
	}
	if c.pending > 0 {
		c.peer.ReportEvent(EventTimeout)
		c.pending = 0
	}
	c.setPPS(false)
}
