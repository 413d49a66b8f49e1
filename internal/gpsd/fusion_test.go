package gpsd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximewewer/gpsd-refclock/internal/lfp"
)

var (
	serialStamp = lfp.FromUnix(1622548800, 0)
	serialRecvt = lfp.FromUnix(1622548800, 120000000)
	pulseRecvt  = lfp.FromUnix(1622548800, 1000)
)

func setSerial(u *unit) {
	u.serial = channel{local: rtime, stamp: serialStamp, recvt: serialRecvt}
	u.haveSerial = true
}

func setPulse(u *unit) {
	u.pulse = channel{local: rtime, stamp: pulseRecvt.RoundToSecond(), recvt: pulseRecvt}
	u.havePulse = true
}

func TestEvalStrict(t *testing.T) {
	tests := []struct {
		name    string
		serial  bool
		pulse   bool
		samples int
	}{
		{"both", true, true, 1},
		{"serial only", true, false, 0},
		{"pulse only", false, true, 0},
		{"neither", false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			c, peer := h.start(t, ClockConfig{Unit: 0, Mode: int(ModeStrict)})
			if tt.serial {
				setSerial(c.u)
			}
			if tt.pulse {
				setPulse(c.u)
			}

			c.evalStrict()

			require.Len(t, peer.samples, tt.samples)
			if tt.samples == 1 {
				assert.Equal(t, serialStamp, peer.samples[0].Reference)
				assert.Equal(t, pulseRecvt, peer.samples[0].Receive)
				assert.False(t, c.u.haveSerial)
				assert.False(t, c.u.havePulse)
			} else {
				assert.Equal(t, tt.serial, c.u.haveSerial)
				assert.Equal(t, tt.pulse, c.u.havePulse)
			}
		})
	}
}

func TestEvalSerial(t *testing.T) {
	h := newHarness(t)
	c, peer := h.start(t, ClockConfig{Unit: 0})
	setSerial(c.u)
	setPulse(c.u)

	c.evalSerial()
	c.evalSerial()

	require.Len(t, peer.samples, 1)
	assert.Equal(t, serialStamp, peer.samples[0].Reference)
	assert.Equal(t, serialRecvt, peer.samples[0].Receive)
	assert.False(t, c.u.haveSerial)
	assert.True(t, c.u.havePulse)
	assert.Equal(t, uint64(1), c.u.tallies.SerialUsed)
}

func TestEvalAuto_Hysteresis(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, ClockConfig{Unit: 0, Mode: int(ModeAuto)})
	u := c.u

	require.Equal(t, 30, u.credit.Value)
	require.False(t, u.rawSerial)

	// cycle runs one evaluation and counts rawSerial flips
	cycle := func(pulse bool, n int) (flipsToRaw, flipsToPulse int) {
		for i := 0; i < n; i++ {
			before := u.rawSerial
			setSerial(u)
			if pulse {
				setPulse(u)
			}
			c.evalAuto()
			switch {
			case !before && u.rawSerial:
				flipsToRaw++
			case before && !u.rawSerial:
				flipsToPulse++
			}
		}
		return
	}

	toRaw, toPulse := cycle(false, 30)
	assert.Equal(t, 1, toRaw)
	assert.Equal(t, 0, toPulse)
	assert.True(t, u.rawSerial)
	assert.Equal(t, 0, u.credit.Value)

	toRaw, toPulse = cycle(true, 60)
	assert.Equal(t, 0, toRaw)
	assert.Equal(t, 1, toPulse)
	assert.False(t, u.rawSerial)
	assert.Equal(t, 60, u.credit.Value)

	// the flip back happens only on the last of 60 pulse-less cycles
	toRaw, toPulse = cycle(false, 59)
	assert.Equal(t, 0, toRaw)
	assert.Equal(t, 0, toPulse)
	assert.False(t, u.rawSerial)

	toRaw, _ = cycle(false, 1)
	assert.Equal(t, 1, toRaw)
	assert.True(t, u.rawSerial)
}

func TestEvalAuto_SubStatePolicy(t *testing.T) {
	h := newHarness(t)
	c, peer := h.start(t, ClockConfig{Unit: 0, Mode: int(ModeAuto)})

	// trusting pulses: serial time alone is held back
	setSerial(c.u)
	c.evalAuto()
	assert.Empty(t, peer.samples)

	// pulse paired
	setSerial(c.u)
	setPulse(c.u)
	c.evalAuto()
	require.Len(t, peer.samples, 1)
	assert.Equal(t, pulseRecvt, peer.samples[0].Receive)

	// raw serial
	c.u.rawSerial = true
	c.u.credit.Set(1)
	setSerial(c.u)
	c.evalAuto()
	require.Len(t, peer.samples, 2)
	assert.Equal(t, serialRecvt, peer.samples[1].Receive)
}

func TestEvalAuto_NoSerialNoCredit(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, ClockConfig{Unit: 0, Mode: int(ModeAuto)})

	setPulse(c.u)
	c.evalAuto()
	assert.Equal(t, 30, c.u.credit.Value)
}

func TestDropStale(t *testing.T) {
	base := lfp.FromUnix(1622548800, 0)

	tests := []struct {
		name       string
		serial     lfp.Timestamp
		pulse      lfp.Timestamp
		wantSerial bool
		wantPulse  bool
	}{
		{"same second", base, base.Add(lfp.DurationFromSeconds(0.9)), true, true},
		{"pulse one second older", base.Add(oneSecond), base, true, false},
		{"serial one second older", base, base.Add(oneSecond), false, true},
		{"pulse far older", base.Add(10 * oneSecond), base, true, false},
		{"serial slightly older", base, base.Add(lfp.DurationFromSeconds(0.999)), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUnit(0, "test", "/dev/gps0", DefaultTuning())
			u.haveSerial, u.havePulse = true, true
			u.serial.local = tt.serial
			u.pulse.local = tt.pulse

			u.dropStale()

			assert.Equal(t, tt.wantSerial, u.haveSerial)
			assert.Equal(t, tt.wantPulse, u.havePulse)
		})
	}
}

func TestModeTransitions(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, ClockConfig{Unit: 0, Mode: int(ModeSerial)})
	u := c.u

	setSerial(u)
	setPulse(u)
	c.Control(ClockConfig{Mode: int(ModeAuto)})
	assert.Equal(t, ModeAuto, u.mode)
	assert.Equal(t, 30, u.credit.Value)
	assert.False(t, u.rawSerial)
	assert.False(t, u.haveSerial)
	assert.False(t, u.havePulse)

	u.rawSerial = true
	setSerial(u)
	c.Control(ClockConfig{Mode: int(ModeStrict)})
	assert.Equal(t, ModeStrict, u.mode)
	assert.Equal(t, 0, u.credit.Value)
	assert.False(t, u.rawSerial)
	assert.False(t, u.haveSerial)

	// mode 3 is not a valid selector
	c.Control(ClockConfig{Mode: 3})
	assert.Equal(t, ModeSerial, u.mode)
}

func TestEvalSecondary_Qualification(t *testing.T) {
	h := newHarness(t)
	primary, _ := h.start(t, ClockConfig{Unit: 0})
	secondary, peer := h.start(t, ClockConfig{Unit: 128, PermitPPS: true})

	for i := 0; i < 5; i++ {
		feed(primary, rtime, ppsLine)
	}
	assert.Len(t, peer.samples, 5)
	assert.Equal(t, 10, secondary.u.credit2.Value)
	assert.Equal(t, []bool{true}, peer.pps)
	assert.Equal(t, []Event{EventNominal}, peer.events)

	// decay until the credit is gone
	for i := 0; i < 10; i++ {
		secondary.Timer()
	}
	assert.Equal(t, []bool{true, false}, peer.pps)
	assert.Equal(t, []Event{EventNominal, EventTimeout}, peer.events)
	assert.Equal(t, 0, secondary.pending)

	// further ticks stay quiet
	secondary.Timer()
	assert.Equal(t, []bool{true, false}, peer.pps)
	assert.Len(t, peer.events, 2)
}

func TestEvalSecondary_NotPermitted(t *testing.T) {
	h := newHarness(t)
	primary, _ := h.start(t, ClockConfig{Unit: 0})
	_, peer := h.start(t, ClockConfig{Unit: 128})

	for i := 0; i < 6; i++ {
		feed(primary, rtime, ppsLine)
	}
	assert.Len(t, peer.samples, 6)
	assert.Empty(t, peer.pps)
}

func TestTimerSecondary_SinglePulse(t *testing.T) {
	h := newHarness(t)
	primary, _ := h.start(t, ClockConfig{Unit: 0})
	secondary, peer := h.start(t, ClockConfig{Unit: 128, PermitPPS: true})
	secondary.setPPS(true)

	feed(primary, rtime, ppsLine)
	require.Equal(t, 2, secondary.u.credit2.Value)

	for i := 0; i < 5; i++ {
		secondary.Timer()
	}
	assert.Equal(t, 0, secondary.u.credit2.Value)
	assert.Equal(t, []bool{true, false}, peer.pps)
	assert.Equal(t, []Event{EventNominal, EventTimeout}, peer.events)
}

func TestSecondaryControlDropsPPS(t *testing.T) {
	h := newHarness(t)
	h.start(t, ClockConfig{Unit: 0})
	secondary, peer := h.start(t, ClockConfig{Unit: 128, PermitPPS: true})
	secondary.setPPS(true)

	secondary.Control(ClockConfig{FudgePPS: 0.25})

	assert.Equal(t, []bool{true, false}, peer.pps)
	assert.Equal(t, lfp.DurationFromSeconds(0.25), secondary.u.fudgePulse2)
	assert.Equal(t, 128, secondary.Config().Unit)
}
