package gpsd

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/maximewewer/gpsd-refclock/internal/jsontok"
	"github.com/maximewewer/gpsd-refclock/internal/lfp"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
)

// Record classes understood by the driver
const (
	classTPV     = "TPV"
	classPPS     = "PPS"
	classTOFF    = "TOFF"
	classVersion = "VERSION"
	classWatch   = "WATCH"
)

// parse evaluates one complete line received at rtime
func (c *Clock) parse(line []byte, rtime lfp.Timestamp) {
	u := c.u
	rec := u.record

	if err := rec.Parse(line); err != nil {
		u.tallies.BadReply++
		logger.Refclock(zerolog.DebugLevel, c.name, "malformed record", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	class, err := rec.StringField("class")
	if err != nil {
		u.tallies.BadReply++
		return
	}

	switch class {
	case classTPV:
		c.processTPV(rtime)
	case classPPS:
		c.processPPS(rtime)
	case classTOFF:
		c.processTOFF(rtime)
	case classVersion:
		c.processVersion()
	case classWatch:
		c.processWatch()
	default:
		return
	}
	u.tallies.Recv++
	u.tickpres = u.tuning.TickLow

	if u.secondary != nil {
		u.secondary.evalSecondary()
	}

	u.dropStale()

	switch u.mode {
	case ModeStrict:
		c.evalStrict()
	case ModeAuto:
		c.evalAuto()
	default:
		c.evalSerial()
	}
}

// processTPV handles a fix record. Its time is only used when the daemon
// does not send TOFF records.
func (c *Clock) processTPV(rtime lfp.Timestamp) {
	u := c.u
	rec := u.record

	mode := rec.IntDefault("mode", 0)
	code, err := rec.StringField("time")
	if mode < 2 || err != nil {
		if !u.toff {
			u.tallies.SerialRecv++
		}
		u.tallies.NoSync++
		u.haveSerial = false
		u.havePulse = false
		u.noSync = true
		return
	}
	u.noSync = false

	if !u.toff {
		u.tallies.SerialRecv++
		c.saveCode(code)

		stamp, err := lfp.ParseISO([]byte(code))
		if err != nil {
			u.tallies.BadReply++
			u.haveSerial = false
		} else {
			u.serial.stamp = stamp
			u.serial.local = rtime
			u.serial.recvt = rtime.Add(-u.fudgeSerial)
			u.haveSerial = true
		}
	}

	u.serialPrec = eptPrecision(rec.FloatDefault("ept", defaultEPT))
}

// processPPS handles a pulse record, feeding both the primary pulse channel
// and the pulse-only channel
func (c *Clock) processPPS(rtime lfp.Timestamp) {
	u := c.u
	rec := u.record

	u.tallies.PulseRecv++
	if u.noSync {
		return
	}

	u.pulse.local = rtime
	clock, err := c.pulseTime("clock")
	if err != nil {
		c.recordFailed(classPPS, err)
		return
	}
	ref, err := c.pulseTime("real")
	if err != nil {
		c.recordFailed(classPPS, err)
		return
	}

	u.pulsePrec = clampPrecision(rec.IntDefault("precision", int64(u.serialPrec)))

	u.pulse.recvt = clock.Add(-u.fudgePulse)
	u.pulse.stamp = u.pulse.recvt.RoundToSecond()
	u.pulse2.local = rtime
	u.pulse2.recvt = clock.Add(-u.fudgePulse2)
	u.pulse2.stamp = ref

	if u.secondary != nil {
		u.secondary.saveCode(ref.String())
	}

	u.havePulse = !c.cfg.IgnorePPS
	u.havePulse2 = true
}

// processTOFF handles a time offset record, which replaces TPV as the
// source of serial time
func (c *Clock) processTOFF(rtime lfp.Timestamp) {
	u := c.u

	u.tallies.SerialRecv++
	u.toff = true
	if u.noSync {
		return
	}

	recvt, err := c.binaryTime("clock_sec", "clock_nsec", 1)
	if err != nil {
		c.recordFailed(classTOFF, err)
		return
	}
	stamp, err := c.binaryTime("real_sec", "real_nsec", 1)
	if err != nil {
		c.recordFailed(classTOFF, err)
		return
	}

	u.serial.recvt = recvt.Add(-u.fudgeSerial)
	u.serial.stamp = stamp
	u.serial.local = rtime
	u.haveSerial = true

	c.saveCode(stamp.String())
}

// processVersion records the protocol level of the daemon and subscribes to
// the unit's device unless already watching it
func (c *Clock) processVersion() {
	u := c.u
	rec := u.record

	revision := rec.StringDefault("rev", "(unknown)")
	release := rec.StringDefault("release", "(unknown)")
	major, errMajor := rec.IntField("proto_major")
	minor, errMinor := rec.IntField("proto_minor")
	if err := errors.Join(errMajor, errMinor); err != nil {
		if u.logOK(c.cfg.NoLogThrottle) {
			logger.Refclock(zerolog.InfoLevel, c.name, "could not evaluate version data", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}

	u.proto = ProtoVersion(uint16(major), uint16(minor))
	if !u.haveVers {
		logger.Refclock(zerolog.InfoLevel, c.name, "gpsd version", map[string]interface{}{
			"revision": revision,
			"release":  release,
			"protocol": FormatProtoVersion(u.proto),
		})
	}
	u.haveVers = true

	u.nanoPPS = u.proto >= protoNanoPPS
	u.toff = u.proto >= protoTOFF

	// VERSION doubles as the liveness probe answer
	if u.watching {
		return
	}

	if err := c.send(watchRequest(u.device, u.toff)); err != nil && u.logOK(c.cfg.NoLogThrottle) {
		logger.Refclock(zerolog.ErrorLevel, c.name, "failed to write watch request", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// processWatch tracks whether the daemon acknowledged the subscription for
// the unit's device
func (c *Clock) processWatch() {
	u := c.u
	rec := u.record

	device, err := rec.StringField("device")
	if err != nil || device != u.device {
		return
	}
	enable, errEnable := rec.BoolField("enable")
	json, errJSON := rec.BoolField("json")
	u.watching = errEnable == nil && errJSON == nil && enable && json

	logger.Refclock(zerolog.DebugLevel, c.name, "watch reply", map[string]interface{}{
		"watching": u.watching,
	})
}

// binaryTime reads a seconds/fraction member pair. scale converts the
// fraction to nanoseconds.
func (c *Clock) binaryTime(secKey, fracKey string, scale int64) (lfp.Timestamp, error) {
	rec := c.u.record
	sec, err := rec.IntField(secKey)
	if err != nil {
		return 0, err
	}
	frac, err := rec.IntField(fracKey)
	if err != nil {
		return 0, err
	}
	return lfp.FromUnix(sec, frac*scale), nil
}

// pulseTime reads the prefix_sec member with its nanosecond or microsecond
// fraction. The fraction the protocol level announces is tried first.
func (c *Clock) pulseTime(prefix string) (lfp.Timestamp, error) {
	type fraction struct {
		suffix string
		scale  int64
	}
	order := [2]fraction{{"_musec", 1000}, {"_nsec", 1}}
	if c.u.nanoPPS {
		order[0], order[1] = order[1], order[0]
	}

	t, err := c.binaryTime(prefix+"_sec", prefix+order[0].suffix, order[0].scale)
	if errors.Is(err, jsontok.ErrFieldAbsent) {
		t, err = c.binaryTime(prefix+"_sec", prefix+order[1].suffix, order[1].scale)
	}
	return t, err
}

func (c *Clock) recordFailed(class string, err error) {
	c.u.tallies.BadReply++
	logger.Refclock(zerolog.DebugLevel, c.name, "record processing failed", map[string]interface{}{
		"class": class,
		"error": err.Error(),
	})
}
