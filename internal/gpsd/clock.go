package gpsd

import (
	"github.com/rs/zerolog"

	"github.com/maximewewer/gpsd-refclock/internal/lfp"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
)

// Clock is one configured refclock. A primary clock owns the daemon
// connection of its unit; a secondary clock only consumes the pulses seen
// on that connection.
type Clock struct {
	drv       *Driver
	u         *unit
	peer      Peer
	cfg       ClockConfig
	name      string
	secondary bool

	precision int
	pending   int
	pps       bool
	polls     uint64
	lastCode  string
}

// Name returns the refclock display name
func (c *Clock) Name() string {
	return c.name
}

// Config returns the active configuration
func (c *Clock) Config() ClockConfig {
	return c.cfg
}

// Secondary reports whether this is the pulse-only clock of a unit
func (c *Clock) Secondary() bool {
	return c.secondary
}

// Precision returns the precision exponent of the most recent sample
func (c *Clock) Precision() int {
	return c.precision
}

// LastCode returns the last time code seen by the clock
func (c *Clock) LastCode() string {
	return c.lastCode
}

// Receive is called by the dispatcher with socket data of the unit
// connection. Complete lines are parsed and evaluated immediately.
func (c *Clock) Receive(data []byte, rtime lfp.Timestamp) {
	u := c.u
	if u == nil {
		return
	}
	logger.Wire(c.name, "recv", data)

	u.framer.Feed(data, func(line []byte) {
		c.parse(line, rtime)
	})
	u.tickover = u.tuning.TickLow
}

// Timer runs the once-per-second housekeeping of the clock
func (c *Clock) Timer() {
	if c.u == nil {
		return
	}
	if c.secondary {
		c.timerSecondary()
	} else {
		c.timerPrimary()
	}
}

// Poll hands the samples gathered since the last poll over to the peer and
// reports the clock status
func (c *Clock) Poll() {
	if c.u == nil {
		return
	}
	c.polls++
	if c.secondary {
		c.pollSecondary()
	} else {
		c.pollPrimary()
	}
}

func (c *Clock) pollPrimary() {
	u := c.u
	if c.pending > 0 {
		c.peer.ReportEvent(EventNominal)
		c.pending = 0
	} else {
		c.precision = SerialPrecision
		switch {
		case u.fd == -1:
			c.peer.ReportEvent(EventFault)
		case u.tallies.BadReply != 0:
			c.peer.ReportEvent(EventBadReply)
		default:
			c.peer.ReportEvent(EventTimeout)
		}
	}

	if c.cfg.Stats {
		logger.Clock(c.name, tallyNames, u.tallies.values())
	}
	if obs, ok := c.peer.(StatsObserver); ok {
		obs.ReportStats(c.name, u.tallies)
	}
	u.resetTallies()
}

// pollSecondary has no tallies of its own; the stats observer still gets a
// report so its per-interval statistics restart.
func (c *Clock) pollSecondary() {
	if c.pending > 0 {
		c.peer.ReportEvent(EventNominal)
		c.pending = 0
	} else {
		c.precision = PulsePrecision
		c.setPPS(false)
		c.peer.ReportEvent(EventTimeout)
	}

	if obs, ok := c.peer.(StatsObserver); ok {
		obs.ReportStats(c.name, Tallies{})
	}
}

// Control applies a changed configuration. Unit, device and the secondary
// role cannot change at runtime.
func (c *Clock) Control(cfg ClockConfig) {
	u := c.u
	if u == nil {
		return
	}
	cfg.Unit = c.cfg.Unit
	cfg.Device = c.cfg.Device
	cfg.CheckDevice = c.cfg.CheckDevice
	c.cfg = cfg

	if c.secondary {
		u.fudgePulse2 = lfp.DurationFromSeconds(cfg.FudgePPS)
		if !cfg.PermitPPS {
			c.setPPS(false)
		}
		return
	}

	u.fudgePulse = lfp.DurationFromSeconds(cfg.FudgePPS)
	u.fudgeSerial = lfp.DurationFromSeconds(cfg.FudgeSerial)
	if mode := ParseMode(cfg.Mode); mode != u.mode {
		u.leaveMode(u.mode)
		u.mode = mode
		u.enterMode(mode)
	}
}

// Shutdown releases the clock. The primary closes the daemon connection;
// the shared unit is dropped with its last clock.
func (c *Clock) Shutdown() {
	u := c.u
	if u == nil {
		return
	}

	if c.secondary {
		u.secondary = nil
	} else {
		if u.fd != -1 {
			c.drv.dispatcher.Deregister(u.fd)
			_ = c.drv.sockets.Close(u.fd)
			u.fd = -1
		}
		if u.fdt != -1 {
			_ = c.drv.sockets.Close(u.fdt)
			u.fdt = -1
		}
		u.primary = nil
	}
	c.drv.release(c)
	c.u = nil

	logger.Refclock(zerolog.InfoLevel, c.name, "shutdown", nil)
}

// addSample reports one finished sample to the peer
func (c *Clock) addSample(stamp, recvt lfp.Timestamp, precision int) {
	if c.pending == 0 {
		c.peer.ReportEvent(EventNominal)
	}
	c.pending++
	c.precision = precision
	c.peer.ReportSample(Sample{
		Reference: stamp,
		Receive:   recvt,
		Precision: precision,
	})
}

// setPPS forwards changes of the PPS qualification to the peer
func (c *Clock) setPPS(on bool) {
	if c.pps == on {
		return
	}
	c.pps = on
	c.peer.SetPPS(on)
	logger.Refclock(zerolog.DebugLevel, c.name, "pps qualification changed", map[string]interface{}{
		"pps": on,
	})
}

func (c *Clock) saveCode(code string) {
	if len(code) > maxLastCode {
		code = code[:maxLastCode]
	}
	c.lastCode = code
}

// Status is a point-in-time view of a clock
type Status struct {
	Name       string  `json:"name"`
	Unit       int     `json:"unit"`
	Secondary  bool    `json:"secondary"`
	Device     string  `json:"device"`
	Mode       string  `json:"mode"`
	Connected  bool    `json:"connected"`
	Connecting bool    `json:"connecting"`
	Protocol   string  `json:"protocol,omitempty"`
	Watching   bool    `json:"watching"`
	NoSync     bool    `json:"no_sync"`
	RawSerial  bool    `json:"raw_serial"`
	PPS        bool    `json:"pps"`
	Credit     int     `json:"credit"`
	Credit2    int     `json:"credit2"`
	Precision  int     `json:"precision"`
	TickOver   int     `json:"tickover"`
	TickPreset int     `json:"tick_preset"`
	Pending    int     `json:"pending"`
	Polls      uint64  `json:"polls"`
	LastCode   string  `json:"last_code,omitempty"`
	Tallies    Tallies `json:"tallies"`
}

// Status returns a snapshot of the clock and its unit
func (c *Clock) Status() Status {
	st := Status{
		Name:      c.name,
		Unit:      c.cfg.Unit,
		Secondary: c.secondary,
		PPS:       c.pps,
		Precision: c.precision,
		Pending:   c.pending,
		Polls:     c.polls,
		LastCode:  c.lastCode,
	}
	u := c.u
	if u == nil {
		return st
	}
	st.Device = u.device
	st.Mode = u.mode.String()
	st.Connected = u.fd != -1
	st.Connecting = u.fdt != -1
	if u.haveVers {
		st.Protocol = FormatProtoVersion(u.proto)
	}
	st.Watching = u.watching
	st.NoSync = u.noSync
	st.RawSerial = u.rawSerial
	st.Credit = u.credit.Value
	st.Credit2 = u.credit2.Value
	st.TickOver = u.tickover
	st.TickPreset = u.tickpres
	st.Tallies = u.tallies
	return st
}
