// Package gpsd implements a reference clock driver fed by the JSON protocol
// of the gpsd time service daemon.
//
// A Driver owns the process-wide state: the resolved daemon addresses and
// the table of device units. Each configured refclock is a Clock. Unit
// numbers 0..127 are primary clocks which own the connection to gpsd and fuse
// serial time with pulses; unit n+128 is a pulse-only secondary clock that
// shares the connection of primary n.
//
// The driver is single threaded: Receive, Timer, Poll, Control and Shutdown
// must all be called from the goroutine running the I/O dispatcher.
package gpsd

import (
	"context"
	"fmt"
	"net/netip"
	"os"

	"github.com/rs/zerolog"

	"github.com/maximewewer/gpsd-refclock/internal/lfp"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
)

// ClockConfig configures one refclock
type ClockConfig struct {
	// Unit is 0..127 for a primary clock, 128..255 for the pulse-only clock of unit-128
	Unit int

	// Mode is the 2-bit operating mode selector (primary only)
	Mode int

	// Device overrides the watched device path
	Device string

	// CheckDevice requires Device to be a character device
	CheckDevice bool

	// FudgePPS is subtracted from pulse receive times (seconds)
	FudgePPS float64

	// FudgeSerial is subtracted from serial receive times (seconds, primary only)
	FudgeSerial float64

	// PermitPPS lets the secondary clock mark its peer as PPS qualified
	PermitPPS bool

	// IgnorePPS keeps pulses out of the primary fusion
	IgnorePPS bool

	// NoLogThrottle logs every connection problem
	NoLogThrottle bool

	// Stats writes a clockstats line at every poll
	Stats bool
}

// Secondary reports whether the configuration describes a pulse-only clock
func (c ClockConfig) Secondary() bool {
	return c.Unit >= 128
}

// Name returns the refclock display name
func (c ClockConfig) Name() string {
	return fmt.Sprintf("GPSD_JSON(%d)", c.Unit)
}

// Option configures a Driver
type Option func(*Driver)

// WithTuning replaces the hysteresis and timeout constants
func WithTuning(t Tuning) Option {
	return func(d *Driver) {
		d.tuning = t
	}
}

// WithAddresses sets the daemon addresses and skips service resolution
func WithAddresses(addrs ...netip.AddrPort) Option {
	return func(d *Driver) {
		d.resolution = Resolution{Addrs: addrs}
		d.resolved = true
	}
}

// WithDeviceCheck replaces the character device test
func WithDeviceCheck(check func(path string) error) Option {
	return func(d *Driver) {
		d.checkDevice = check
	}
}

// Driver is the process-scoped context shared by all gpsd clocks
type Driver struct {
	dispatcher Dispatcher
	sockets    SocketOps
	tuning     Tuning

	services   []Service
	resolution Resolution
	resolved   bool
	reported   bool

	units  map[int]*unit
	clocks []*Clock

	checkDevice func(path string) error
}

// NewDriver creates a driver using d to watch sockets and ops to create them
func NewDriver(d Dispatcher, ops SocketOps, opts ...Option) *Driver {
	drv := &Driver{
		dispatcher:  d,
		sockets:     ops,
		tuning:      DefaultTuning(),
		units:       make(map[int]*unit),
		checkDevice: checkCharDevice,
	}
	for _, opt := range opts {
		opt(drv)
	}
	return drv
}

// Init resolves the gpsd service table once. Problems are reported when
// the first clock starts.
func (d *Driver) Init(ctx context.Context, r *Resolver, services []Service) {
	if d.resolved {
		return
	}
	if len(services) == 0 {
		services = DefaultServices
	}
	d.resolution = r.Resolve(ctx, services)
	d.resolved = true
	d.services = services
}

// Addrs returns the resolved daemon addresses
func (d *Driver) Addrs() []netip.AddrPort {
	return d.resolution.Addrs
}

// initCheck logs the resolution outcome once and tells whether clocks can start
func (d *Driver) initCheck() error {
	if !d.reported {
		d.reported = true
		for _, err := range d.resolution.Errors {
			logger.Warnf("gpsd", "%v", err)
		}
		switch {
		case len(d.resolution.Addrs) == 0:
			logger.Error("gpsd", "failed to get socket address, giving up", ErrNoAddress)
		case d.resolution.Service > 0 && d.resolution.Service < len(d.services):
			logger.SafeWarn("gpsd", "using fallback gpsd service", map[string]interface{}{
				"service":  d.services[d.resolution.Service].String(),
				"instead":  d.services[0].String(),
				"failures": len(d.resolution.Errors),
			})
		}
	}
	if len(d.resolution.Addrs) == 0 {
		return ErrNoAddress
	}
	return nil
}

// Start creates the clock for cfg.Unit and links it to its shared unit
func (d *Driver) Start(cfg ClockConfig, peer Peer) (*Clock, error) {
	if err := d.initCheck(); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name(), err)
	}

	id := cfg.Unit & 0x7F
	u := d.units[id]
	if u == nil {
		device := cfg.Device
		if device == "" {
			device = fmt.Sprintf(DefaultDevicePattern, id)
		}
		if cfg.CheckDevice {
			if err := d.checkDevice(device); err != nil {
				logger.Refclock(zerolog.ErrorLevel, cfg.Name(), "device check failed", map[string]interface{}{
					"device": device,
					"error":  err.Error(),
				})
				return nil, fmt.Errorf("%s: %q: %w", cfg.Name(), device, err)
			}
		}
		u = newUnit(id, cfg.Name(), device, d.tuning)
		d.units[id] = u
	}

	if (cfg.Secondary() && u.secondary != nil) || (!cfg.Secondary() && u.primary != nil) {
		return nil, fmt.Errorf("%s: %w", cfg.Name(), ErrUnitInUse)
	}

	c := &Clock{
		drv:       d,
		u:         u,
		peer:      peer,
		cfg:       cfg,
		name:      cfg.Name(),
		secondary: cfg.Secondary(),
	}
	u.refs++

	if c.secondary {
		c.precision = PulsePrecision
		u.secondary = c
		u.fudgePulse2 = lfp.DurationFromSeconds(cfg.FudgePPS)
	} else {
		c.precision = SerialPrecision
		u.primary = c
		u.fudgePulse = lfp.DurationFromSeconds(cfg.FudgePPS)
		u.fudgeSerial = lfp.DurationFromSeconds(cfg.FudgeSerial)
		u.mode = ParseMode(cfg.Mode)
		u.enterMode(u.mode)
	}
	d.clocks = append(d.clocks, c)

	logger.Refclock(zerolog.InfoLevel, c.name, "startup", map[string]interface{}{
		"device":    u.device,
		"secondary": c.secondary,
		"mode":      u.mode.String(),
	})
	return c, nil
}

// Clocks returns the running clocks in start order
func (d *Driver) Clocks() []*Clock {
	return append([]*Clock(nil), d.clocks...)
}

// Tick runs the once-per-second timer of every clock
func (d *Driver) Tick() {
	for _, c := range d.Clocks() {
		c.Timer()
	}
}

// PollAll polls every clock
func (d *Driver) PollAll() {
	for _, c := range d.Clocks() {
		c.Poll()
	}
}

// Close shuts all clocks down
func (d *Driver) Close() {
	for _, c := range d.Clocks() {
		c.Shutdown()
	}
}

func (d *Driver) release(c *Clock) {
	for i, other := range d.clocks {
		if other == c {
			d.clocks = append(d.clocks[:i], d.clocks[i+1:]...)
			break
		}
	}
	u := c.u
	u.refs--
	if u.refs == 0 {
		delete(d.units, u.id)
	}
}

func checkCharDevice(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeCharDevice == 0 {
		return ErrNotCharDevice
	}
	return nil
}
