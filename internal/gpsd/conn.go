package gpsd

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/maximewewer/gpsd-refclock/pkg/logger"
)

// probeTick is the countdown value at which a silent connection is probed
const probeTick = 4

// timerPrimary drives the connection state machine. All connection
// timeouts are countdowns serviced here, one step per second.
func (c *Clock) timerPrimary() {
	u := c.u

	if u.throttle > 0 {
		u.throttle--
	}
	if u.tickover > 0 {
		u.tickover--
	}

	switch u.tickover {
	case probeTick:
		if u.fd != -1 {
			if err := c.send(versionRequest); err != nil {
				logger.Refclock(zerolog.DebugLevel, c.name, "liveness probe failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		} else if u.fdt != -1 {
			c.testSocket()
		}

	case 0:
		switch {
		case u.fd != -1:
			c.stopSocket()
		case u.fdt != -1:
			c.testSocket()
		case len(c.drv.resolution.Addrs) > 0:
			c.initSocket()
		}

	default:
		if u.fd == -1 && u.fdt != -1 {
			c.testSocket()
		}
	}
}

// initSocket starts a connection to the next daemon address
func (c *Clock) initSocket() {
	u := c.u
	addrs := c.drv.resolution.Addrs
	addr := addrs[u.next%len(addrs)]
	u.next = (u.next + 1) % len(addrs)

	fd, pending, err := c.drv.sockets.Open(addr)
	if err != nil {
		if u.logOK(c.cfg.NoLogThrottle) {
			logger.Refclock(zerolog.ErrorLevel, c.name, "cannot connect gpsd socket", map[string]interface{}{
				"addr":  addr.String(),
				"error": err.Error(),
			})
		}
		u.backoff()
		return
	}

	u.fdt = fd
	if pending {
		logger.Refclock(zerolog.DebugLevel, c.name, "async connect pending", map[string]interface{}{
			"addr": addr.String(),
			"fd":   fd,
		})
		return
	}
	c.attach()
}

// testSocket checks whether a pending connect finished
func (c *Clock) testSocket() {
	u := c.u

	done, err := c.drv.sockets.Check(u.fdt)
	if err == nil && !done {
		return
	}

	u.tickover = u.tuning.TickLow

	if err != nil {
		if u.logOK(c.cfg.NoLogThrottle) {
			logger.Refclock(zerolog.ErrorLevel, c.name, "async connect to gpsd failed", map[string]interface{}{
				"fd":    u.fdt,
				"error": err.Error(),
			})
		}
		_ = c.drv.sockets.Close(u.fdt)
		u.fdt = -1
		u.backoff()
		return
	}
	c.attach()
}

// attach promotes the pending socket to the unit connection and registers
// it with the dispatcher
func (c *Clock) attach() {
	u := c.u
	fd := u.fdt
	u.fdt = -1

	if err := c.drv.dispatcher.Register(fd, c); err != nil {
		if u.logOK(c.cfg.NoLogThrottle) {
			logger.Refclock(zerolog.ErrorLevel, c.name, ErrRegistration.Error(), map[string]interface{}{
				"fd":    fd,
				"error": err.Error(),
			})
		}
		_ = c.drv.sockets.Close(fd)
		u.backoff()
		return
	}

	u.fd = fd
	u.tickover = u.tuning.TickLow
	u.framer.Reset()
	logger.Refclock(zerolog.InfoLevel, c.name, "connected to gpsd", map[string]interface{}{
		"fd": fd,
	})
}

// stopSocket closes the unit connection and arms the reconnect countdown
func (c *Clock) stopSocket() {
	u := c.u

	if u.fd != -1 {
		level := zerolog.DebugLevel
		if u.logOK(c.cfg.NoLogThrottle) {
			level = zerolog.InfoLevel
		}
		logger.Refclock(level, c.name, "closing socket to gpsd", map[string]interface{}{
			"fd": u.fd,
		})
		c.drv.dispatcher.Deregister(u.fd)
		_ = c.drv.sockets.Close(u.fd)
		u.fd = -1
	}

	u.backoff()
	u.haveVers = false
	u.haveSerial = false
	u.havePulse = false
	u.watching = false
}

// send writes a complete request to the daemon
func (c *Clock) send(b []byte) error {
	u := c.u
	if u.fd == -1 {
		return ErrNotConnected
	}
	logger.Wire(c.name, "send", b)

	n, err := c.drv.sockets.Write(u.fd, b)
	if err != nil {
		return fmt.Errorf("write to fd %d: %w", u.fd, err)
	}
	if n != len(b) {
		return fmt.Errorf("wrote %d of %d bytes: %w", n, len(b), ErrShortWrite)
	}
	return nil
}
