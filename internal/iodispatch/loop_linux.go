//go:build linux

package iodispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/maximewewer/gpsd-refclock/internal/lfp"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
)

// Loop is a poll(2) based dispatcher.
//
// Register, Deregister and OnTick must be called on the loop goroutine, or
// before Run starts.
type Loop struct {
	opts options

	receivers map[int]Receiver
	ticks     []func()
	buf       []byte

	// wake pipe; read end polled with the sockets
	wakeR, wakeW int

	mu     sync.Mutex
	queue  []func()
	closed bool
}

// New creates a loop
func New(opts ...Option) (*Loop, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("creating wake pipe: %w", err)
	}

	return &Loop{
		opts:      o,
		receivers: make(map[int]Receiver),
		buf:       make([]byte, ReadBufferSize),
		wakeR:     p[0],
		wakeW:     p[1],
	}, nil
}

// Register starts delivering data readable on fd to r
func (l *Loop) Register(fd int, r Receiver) error {
	if fd < 0 {
		return ErrInvalidDescriptor
	}
	if _, ok := l.receivers[fd]; ok {
		return fmt.Errorf("fd %d: %w", fd, ErrAlreadyRegistered)
	}
	l.receivers[fd] = r
	logger.Debugf("iodispatch", "registered fd %d", fd)
	return nil
}

// Deregister stops watching fd. The descriptor is not closed.
func (l *Loop) Deregister(fd int) {
	delete(l.receivers, fd)
}

// Registered reports whether fd is being watched
func (l *Loop) Registered(fd int) bool {
	_, ok := l.receivers[fd]
	return ok
}

// OnTick adds a handler run once per tick interval
func (l *Loop) OnTick(f func()) {
	l.ticks = append(l.ticks, f)
}

// Do runs f on the loop goroutine and waits for it to finish, or for ctx
func (l *Loop) Do(ctx context.Context, f func()) error {
	done := make(chan struct{})

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, func() {
		defer close(done)
		f()
	})
	l.mu.Unlock()
	l.wakeup()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) wakeup() {
	_, _ = unix.Write(l.wakeW, []byte{0})
}

// Run serves descriptors and ticks until ctx is done
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.wakeup)
	defer stop()

	logger.Info("iodispatch", "dispatch loop started")
	defer logger.Info("iodispatch", "dispatch loop stopped")

	next := time.Now().Add(l.opts.interval)
	var pfds []unix.PollFd
	for ctx.Err() == nil {
		pfds = l.pollSet(pfds[:0])

		timeout := time.Until(next)
		if timeout < 0 {
			timeout = 0
		}
		// round up so the tick is not polled for repeatedly
		ms := int((timeout + time.Millisecond - 1) / time.Millisecond)

		n, err := unix.Poll(pfds, ms)
		if err != nil && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("poll: %w", err)
		}

		if n > 0 {
			rtime := lfp.FromTime(l.opts.now())
			for _, p := range pfds[1:] {
				if p.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
					l.read(int(p.Fd), rtime)
				}
			}
			if pfds[0].Revents&unix.POLLIN != 0 {
				l.drainWake()
				l.runQueue()
			}
		}

		if now := time.Now(); !now.Before(next) {
			for _, f := range l.ticks {
				f()
			}
			next = next.Add(l.opts.interval)
			if next.Before(now) {
				next = now.Add(l.opts.interval)
			}
		}
	}
	return nil
}

func (l *Loop) pollSet(pfds []unix.PollFd) []unix.PollFd {
	pfds = append(pfds, unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})
	for fd := range l.receivers {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	return pfds
}

// read delivers one buffer from fd. End of stream and read errors drop the
// registration; closing the descriptor is left to its owner.
func (l *Loop) read(fd int, rtime lfp.Timestamp) {
	r, ok := l.receivers[fd]
	if !ok {
		return
	}

	n, err := unix.Read(fd, l.buf)
	switch {
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
		return
	case err != nil || n <= 0:
		logger.SafeDebug("iodispatch", "dropping descriptor", map[string]interface{}{
			"fd":    fd,
			"error": fmt.Sprint(err),
		})
		delete(l.receivers, fd)
		return
	}
	r.Receive(l.buf[:n], rtime)
}

func (l *Loop) drainWake() {
	var b [64]byte
	for {
		n, err := unix.Read(l.wakeR, b[:])
		if err != nil || n < len(b) {
			return
		}
	}
}

func (l *Loop) runQueue() {
	l.mu.Lock()
	queue := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, f := range queue {
		f()
	}
}

// Close releases the wake pipe. Pending Do calls are not run.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return errors.Join(unix.Close(l.wakeR), unix.Close(l.wakeW))
}
