//go:build !linux

package iodispatch

import (
	"context"
	"errors"
)

// ErrUnsupported indicates a platform without a dispatch loop
var ErrUnsupported = errors.New("dispatch loop is only supported on linux")

// Loop is unavailable on this platform
type Loop struct{}

// New always fails on this platform
func New(opts ...Option) (*Loop, error) {
	return nil, ErrUnsupported
}

func (l *Loop) Register(fd int, r Receiver) error { return ErrUnsupported }
func (l *Loop) Deregister(fd int) {}
func (l *Loop) Registered(fd int) bool { return false }
func (l *Loop) OnTick(f func()) {}
func (l *Loop) Do(ctx context.Context, f func()) error { return ErrUnsupported }
func (l *Loop) Run(ctx context.Context) error { return ErrUnsupported }
func (l *Loop) Close() error { return nil }
