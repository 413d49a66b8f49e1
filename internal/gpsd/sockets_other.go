//go:build !linux

package gpsd

import (
	"errors"
	"net/netip"
)

var errUnsupported = errors.New("gpsd sockets are only supported on linux")

type unsupportedSockets struct{}

// NewSocketOps returns the socket implementation of the platform
func NewSocketOps() SocketOps {
	return unsupportedSockets{}
}

func (unsupportedSockets) Open(netip.AddrPort) (int, bool, error) { return -1, false, errUnsupported }
func (unsupportedSockets) Check(int) (bool, error) { return true, errUnsupported }
func (unsupportedSockets) Write(int, []byte) (int, error) { return 0, errUnsupported }
func (unsupportedSockets) Close(int) error { return errUnsupported }
