//go:build linux

package gpsd

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// UnixSockets implements SocketOps with raw non-blocking TCP sockets
type UnixSockets struct{}

// NewSocketOps returns the socket implementation of the platform
func NewSocketOps() SocketOps {
	return UnixSockets{}
}

// Open creates a non-blocking TCP socket and starts connecting to addr
func (UnixSockets) Open(addr netip.AddrPort) (int, bool, error) {
	domain, sa := sockaddr(addr)

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, false, fmt.Errorf("creating gpsd socket: %w", err)
	}

	// records are small and sent whole
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	err = unix.Connect(fd, sa)
	switch {
	case err == nil:
		return fd, false, nil
	case errors.Is(err, unix.EINPROGRESS):
		return fd, true, nil
	default:
		_ = unix.Close(fd)
		return -1, false, fmt.Errorf("connecting to %s: %w", addr, err)
	}
}

// Check polls a connecting socket for writability and reads its error status
func (UnixSockets) Check(fd int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return true, fmt.Errorf("polling fd %d: %w", fd, err)
	}
	if n == 0 || fds[0].Revents&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) == 0 {
		return false, nil
	}

	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return true, fmt.Errorf("reading SO_ERROR: %w", err)
	}
	if soerr != 0 {
		return true, unix.Errno(soerr)
	}
	return true, nil
}

// Write sends b without raising SIGPIPE on a closed connection
func (UnixSockets) Write(fd int, b []byte) (int, error) {
	return unix.SendmsgN(fd, b, nil, nil, unix.MSG_NOSIGNAL)
}

// Close closes the socket
func (UnixSockets) Close(fd int) error {
	return unix.Close(fd)
}

func sockaddr(addr netip.AddrPort) (int, unix.Sockaddr) {
	ip := addr.Addr().Unmap()
	if ip.Is4() {
		return unix.AF_INET, &unix.SockaddrInet4{Port: int(addr.Port()), Addr: ip.As4()}
	}
	sa := &unix.SockaddrInet6{Port: int(addr.Port()), Addr: ip.As16()}
	if zone := ip.Zone(); zone != "" {
		if ifi, err := net.InterfaceByName(zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa
}
