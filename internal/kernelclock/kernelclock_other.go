//go:build !linux

package kernelclock

// Read always fails on this platform
func Read() (State, error) {
	return State{}, ErrUnsupported
}
