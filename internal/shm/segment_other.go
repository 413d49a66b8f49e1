//go:build !linux

package shm

// Open is not available on this platform
func Open(cfg Config) (*Writer, error) {
	return nil, ErrUnsupported
}

// Close detaches the segment
func (w *Writer) Close() error {
	w.seg = nil
	return nil
}
