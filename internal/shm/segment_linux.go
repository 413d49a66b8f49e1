//go:build linux

package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/maximewewer/gpsd-refclock/pkg/logger"
)

const ipcCreate = 0o1000

// Open attaches to segment cfg.Unit, creating it with cfg.Permissions if
// it does not exist yet
func Open(cfg Config) (*Writer, error) {
	perm := cfg.Permissions & 0o777
	if perm == 0 {
		perm = 0o600
	}

	id, _, errno := unix.Syscall(unix.SYS_SHMGET, uintptr(Key(cfg.Unit)), SegmentSize, uintptr(ipcCreate|perm))
	if errno != 0 {
		return nil, fmt.Errorf("shmget unit %d: %s", cfg.Unit, unix.ErrnoName(errno))
	}
	addr, _, errno := unix.Syscall(unix.SYS_SHMAT, id, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("shmat unit %d: %s", cfg.Unit, unix.ErrnoName(errno))
	}

	logger.SafeInfo("shm", "attached shared memory segment", map[string]interface{}{
		"unit": cfg.Unit,
		"key":  fmt.Sprintf("%#x", Key(cfg.Unit)),
		"perm": fmt.Sprintf("%#o", perm),
	})
	return &Writer{
		unit: cfg.Unit,
		id:   id,
		addr: addr,
		seg:  (*Segment)(unsafe.Pointer(addr)),
	}, nil
}

// Close detaches the segment. The segment itself stays for the reader.
func (w *Writer) Close() error {
	if w.seg == nil {
		return nil
	}
	w.seg = nil
	if _, _, errno := unix.Syscall(unix.SYS_SHMDT, w.addr, 0, 0); errno != 0 {
		return fmt.Errorf("shmdt unit %d: %s", w.unit, unix.ErrnoName(errno))
	}
	return nil
}
