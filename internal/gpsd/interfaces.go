package gpsd

import (
	"net/netip"

	"github.com/maximewewer/gpsd-refclock/internal/iodispatch"
	"github.com/maximewewer/gpsd-refclock/internal/lfp"
)

// Event is a clock status transition reported to the peer
type Event int

// Clock events
const (
	EventNominal Event = iota
	EventTimeout
	EventBadReply
	EventFault
)

func (e Event) String() string {
	switch e {
	case EventNominal:
		return "nominal"
	case EventTimeout:
		return "timeout"
	case EventBadReply:
		return "bad_reply"
	case EventFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Sample is one finished time sample: the reference time taken from the
// daemon and the local receive time it corresponds to. Precision is a log2
// seconds estimate of the sample uncertainty.
type Sample struct {
	Reference lfp.Timestamp
	Receive   lfp.Timestamp
	Precision int
}

// Offset returns reference minus receive time
func (s Sample) Offset() lfp.Duration {
	return s.Reference.Sub(s.Receive)
}

// Peer consumes the samples and events of one clock
type Peer interface {
	ReportSample(Sample)
	ReportEvent(Event)
	SetPPS(bool)
}

// StatsObserver is implemented by peers that want the per-poll tallies
type StatsObserver interface {
	ReportStats(name string, t Tallies)
}

// Receiver gets raw socket data together with the local receive time
type Receiver = iodispatch.Receiver

// Dispatcher delivers readable socket data to receivers
type Dispatcher interface {
	Register(fd int, r Receiver) error
	Deregister(fd int)
}

// SocketOps abstracts the non-blocking TCP socket calls used by the
// connection manager.
//
// Open starts a connect and reports pending=true when it is still in
// progress. Check tests a pending socket for completion without blocking:
// done=false means not yet writable; done=true with a nil error means the
// connection is established.
type SocketOps interface {
	Open(addr netip.AddrPort) (fd int, pending bool, err error)
	Check(fd int) (done bool, err error)
	Write(fd int, b []byte) (int, error)
	Close(fd int) error
}

// Tallies counts record processing events between two polls
type Tallies struct {
	Recv       uint64 `json:"recv"`
	BadReply   uint64 `json:"bad_reply"`
	NoSync     uint64 `json:"no_sync"`
	SerialRecv uint64 `json:"serial_recv"`
	SerialUsed uint64 `json:"serial_used"`
	PulseRecv  uint64 `json:"pulse_recv"`
	PulseUsed  uint64 `json:"pulse_used"`
}

// tallyNames orders the clockstats columns
var tallyNames = []string{"recv", "breply", "nosync", "ibt_recv", "ibt_used", "pps_recv", "pps_used"}

func (t Tallies) values() []uint64 {
	return []uint64{t.Recv, t.BadReply, t.NoSync, t.SerialRecv, t.SerialUsed, t.PulseRecv, t.PulseUsed}
}
