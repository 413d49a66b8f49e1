package gpsd

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maximewewer/gpsd-refclock/internal/lfp"
)

var testAddr = netip.MustParseAddrPort("127.0.0.1:2947")

// fakeSockets scripts the socket layer
type fakeSockets struct {
	nextFD   int
	openErr  error
	pending  bool
	done     bool
	checkErr error
	writeErr error
	short    bool

	opened []netip.AddrPort
	writes []string
	closed []int
}

func (f *fakeSockets) Open(addr netip.AddrPort) (int, bool, error) {
	f.opened = append(f.opened, addr)
	if f.openErr != nil {
		return -1, false, f.openErr
	}
	f.nextFD++
	return 100 + f.nextFD, f.pending, nil
}

func (f *fakeSockets) Check(fd int) (bool, error) {
	if f.checkErr != nil {
		return true, f.checkErr
	}
	return f.done, nil
}

func (f *fakeSockets) Write(fd int, b []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, string(b))
	if f.short {
		return len(b) / 2, nil
	}
	return len(b), nil
}

func (f *fakeSockets) Close(fd int) error {
	f.closed = append(f.closed, fd)
	return nil
}

// fakeDispatcher records registrations
type fakeDispatcher struct {
	regErr error
	regs   map[int]Receiver
	deregs []int
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{regs: make(map[int]Receiver)}
}

func (f *fakeDispatcher) Register(fd int, r Receiver) error {
	if f.regErr != nil {
		return f.regErr
	}
	f.regs[fd] = r
	return nil
}

func (f *fakeDispatcher) Deregister(fd int) {
	delete(f.regs, fd)
	f.deregs = append(f.deregs, fd)
}

// recordingPeer captures everything a clock reports
type recordingPeer struct {
	samples []Sample
	events  []Event
	pps     []bool
	stats   []Tallies
}

func (p *recordingPeer) ReportSample(s Sample) { p.samples = append(p.samples, s) }
func (p *recordingPeer) ReportEvent(e Event) { p.events = append(p.events, e) }
func (p *recordingPeer) SetPPS(on bool) { p.pps = append(p.pps, on) }

func (p *recordingPeer) ReportStats(_ string, t Tallies) {
	p.stats = append(p.stats, t)
}

func (p *recordingPeer) lastEvent() Event {
	if len(p.events) == 0 {
		return Event(-1)
	}
	return p.events[len(p.events)-1]
}

type harness struct {
	drv   *Driver
	socks *fakeSockets
	disp  *fakeDispatcher
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		socks: &fakeSockets{},
		disp:  newFakeDispatcher(),
	}
	opts = append([]Option{
		WithAddresses(testAddr),
		WithDeviceCheck(func(string) error { return nil }),
	}, opts...)
	h.drv = NewDriver(h.disp, h.socks, opts...)
	return h
}

func (h *harness) start(t *testing.T, cfg ClockConfig) (*Clock, *recordingPeer) {
	t.Helper()
	peer := &recordingPeer{}
	c, err := h.drv.Start(cfg, peer)
	require.NoError(t, err)
	return c, peer
}

// connect brings the primary clock's connection up in one tick
func (h *harness) connect(t *testing.T, c *Clock) {
	t.Helper()
	c.Timer()
	require.NotEqual(t, -1, c.u.fd, "clock should be connected")
}

// feed delivers lines as one socket read
func feed(c *Clock, rtime lfp.Timestamp, lines ...string) {
	var buf []byte
	for _, l := range lines {
		buf = append(buf, l...)
		buf = append(buf, '\n')
	}
	c.Receive(buf, rtime)
}

var errFake = errors.New("fake failure")
