// Package refclock holds the consumer side of the gpsd clocks: it turns
// samples and events into shared memory updates, metrics and a live feed.
package refclock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclesh/welford"
	"github.com/rs/zerolog"

	"github.com/maximewewer/gpsd-refclock/internal/gpsd"
	"github.com/maximewewer/gpsd-refclock/internal/shm"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
	"github.com/maximewewer/gpsd-refclock/pkg/metrics"
)

// SampleStore receives finished samples, typically an attached SHM segment
type SampleStore interface {
	Store(shm.Sample) error
}

// Offset is the most recent sample offset of a clock
type Offset struct {
	Clock     string
	Offset    time.Duration
	Precision int
	At        time.Time
}

// Peer implements gpsd.Peer and gpsd.StatsObserver for one clock
type Peer struct {
	name    string
	store   SampleStore
	metrics *metrics.DriverMetrics
	feed    *Feed
	now     func() time.Time

	mu    sync.Mutex
	stats *welford.Stats
	n     int

	last    atomic.Pointer[Offset]
	pps     atomic.Bool
	samples atomic.Uint64
}

var (
	_ gpsd.Peer          = (*Peer)(nil)
	_ gpsd.StatsObserver = (*Peer)(nil)
)

// PeerOption configures a Peer
type PeerOption func(*Peer)

// WithStore publishes samples to s
func WithStore(s SampleStore) PeerOption {
	return func(p *Peer) {
		p.store = s
	}
}

// WithMetrics exports samples and events through m
func WithMetrics(m *metrics.DriverMetrics) PeerOption {
	return func(p *Peer) {
		p.metrics = m
	}
}

// WithFeed publishes samples and events to f
func WithFeed(f *Feed) PeerOption {
	return func(p *Peer) {
		p.feed = f
	}
}

// WithClock replaces the wall clock used to stamp events
func WithClock(now func() time.Time) PeerOption {
	return func(p *Peer) {
		p.now = now
	}
}

// NewPeer creates the peer of the clock called name
func NewPeer(name string, opts ...PeerOption) *Peer {
	p := &Peer{
		name:  name,
		now:   time.Now,
		stats: welford.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the clock name
func (p *Peer) Name() string {
	return p.name
}

// ReportSample implements gpsd.Peer
func (p *Peer) ReportSample(s gpsd.Sample) {
	offset := s.Offset()
	seconds := offset.Float()
	ref := s.Reference.Time()
	recv := s.Receive.Time()

	p.mu.Lock()
	p.stats.Add(seconds)
	p.n++
	p.mu.Unlock()

	p.samples.Add(1)
	p.last.Store(&Offset{
		Clock:     p.name,
		Offset:    offset.Std(),
		Precision: s.Precision,
		At:        p.now(),
	})

	if p.store != nil {
		err := p.store.Store(shm.Sample{
			Clock:     ref,
			Receive:   recv,
			Precision: s.Precision,
			Leap:      shm.LeapNone,
		})
		p.countStore(err)
	}

	if p.metrics != nil {
		p.metrics.OffsetSeconds.WithLabelValues(p.name).Set(seconds)
		p.metrics.PrecisionLog2.WithLabelValues(p.name).Set(float64(s.Precision))
		p.metrics.SamplesTotal.WithLabelValues(p.name).Inc()
		p.metrics.LastSampleUnixTime.WithLabelValues(p.name).Set(float64(ref.UnixNano()) / 1e9)
	}

	p.feed.Publish(FeedEvent{
		Event: "sample",
		Clock: p.name,
		Time:  p.now(),
		Data: SampleData{
			Reference:     ref,
			Receive:       recv,
			OffsetSeconds: seconds,
			Precision:     s.Precision,
		},
	})
}

func (p *Peer) countStore(err error) {
	result := "ok"
	if err != nil {
		result = "error"
		logger.Refclock(zerolog.WarnLevel, p.name, "failed to store sample", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if p.metrics != nil {
		p.metrics.SHMWritesTotal.WithLabelValues(p.name, result).Inc()
	}
}

// ReportEvent implements gpsd.Peer
func (p *Peer) ReportEvent(e gpsd.Event) {
	if p.metrics != nil {
		p.metrics.EventsTotal.WithLabelValues(p.name, e.String()).Inc()
	}
	if e != gpsd.EventNominal {
		logger.Refclock(zerolog.DebugLevel, p.name, "clock event", map[string]interface{}{
			"event": e.String(),
		})
	}
	p.feed.Publish(FeedEvent{Event: e.String(), Clock: p.name, Time: p.now()})
}

// SetPPS implements gpsd.Peer
func (p *Peer) SetPPS(on bool) {
	p.pps.Store(on)
	if p.metrics != nil {
		v := 0.0
		if on {
			v = 1
		}
		p.metrics.PPSQualified.WithLabelValues(p.name).Set(v)
	}
	p.feed.Publish(FeedEvent{Event: "pps", Clock: p.name, Time: p.now(), Data: on})
}

// ReportStats implements gpsd.StatsObserver. It exports the tallies and
// the offset statistics of the poll interval, then starts a new interval.
func (p *Peer) ReportStats(name string, t gpsd.Tallies) {
	p.mu.Lock()
	n, mean, stddev := p.n, p.stats.Mean(), 0.0
	if n > 1 {
		stddev = p.stats.Stddev()
	}
	p.stats = welford.New()
	p.n = 0
	p.mu.Unlock()

	if p.metrics == nil {
		return
	}
	for kind, v := range map[string]uint64{
		"recv":        t.Recv,
		"bad_reply":   t.BadReply,
		"no_sync":     t.NoSync,
		"serial_recv": t.SerialRecv,
		"serial_used": t.SerialUsed,
		"pulse_recv":  t.PulseRecv,
		"pulse_used":  t.PulseUsed,
	} {
		if v > 0 {
			p.metrics.RecordsTotal.WithLabelValues(name, kind).Add(float64(v))
		}
	}
	if n > 0 {
		p.metrics.OffsetMeanSeconds.WithLabelValues(name).Set(mean)
		p.metrics.OffsetStddev.WithLabelValues(name).Set(stddev)
	}
}

// LastOffset returns the most recent sample offset
func (p *Peer) LastOffset() (Offset, bool) {
	o := p.last.Load()
	if o == nil {
		return Offset{}, false
	}
	return *o, true
}

// PPS reports whether the clock is PPS qualified
func (p *Peer) PPS() bool {
	return p.pps.Load()
}

// Samples returns the number of samples reported so far
func (p *Peer) Samples() uint64 {
	return p.samples.Load()
}
