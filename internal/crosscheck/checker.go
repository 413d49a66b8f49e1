package crosscheck

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/maximewewer/gpsd-refclock/internal/refclock"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
	"github.com/maximewewer/gpsd-refclock/pkg/mathutil"
	"github.com/maximewewer/gpsd-refclock/pkg/metrics"
)

// Config configures a Checker
type Config struct {
	Servers       []string
	Interval      time.Duration
	Timeout       time.Duration
	Version       int
	Samples       int
	Workers       int
	MaxDivergence time.Duration
	GlobalRate    float64
	PerServerRate float64
	BurstSize     int
	Breaker       BreakerConfig
}

// OffsetSource is a clock whose last sample offset is compared
type OffsetSource interface {
	Name() string
	LastOffset() (refclock.Offset, bool)
}

// Result is the outcome of the last check of one server
type Result struct {
	Server     string                   `json:"server"`
	Reachable  bool                     `json:"reachable"`
	Offset     time.Duration            `json:"offset_ns"`
	RTT        time.Duration            `json:"rtt_ns"`
	Stratum    uint8                    `json:"stratum"`
	Samples    int                      `json:"samples"`
	Divergence map[string]time.Duration `json:"divergence_ns,omitempty"`
	Breaker    string                   `json:"circuit_breaker"`
	Error      string                   `json:"error,omitempty"`
	At         time.Time                `json:"at"`
}

// Checker periodically compares the clocks with NTP servers
type Checker struct {
	cfg     Config
	querier *BreakerClient
	sources []OffsetSource
	metrics *metrics.DriverMetrics
	now     func() time.Time

	mu      sync.RWMutex
	results map[string]Result
}

// Option configures a Checker
type Option func(*Checker)

// WithQuerier replaces the beevik/ntp client. The circuit breakers still apply.
func WithQuerier(q Querier) Option {
	return func(c *Checker) {
		c.querier = NewBreakerClient(q, c.cfg.Breaker, c.breakerChanged)
	}
}

// WithNow replaces the wall clock used for staleness checks
func WithNow(now func() time.Time) Option {
	return func(c *Checker) {
		c.now = now
	}
}

// NewChecker creates a checker comparing sources with cfg.Servers. m may be nil.
func NewChecker(cfg Config, sources []OffsetSource, m *metrics.DriverMetrics, opts ...Option) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 64 * time.Second
	}
	if cfg.Samples <= 0 {
		cfg.Samples = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Breaker.MaxRequests == 0 {
		cfg.Breaker = DefaultBreakerConfig()
	}

	c := &Checker{
		cfg:     cfg,
		sources: sources,
		metrics: m,
		now:     time.Now,
		results: make(map[string]Result, len(cfg.Servers)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.querier == nil {
		var limiter *RateLimiter
		if cfg.GlobalRate > 0 {
			perServer := cfg.PerServerRate
			if perServer <= 0 {
				perServer = cfg.GlobalRate
			}
			limiter = NewRateLimiter(cfg.GlobalRate, perServer, cfg.BurstSize)
		}
		c.querier = NewBreakerClient(NewClient(cfg.Timeout, cfg.Version, limiter), cfg.Breaker, c.breakerChanged)
	}
	return c
}

func (c *Checker) breakerChanged(server string, to gobreaker.State) {
	if c.metrics != nil {
		c.metrics.CircuitBreakerState.WithLabelValues(server).Set(float64(to))
	}
}

// Run checks every interval until ctx is done
func (c *Checker) Run(ctx context.Context) error {
	logger.SafeInfo("crosscheck", "starting cross-check", map[string]interface{}{
		"servers":  c.cfg.Servers,
		"interval": c.cfg.Interval.String(),
	})

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		c.CheckOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// CheckOnce queries every server once and updates results and metrics
func (c *Checker) CheckOnce(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for _, server := range c.cfg.Servers {
		server := server
		g.Go(func() error {
			c.check(gctx, server)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Checker) check(ctx context.Context, server string) {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	// room for every sample and the delays between them
	qctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.Samples)*(timeout+sampleDelay))
	defer cancel()

	start := time.Now()
	responses, err := QueryMultiple(qctx, c.querier, server, c.cfg.Samples)
	elapsed := time.Since(start)

	res := Result{Server: server, At: c.now()}
	summary, ok := Summarize(responses)
	switch {
	case err != nil && !ok:
		res.Error = err.Error()
	case !ok:
		res.Error = "no usable reply"
	default:
		res.Reachable = true
		res.Offset = summary.Offset
		res.RTT = summary.RTT
		res.Stratum = summary.Stratum
		res.Samples = summary.Samples
		res.Divergence = c.divergence(server, summary.Offset)
	}
	res.Breaker = c.querier.State(server).String()

	c.mu.Lock()
	c.results[server] = res
	c.mu.Unlock()

	c.export(res, elapsed)
}

// divergence compares the server offset with every fresh clock offset.
// Both offsets are "true time minus local time".
func (c *Checker) divergence(server string, offset time.Duration) map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.sources))
	now := c.now()
	for _, src := range c.sources {
		last, ok := src.LastOffset()
		if !ok || now.Sub(last.At) > 2*c.cfg.Interval {
			continue
		}
		d := offset - last.Offset
		out[src.Name()] = d

		if c.cfg.MaxDivergence > 0 && mathutil.AbsDuration(d) > c.cfg.MaxDivergence {
			logger.SafeWarn("crosscheck", "clock diverges from NTP server", map[string]interface{}{
				"server":     server,
				"clock":      src.Name(),
				"divergence": d.String(),
				"limit":      c.cfg.MaxDivergence.String(),
			})
		}
	}
	return out
}

func (c *Checker) export(res Result, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	m := c.metrics
	m.QueryDurationSeconds.WithLabelValues(res.Server).Observe(elapsed.Seconds())
	m.CircuitBreakerState.WithLabelValues(res.Server).Set(float64(c.querier.State(res.Server)))
	if !res.Reachable {
		m.ServerReachable.WithLabelValues(res.Server).Set(0)
		return
	}
	m.ServerReachable.WithLabelValues(res.Server).Set(1)
	m.ServerOffsetSeconds.WithLabelValues(res.Server).Set(res.Offset.Seconds())
	m.ServerRTTSeconds.WithLabelValues(res.Server).Set(res.RTT.Seconds())
	m.ServerStratum.WithLabelValues(res.Server).Set(float64(res.Stratum))
	for clock, d := range res.Divergence {
		m.DivergenceSeconds.WithLabelValues(res.Server, clock).Set(d.Seconds())
	}
}

// Results returns the last result of every checked server
func (c *Checker) Results() []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Result, 0, len(c.results))
	for _, server := range c.cfg.Servers {
		if r, ok := c.results[server]; ok {
			out = append(out, r)
		}
	}
	return out
}
