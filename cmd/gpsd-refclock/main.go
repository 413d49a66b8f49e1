package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maximewewer/gpsd-refclock/internal/config"
	"github.com/maximewewer/gpsd-refclock/internal/crosscheck"
	"github.com/maximewewer/gpsd-refclock/internal/gpsd"
	"github.com/maximewewer/gpsd-refclock/internal/iodispatch"
	"github.com/maximewewer/gpsd-refclock/internal/kernelclock"
	"github.com/maximewewer/gpsd-refclock/internal/refclock"
	"github.com/maximewewer/gpsd-refclock/internal/server"
	"github.com/maximewewer/gpsd-refclock/internal/shm"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
	"github.com/maximewewer/gpsd-refclock/pkg/metrics"
)

var (
	// Build information
	version = "dev"
	commit  = ""
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		println("gpsd-refclock version", version)
		os.Exit(0)
	}

	// Load configuration (before logger is initialized)
	cfg, err := loadConfig(*configFile)
	if err != nil {
		os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitLogger(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		Component:  "gpsd-refclock",
		EnableFile: cfg.Logging.EnableFile,
	}); err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Startup(version, commit, map[string]interface{}{
		"go_version": runtime.Version(),
		"config":     cfg,
	})

	registry := metrics.NewRegistryWithConfig(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	if err := registry.Register(); err != nil {
		logger.Fatal("main", "Failed to register metrics", err)
	}
	registry.GetMetrics().BuildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, registry)
	if err != nil {
		logger.Fatal("main", "Failed to start refclocks", err)
	}

	if err := a.run(ctx); err != nil {
		logger.Error("main", "Stopped on error", err)
		logger.Shutdown("error")
		os.Exit(1)
	}
	logger.Shutdown("graceful")
}

// loadConfig loads configuration based on whether a config file is specified
func loadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromYamlWithEnvOverrides(configFile)
	}
	return config.LoadFromEnvVarsOnly()
}

// app wires the dispatcher, the driver and its consumers
type app struct {
	cfg      *config.Config
	registry *metrics.Registry
	loop     *iodispatch.Loop
	drv      *gpsd.Driver
	feed     *refclock.Feed
	peers    []*refclock.Peer
	writers  []*shm.Writer
	checker  *crosscheck.Checker
	server   *server.Server

	ticks     int
	pollEvery int
	kernel    bool
}

// newApp resolves gpsd and starts every configured clock. Nothing runs
// until run is called.
func newApp(ctx context.Context, cfg *config.Config, registry *metrics.Registry) (*app, error) {
	m := registry.GetMetrics()

	loop, err := iodispatch.New(iodispatch.WithTickInterval(cfg.GPSD.TickInterval))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	a := &app{
		cfg:       cfg,
		registry:  registry,
		loop:      loop,
		drv:       gpsd.NewDriver(loop, gpsd.NewSocketOps(), gpsd.WithTuning(tuning(cfg.GPSD.Tuning))),
		feed:      refclock.NewFeed(),
		pollEvery: pollTicks(cfg.GPSD.PollInterval, cfg.GPSD.TickInterval),
		kernel:    cfg.Metrics.KernelClockEnabled(),
	}
	a.drv.Init(ctx, gpsd.NewResolver(cfg.GPSD.ResolveTimeout), services(cfg.GPSD.Services))

	started := make(map[int]bool, len(cfg.GPSD.Units))
	for _, u := range primariesFirst(cfg.GPSD.Units) {
		cc := clockConfig(u)
		if cc.Secondary() && !started[u.Unit&0x7F] {
			logger.SafeWarn("main", "Skipping secondary unit without a running primary", map[string]interface{}{
				"unit": u.Unit,
			})
			continue
		}

		opts := []refclock.PeerOption{refclock.WithMetrics(m), refclock.WithFeed(a.feed)}
		w := a.openSegment(u)
		if w != nil {
			opts = append(opts, refclock.WithStore(w))
		}
		peer := refclock.NewPeer(cc.Name(), opts...)

		if _, err := a.drv.Start(cc, peer); err != nil {
			if w != nil {
				if cerr := w.Close(); cerr != nil {
					logger.Error("main", "Failed to detach shared memory", cerr)
				}
			}
			if errors.Is(err, gpsd.ErrUnitInUse) {
				a.close()
				return nil, err
			}
			logger.SafeError("main", "Refclock unit not started", err, map[string]interface{}{
				"unit": u.Unit,
			})
			continue
		}
		started[u.Unit] = true
		a.peers = append(a.peers, peer)
		if w != nil {
			a.writers = append(a.writers, w)
		}
	}
	if len(a.peers) == 0 {
		logger.Warn("main", "No refclock unit running")
	}
	m.ClocksConfigured.Set(float64(len(a.peers)))

	loop.OnTick(a.tick)

	if cfg.Crosscheck.Enabled {
		sources := make([]crosscheck.OffsetSource, len(a.peers))
		for i, p := range a.peers {
			sources[i] = p
		}
		a.checker = crosscheck.NewChecker(crosscheckConfig(cfg.Crosscheck), sources, m)
	}

	opts := []server.Option{
		server.WithStatus(server.StatusFunc(a.clockStatus)),
		server.WithFeed(a.feed),
	}
	if a.checker != nil {
		opts = append(opts, server.WithCrosscheck(a.checker))
	}
	a.server = server.New(cfg, registry.GetRegistry(), m, opts...)

	return a, nil
}

// openSegment attaches the SHM segment of u. Failures leave the clock
// without shared memory output.
func (a *app) openSegment(u config.UnitConfig) *shm.Writer {
	seg := u.SegmentUnit()
	if !a.cfg.SHM.IsEnabled() || seg < 0 {
		return nil
	}
	perm, err := a.cfg.SHM.Mode()
	if err != nil {
		logger.Error("main", "Invalid shm permissions", err)
		return nil
	}
	w, err := shm.Open(shm.Config{Unit: seg, Permissions: perm})
	if err != nil {
		logger.SafeWarn("main", "Shared memory output disabled", map[string]interface{}{
			"unit":     u.Unit,
			"shm_unit": seg,
			"error":    err.Error(),
		})
		return nil
	}
	return w
}

// tick runs on the dispatcher goroutine
func (a *app) tick() {
	a.drv.Tick()
	a.ticks++
	if a.ticks%a.pollEvery == 0 {
		a.drv.PollAll()
		a.exportStatus()
		a.exportKernel()
	}
}

// exportKernel publishes the kernel clock state. The first failure turns
// the export off.
func (a *app) exportKernel() {
	if !a.kernel {
		return
	}
	st, err := kernelclock.Read()
	if err != nil {
		a.kernel = false
		logger.SafeWarn("main", "Kernel clock state unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	kernelclock.Export(a.registry.GetMetrics(), st)
}

// exportStatus runs on the dispatcher goroutine
func (a *app) exportStatus() {
	m := a.registry.GetMetrics()
	for _, c := range a.drv.Clocks() {
		st := c.Status()
		connected := 0.0
		if st.Connected {
			connected = 1
		}
		m.Connected.WithLabelValues(st.Name).Set(connected)
		if !st.Secondary {
			m.CreditValue.WithLabelValues(st.Name).Set(float64(st.Credit))
		}
	}
}

func (a *app) clockStatus(ctx context.Context) ([]gpsd.Status, error) {
	var out []gpsd.Status
	err := a.loop.Do(ctx, func() {
		for _, c := range a.drv.Clocks() {
			out = append(out, c.Status())
		}
	})
	return out, err
}

// run serves until ctx is done or a component fails
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.loop.Run(gctx)
	})
	g.Go(func() error {
		return a.server.Start(gctx)
	})
	if a.checker != nil {
		g.Go(func() error {
			return a.checker.Run(gctx)
		})
	}

	err := g.Wait()
	a.close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// close shuts the clocks down once the dispatcher has stopped
func (a *app) close() {
	a.drv.Close()
	for _, w := range a.writers {
		if err := w.Close(); err != nil {
			logger.Error("main", "Failed to detach shared memory", err)
		}
	}
	a.writers = nil
	if err := a.loop.Close(); err != nil {
		logger.Error("main", "Failed to close dispatcher", err)
	}
}

// primariesFirst orders units so every primary starts before any secondary
func primariesFirst(units []config.UnitConfig) []config.UnitConfig {
	out := make([]config.UnitConfig, 0, len(units))
	for _, u := range units {
		if u.Unit < 128 {
			out = append(out, u)
		}
	}
	for _, u := range units {
		if u.Unit >= 128 {
			out = append(out, u)
		}
	}
	return out
}

func pollTicks(poll, tick time.Duration) int {
	if tick <= 0 {
		return 1
	}
	n := int(poll / tick)
	if n < 1 {
		n = 1
	}
	return n
}

func clockConfig(u config.UnitConfig) gpsd.ClockConfig {
	return gpsd.ClockConfig{
		Unit:          u.Unit,
		Mode:          u.Mode,
		Device:        u.Device,
		CheckDevice:   u.DeviceCheckEnabled(),
		FudgePPS:      u.FudgePPS,
		FudgeSerial:   u.FudgeSerial,
		PermitPPS:     u.PermitPPS,
		IgnorePPS:     u.IgnorePPS,
		NoLogThrottle: u.NoLogThrottle,
		Stats:         u.Stats,
	}
}

func services(cfgs []config.ServiceConfig) []gpsd.Service {
	out := make([]gpsd.Service, len(cfgs))
	for i, s := range cfgs {
		out[i] = gpsd.Service{Host: s.Host, Port: s.Port}
	}
	return out
}

func tuning(t config.TuningConfig) gpsd.Tuning {
	out := gpsd.DefaultTuning()
	override := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	override(&out.PulseCreditMax, t.PulseCreditMax)
	override(&out.PulseCreditInc, t.PulseCreditInc)
	override(&out.PulseCreditDec, t.PulseCreditDec)
	override(&out.Pulse2CreditMax, t.Pulse2CreditMax)
	override(&out.Pulse2CreditInc, t.Pulse2CreditInc)
	override(&out.TickLow, t.TickLow)
	override(&out.TickHigh, t.TickHigh)
	override(&out.TickStep, t.TickStep)
	override(&out.LogThrottle, t.LogThrottle)
	return out
}

func crosscheckConfig(c config.CrosscheckConfig) crosscheck.Config {
	return crosscheck.Config{
		Servers:       c.Servers,
		Interval:      c.Interval,
		Timeout:       c.Timeout,
		Version:       c.Version,
		Samples:       c.Samples,
		Workers:       c.MaxConcurrency,
		MaxDivergence: c.MaxDivergence,
		GlobalRate:    c.RateLimit.GlobalRate,
		PerServerRate: c.RateLimit.PerServerRate,
		BurstSize:     c.RateLimit.BurstSize,
		Breaker: crosscheck.BreakerConfig{
			MaxRequests:      c.CircuitBreaker.MaxRequests,
			Interval:         c.CircuitBreaker.Interval,
			Timeout:          c.CircuitBreaker.Timeout,
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
		},
	}
}
