package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DriverMetrics encapsulates all gpsd refclock metrics
type DriverMetrics struct {
	// Refclock metrics (label: clock)
	OffsetSeconds      *prometheus.GaugeVec
	OffsetMeanSeconds  *prometheus.GaugeVec
	OffsetStddev       *prometheus.GaugeVec
	PrecisionLog2      *prometheus.GaugeVec
	PPSQualified       *prometheus.GaugeVec
	Connected          *prometheus.GaugeVec
	CreditValue        *prometheus.GaugeVec
	SamplesTotal       *prometheus.CounterVec
	EventsTotal        *prometheus.CounterVec
	RecordsTotal       *prometheus.CounterVec
	SHMWritesTotal     *prometheus.CounterVec
	LastSampleUnixTime *prometheus.GaugeVec

	// Cross-check metrics (label: server)
	ServerOffsetSeconds  *prometheus.GaugeVec
	ServerRTTSeconds     *prometheus.GaugeVec
	ServerStratum        *prometheus.GaugeVec
	ServerReachable      *prometheus.GaugeVec
	DivergenceSeconds    *prometheus.GaugeVec
	CircuitBreakerState  *prometheus.GaugeVec
	QueryDurationSeconds *prometheus.HistogramVec

	// Kernel clock discipline metrics
	KernelSynchronized    prometheus.Gauge
	KernelOffsetSeconds   prometheus.Gauge
	KernelFrequencyPPM    prometheus.Gauge
	KernelMaxErrorSeconds prometheus.Gauge
	KernelEstErrorSeconds prometheus.Gauge
	KernelPPSSignal       prometheus.Gauge
	KernelStatus          *prometheus.GaugeVec

	// Process metrics
	BuildInfo         *prometheus.GaugeVec
	ClocksConfigured  prometheus.Gauge
	MemoryUsageBytes  prometheus.Gauge
	GoroutinesCount   prometheus.Gauge
	GCDurationSeconds prometheus.Summary
	HTTPRequestsTotal *prometheus.CounterVec
	WebsocketClients  prometheus.Gauge
}

func gaugeVec(namespace, subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func gauge(namespace, subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
	)
}

func counterVec(namespace, subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewDriverMetricsWithConfig creates all metrics with a custom namespace and subsystem
func NewDriverMetricsWithConfig(namespace, subsystem string) *DriverMetrics {
	return &DriverMetrics{
		OffsetSeconds: gaugeVec(namespace, subsystem, "offset_seconds",
			"Offset of the last sample (reference minus receive time) in seconds", "clock"),
		OffsetMeanSeconds: gaugeVec(namespace, subsystem, "offset_mean_seconds",
			"Mean sample offset over the last poll interval in seconds", "clock"),
		OffsetStddev: gaugeVec(namespace, subsystem, "offset_stddev_seconds",
			"Standard deviation of the sample offset over the last poll interval in seconds", "clock"),
		PrecisionLog2: gaugeVec(namespace, subsystem, "precision_log2",
			"Precision exponent of the last sample (log2 seconds)", "clock"),
		PPSQualified: gaugeVec(namespace, subsystem, "pps_qualified",
			"Whether the clock is marked as PPS qualified (1) or not (0)", "clock"),
		Connected: gaugeVec(namespace, subsystem, "connected",
			"Whether the unit is connected to gpsd (1) or not (0)", "clock"),
		CreditValue: gaugeVec(namespace, subsystem, "pulse_credit",
			"Current pulse credit of the unit", "clock"),
		SamplesTotal: counterVec(namespace, subsystem, "samples_total",
			"Samples handed to the clock filter", "clock"),
		EventsTotal: counterVec(namespace, subsystem, "events_total",
			"Clock status events by type", "clock", "event"),
		RecordsTotal: counterVec(namespace, subsystem, "records_total",
			"gpsd records processed by outcome", "clock", "kind"),
		SHMWritesTotal: counterVec(namespace, subsystem, "shm_writes_total",
			"Samples stored into the shared memory segment by result", "clock", "result"),
		LastSampleUnixTime: gaugeVec(namespace, subsystem, "last_sample_timestamp_seconds",
			"Reference time of the last sample in Unix seconds", "clock"),

		ServerOffsetSeconds: gaugeVec(namespace, subsystem, "crosscheck_offset_seconds",
			"Offset between the local clock and the NTP server in seconds", "server"),
		ServerRTTSeconds: gaugeVec(namespace, subsystem, "crosscheck_rtt_seconds",
			"Round-trip time to the NTP server in seconds", "server"),
		ServerStratum: gaugeVec(namespace, subsystem, "crosscheck_stratum",
			"NTP server stratum level (0-16)", "server"),
		ServerReachable: gaugeVec(namespace, subsystem, "crosscheck_reachable",
			"Whether the NTP server is reachable (1) or not (0)", "server"),
		DivergenceSeconds: gaugeVec(namespace, subsystem, "crosscheck_divergence_seconds",
			"NTP server offset minus the refclock offset in seconds", "server", "clock"),
		CircuitBreakerState: gaugeVec(namespace, subsystem, "crosscheck_circuit_state",
			"Circuit breaker state (0=closed, 1=half-open, 2=open)", "server"),
		QueryDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "crosscheck_query_duration_seconds",
				Help:      "Duration of NTP cross-check queries in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"server"},
		),

		KernelSynchronized: gauge(namespace, subsystem, "kernel_synchronized",
			"Whether the kernel clock is synchronized (1) or not (0)"),
		KernelOffsetSeconds: gauge(namespace, subsystem, "kernel_offset_seconds",
			"Kernel PLL time offset in seconds"),
		KernelFrequencyPPM: gauge(namespace, subsystem, "kernel_frequency_ppm",
			"Kernel clock frequency offset in PPM"),
		KernelMaxErrorSeconds: gauge(namespace, subsystem, "kernel_max_error_seconds",
			"Kernel maximum error estimate in seconds"),
		KernelEstErrorSeconds: gauge(namespace, subsystem, "kernel_est_error_seconds",
			"Kernel estimated error in seconds"),
		KernelPPSSignal: gauge(namespace, subsystem, "kernel_pps_signal",
			"Whether the kernel sees a PPS signal (1) or not (0)"),
		KernelStatus: gaugeVec(namespace, subsystem, "kernel_status",
			"Kernel clock state, 1 for the current state", "state"),

		BuildInfo: gaugeVec(namespace, subsystem, "build_info",
			"Build information", "version", "commit", "go_version"),
		ClocksConfigured: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "clocks_configured",
				Help:      "Number of running refclocks",
			},
		),
		MemoryUsageBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Allocated heap memory in bytes",
			},
		),
		GoroutinesCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "goroutines",
				Help:      "Number of goroutines",
			},
		),
		GCDurationSeconds: prometheus.NewSummary(
			prometheus.SummaryOpts{
				Namespace:  namespace,
				Subsystem:  subsystem,
				Name:       "gc_duration_seconds",
				Help:       "Last observed GC pause in seconds",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
		),
		HTTPRequestsTotal: counterVec(namespace, subsystem, "http_requests_total",
			"HTTP requests by route and status code", "route", "code"),
		WebsocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "websocket_clients",
				Help:      "Connected sample feed clients",
			},
		),
	}
}

// NewDriverMetrics creates all metrics with the default namespace "gpsd"
func NewDriverMetrics() *DriverMetrics {
	return NewDriverMetricsWithConfig("gpsd", "")
}

// getAllMetrics returns all metric collectors
func (m *DriverMetrics) getAllMetrics() []prometheus.Collector {
	return []prometheus.Collector{
		// Refclock metrics
		m.OffsetSeconds,
		m.OffsetMeanSeconds,
		m.OffsetStddev,
		m.PrecisionLog2,
		m.PPSQualified,
		m.Connected,
		m.CreditValue,
		m.SamplesTotal,
		m.EventsTotal,
		m.RecordsTotal,
		m.SHMWritesTotal,
		m.LastSampleUnixTime,

		// Cross-check metrics
		m.ServerOffsetSeconds,
		m.ServerRTTSeconds,
		m.ServerStratum,
		m.ServerReachable,
		m.DivergenceSeconds,
		m.CircuitBreakerState,
		m.QueryDurationSeconds,

		// Kernel clock metrics
		m.KernelSynchronized,
		m.KernelOffsetSeconds,
		m.KernelFrequencyPPM,
		m.KernelMaxErrorSeconds,
		m.KernelEstErrorSeconds,
		m.KernelPPSSignal,
		m.KernelStatus,

		// Process metrics
		m.BuildInfo,
		m.ClocksConfigured,
		m.MemoryUsageBytes,
		m.GoroutinesCount,
		m.GCDurationSeconds,
		m.HTTPRequestsTotal,
		m.WebsocketClients,
	}
}

// Describe implements prometheus.Collector interface
func (m *DriverMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range m.getAllMetrics() {
		metric.Describe(ch)
	}
}

// Collect implements prometheus.Collector interface
func (m *DriverMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, metric := range m.getAllMetrics() {
		metric.Collect(ch)
	}
}
