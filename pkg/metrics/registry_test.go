package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/maximewewer/gpsd-refclock/pkg/testing"
)

func gatherNames(t *testing.T, reg *prometheus.Registry) map[string]bool {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	assert.NotNil(t, reg)
	assert.NotNil(t, reg.registry)
	assert.NotNil(t, reg.GetMetrics())
}

func TestRegistry_Register_Idempotent(t *testing.T) {
	reg := NewRegistry()

	assert.NoError(t, reg.Register())
	// metrics already registered
	assert.Error(t, reg.Register())
}

func TestRegistry_MustRegister_Panic(t *testing.T) {
	reg := NewRegistry()

	assert.NotPanics(t, func() {
		reg.MustRegister()
	})
	assert.Panics(t, func() {
		reg.MustRegister()
	})
}

func TestRegistry_MetricsRegistered(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register())

	m := reg.GetMetrics()
	m.OffsetSeconds.WithLabelValues("GPSD_JSON(0)").Set(0.001)
	m.BuildInfo.WithLabelValues("1.0.0", "test", "go1.24").Set(1)
	m.ClocksConfigured.Set(2)

	names := gatherNames(t, reg.GetRegistry())
	for _, expected := range []string{
		"gpsd_offset_seconds",
		"gpsd_build_info",
		"gpsd_clocks_configured",
		"gpsd_kernel_synchronized",
		"go_goroutines",
	} {
		assert.True(t, names[expected], "Expected metric %s to be registered", expected)
	}
}

func TestRegistry_MetricNamesFollowConventions(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register())

	m := reg.GetMetrics()
	m.OffsetSeconds.WithLabelValues("GPSD_JSON(0)").Set(0.001)
	m.RecordsTotal.WithLabelValues("GPSD_JSON(0)", "recv").Inc()
	m.ServerOffsetSeconds.WithLabelValues("pool.ntp.org").Set(0.002)
	m.DivergenceSeconds.WithLabelValues("pool.ntp.org", "GPSD_JSON(0)").Set(0.001)
	m.QueryDurationSeconds.WithLabelValues("pool.ntp.org").Observe(0.01)
	m.KernelStatus.WithLabelValues("synchronized").Set(1)
	m.HTTPRequestsTotal.WithLabelValues("metrics", "200").Inc()

	checked := 0
	for name := range gatherNames(t, reg.GetRegistry()) {
		if strings.HasPrefix(name, "go_") || strings.HasPrefix(name, "process_") {
			continue
		}
		testutil.ValidatePrometheusMetricName(t, name)
		checked++
	}
	assert.GreaterOrEqual(t, checked, 10)
}

func TestRegistry_MultipleInstances(t *testing.T) {
	reg1 := NewRegistry()
	reg2 := NewRegistry()

	assert.NoError(t, reg1.Register())
	assert.NoError(t, reg2.Register())
	assert.NotSame(t, reg1.GetRegistry(), reg2.GetRegistry())
}

func TestRegistryWithConfig_MetricNames(t *testing.T) {
	tests := []struct {
		namespace string
		subsystem string
		want      []string
	}{
		{"myapp", "", []string{"myapp_offset_seconds", "myapp_events_total", "myapp_crosscheck_offset_seconds"}},
		{"myapp", "refclock", []string{"myapp_refclock_offset_seconds", "myapp_refclock_events_total", "myapp_refclock_crosscheck_offset_seconds"}},
	}

	for _, tt := range tests {
		t.Run(tt.namespace+"_"+tt.subsystem, func(t *testing.T) {
			reg := NewRegistryWithConfig(tt.namespace, tt.subsystem)
			require.NoError(t, reg.Register())

			m := reg.GetMetrics()
			m.OffsetSeconds.WithLabelValues("GPSD_JSON(0)").Set(0.001)
			m.EventsTotal.WithLabelValues("GPSD_JSON(0)", "nominal").Inc()
			m.ServerOffsetSeconds.WithLabelValues("pool.ntp.org").Set(0.002)

			names := gatherNames(t, reg.GetRegistry())
			for _, name := range tt.want {
				assert.True(t, names[name], "Expected metric %s", name)
			}
		})
	}
}

func TestDriverMetrics_Types(t *testing.T) {
	m := NewDriverMetrics()

	assert.IsType(t, &prometheus.GaugeVec{}, m.OffsetSeconds)
	assert.IsType(t, &prometheus.GaugeVec{}, m.PPSQualified)
	assert.IsType(t, &prometheus.CounterVec{}, m.SamplesTotal)
	assert.IsType(t, &prometheus.CounterVec{}, m.RecordsTotal)
	assert.IsType(t, &prometheus.HistogramVec{}, m.QueryDurationSeconds)
	assert.NotNil(t, m.MemoryUsageBytes)
	assert.NotNil(t, m.GCDurationSeconds)
}

func TestDriverMetrics_CounterIncrement(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewDriverMetrics()
	registry.MustRegister(m)

	m.EventsTotal.WithLabelValues("GPSD_JSON(0)", "nominal").Inc()
	m.EventsTotal.WithLabelValues("GPSD_JSON(0)", "nominal").Inc()
	m.EventsTotal.WithLabelValues("GPSD_JSON(0)", "timeout").Inc()

	families, err := registry.Gather()
	require.NoError(t, err)

	var total float64
	found := false
	for _, mf := range families {
		if mf.GetName() != "gpsd_events_total" {
			continue
		}
		found = true
		assert.Len(t, mf.GetMetric(), 2)
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	assert.True(t, found, "Counter should be present")
	assert.Equal(t, 3.0, total)
}

func BenchmarkMetrics_SetValues(b *testing.B) {
	m := NewDriverMetrics()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.OffsetSeconds.WithLabelValues("GPSD_JSON(0)").Set(0.001)
		m.SamplesTotal.WithLabelValues("GPSD_JSON(0)").Inc()
	}
}
