package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// CreateMockNTPResponse creates a valid mock NTP response for testing
func CreateMockNTPResponse(offset time.Duration, stratum uint8) *ntp.Response {
	now := time.Now()
	return &ntp.Response{
		Time:           now.Add(offset),
		ClockOffset:    offset,
		RTT:            50 * time.Millisecond,
		Precision:      time.Microsecond,
		Stratum:        stratum,
		ReferenceID:    0x47505300, // GPS
		ReferenceTime:  now.Add(-1 * time.Minute),
		RootDelay:      10 * time.Millisecond,
		RootDispersion: 5 * time.Millisecond,
		RootDistance:   15 * time.Millisecond,
		Leap:           ntp.LeapNoWarning,
		MinError:       time.Millisecond,
		Poll:           6,
	}
}

// CreateKoDResponse creates a Kiss-of-Death NTP response
func CreateKoDResponse(code string) *ntp.Response {
	resp := CreateMockNTPResponse(0, 0)
	resp.KissCode = code
	return resp
}

// TPVLine renders a gpsd TPV record with the given fix mode
func TPVLine(t time.Time, mode int, ept float64) string {
	return fmt.Sprintf(`{"class":"TPV","device":"/dev/gps0","mode":%d,"time":"%s","ept":%g}`,
		mode, t.UTC().Format("2006-01-02T15:04:05.000Z"), ept)
}

// PPSLine renders a gpsd PPS record. nano selects the nanosecond fields of
// protocol 3.9 and later.
func PPSLine(clock, real time.Time, precision int, nano bool) string {
	if nano {
		return fmt.Sprintf(`{"class":"PPS","device":"/dev/gps0","real_sec":%d,"real_nsec":%d,"clock_sec":%d,"clock_nsec":%d,"precision":%d}`,
			real.Unix(), real.Nanosecond(), clock.Unix(), clock.Nanosecond(), precision)
	}
	return fmt.Sprintf(`{"class":"PPS","device":"/dev/gps0","real_sec":%d,"real_musec":%d,"clock_sec":%d,"clock_musec":%d,"precision":%d}`,
		real.Unix(), real.Nanosecond()/1000, clock.Unix(), clock.Nanosecond()/1000, precision)
}

// TOFFLine renders a gpsd TOFF record
func TOFFLine(clock, real time.Time) string {
	return fmt.Sprintf(`{"class":"TOFF","device":"/dev/gps0","real_sec":%d,"real_nsec":%d,"clock_sec":%d,"clock_nsec":%d}`,
		real.Unix(), real.Nanosecond(), clock.Unix(), clock.Nanosecond())
}

// VersionLine renders the VERSION banner gpsd sends on connect
func VersionLine(major, minor int) string {
	return fmt.Sprintf(`{"class":"VERSION","release":"3.25","rev":"3.25","proto_major":%d,"proto_minor":%d}`, major, minor)
}

// WatchLine renders a WATCH acknowledgement for device
func WatchLine(device string, enable bool) string {
	return fmt.Sprintf(`{"class":"WATCH","enable":%t,"json":true,"nmea":false,"device":%q}`, enable, device)
}

// AssertMetricValue validates a Prometheus metric value
func AssertMetricValue(t *testing.T, registry *prometheus.Registry, metricName string, labels map[string]string, expected float64) {
	t.Helper()

	metrics, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, mf := range metrics {
		if mf.GetName() != metricName {
			continue
		}

		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				var value float64
				switch mf.GetType() {
				case dto.MetricType_GAUGE:
					value = m.GetGauge().GetValue()
				case dto.MetricType_COUNTER:
					value = m.GetCounter().GetValue()
				case dto.MetricType_HISTOGRAM:
					value = m.GetHistogram().GetSampleSum()
				default:
					t.Fatalf("Unsupported metric type: %v", mf.GetType())
				}

				if value != expected {
					t.Errorf("Metric %s with labels %v: expected %f, got %f", metricName, labels, expected, value)
				}
				return
			}
		}
	}

	t.Errorf("Metric %s with labels %v not found", metricName, labels)
}

// AssertMetricExists checks if a metric exists with given labels
func AssertMetricExists(t *testing.T, registry *prometheus.Registry, metricName string, labels map[string]string) {
	t.Helper()

	metrics, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, mf := range metrics {
		if mf.GetName() != metricName {
			continue
		}

		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return
			}
		}
	}

	t.Errorf("Metric %s with labels %v not found", metricName, labels)
}

// labelsMatch checks if metric labels match expected labels
func labelsMatch(metricLabels []*dto.LabelPair, expected map[string]string) bool {
	if len(metricLabels) != len(expected) {
		return false
	}

	for _, label := range metricLabels {
		expectedValue, exists := expected[label.GetName()]
		if !exists || expectedValue != label.GetValue() {
			return false
		}
	}

	return true
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}

		<-ticker.C
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for condition: %s", message)
		}
	}
}

// NewTestHTTPServer creates a test HTTP server for integration tests
func NewTestHTTPServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
	})

	return server
}

// ValidatePrometheusMetricName validates that a metric name follows Prometheus conventions
func ValidatePrometheusMetricName(t *testing.T, name string) {
	t.Helper()

	if len(name) == 0 {
		t.Error("Metric name cannot be empty")
	}

	// Must match regex: [a-zA-Z_:][a-zA-Z0-9_:]*
	validName := regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	if !validName.MatchString(name) {
		t.Errorf("Invalid metric name: %s (must match [a-zA-Z_:][a-zA-Z0-9_:]*)", name)
	}

	if !strings.HasPrefix(name, "gpsd_") {
		t.Errorf("Metric name %s should have the gpsd_ prefix", name)
	}

	if strings.Contains(name, "-") {
		t.Errorf("Metric name %s should use underscores, not hyphens", name)
	}
}
