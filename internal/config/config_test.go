package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromYamlFile_Success(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 9560

gpsd:
  services:
    - host: "gps.lan"
      port: "2947"
  poll_interval: 32s
  units:
    - unit: 1
      mode: 2
      device: "/dev/ttyACM0"
      check_device: false
      fudge_pps: 0.000125
      stats: true
    - unit: 129
      permit_pps: true
      shm_unit: -1

shm:
  permissions: "0644"

crosscheck:
  enabled: true
  servers: ["time.cloudflare.com"]
  interval: 128s

logging:
  level: "debug"

metrics:
  namespace: "gps"
`)

	cfg, err := LoadFromYamlFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, []ServiceConfig{{Host: "gps.lan", Port: "2947"}}, cfg.GPSD.Services)
	assert.Equal(t, 32*time.Second, cfg.GPSD.PollInterval)
	require.Len(t, cfg.GPSD.Units, 2)

	primary := cfg.GPSD.Units[0]
	assert.Equal(t, 1, primary.Unit)
	assert.Equal(t, 2, primary.Mode)
	assert.Equal(t, "/dev/ttyACM0", primary.Device)
	assert.False(t, primary.DeviceCheckEnabled())
	assert.InDelta(t, 0.000125, primary.FudgePPS, 1e-12)
	assert.True(t, primary.Stats)
	assert.Equal(t, 1, primary.SegmentUnit())

	secondary := cfg.GPSD.Units[1]
	assert.True(t, secondary.PermitPPS)
	assert.True(t, secondary.DeviceCheckEnabled())
	assert.Equal(t, -1, secondary.SegmentUnit())

	mode, err := cfg.SHM.Mode()
	require.NoError(t, err)
	assert.Equal(t, uint32(0o644), mode)
	assert.True(t, cfg.SHM.IsEnabled())
	assert.True(t, cfg.Metrics.KernelClockEnabled())

	assert.True(t, cfg.Crosscheck.Enabled)
	assert.Equal(t, []string{"time.cloudflare.com"}, cfg.Crosscheck.Servers)
	assert.Equal(t, 128*time.Second, cfg.Crosscheck.Interval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "gps", cfg.Metrics.Namespace)
}

func TestLoadFromYamlFile_FileNotFound(t *testing.T) {
	cfg, err := LoadFromYamlFile("/nonexistent/config.yaml")

	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadFromYamlFile_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: [\n    invalid")

	cfg, err := LoadFromYamlFile(path)

	assert.Error(t, err)
	assert.Nil(t, cfg)
	if err != nil {
		assert.Contains(t, err.Error(), "failed to parse")
	}
}

func TestLoadFromYamlFile_InvalidUnit(t *testing.T) {
	path := writeConfig(t, `
gpsd:
  units:
    - unit: 130
`)

	_, err := LoadFromYamlFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires primary unit 2")
}

func TestLoadFromYamlWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9560
gpsd:
  poll_interval: 16s
`)
	t.Setenv("GPSD_REFCLOCK_PORT", "9999")
	t.Setenv("GPSD_POLL_INTERVAL", "8s")
	t.Setenv("GPSD_SERVICES", "10.0.0.1:2947, [::1]:gpsd")
	t.Setenv("SHM_ENABLED", "false")
	t.Setenv("CROSSCHECK_ENABLED", "true")
	t.Setenv("CROSSCHECK_SERVERS", "a.example.org,b.example.org")
	t.Setenv("CROSSCHECK_INTERVAL", "300s")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("METRICS_SUBSYSTEM", "lab")
	t.Setenv("METRICS_KERNEL_CLOCK", "false")

	cfg, err := LoadFromYamlWithEnvOverrides(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 8*time.Second, cfg.GPSD.PollInterval)
	assert.Equal(t, []ServiceConfig{
		{Host: "10.0.0.1", Port: "2947"},
		{Host: "::1", Port: "gpsd"},
	}, cfg.GPSD.Services)
	assert.False(t, cfg.SHM.IsEnabled())
	assert.True(t, cfg.Crosscheck.Enabled)
	assert.Equal(t, []string{"a.example.org", "b.example.org"}, cfg.Crosscheck.Servers)
	assert.Equal(t, 300*time.Second, cfg.Crosscheck.Interval)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "lab", cfg.Metrics.Subsystem)
	assert.False(t, cfg.Metrics.KernelClockEnabled())
}

func TestLoadFromYamlWithEnvOverrides_MissingFile(t *testing.T) {
	t.Setenv("GPSD_REFCLOCK_ADDRESS", "127.0.0.1")

	cfg, err := LoadFromYamlWithEnvOverrides("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, 9560, cfg.Server.Port)
}

func TestLoadFromEnvVarsOnly(t *testing.T) {
	t.Setenv("LOG_ENABLE_FILE", "true")
	t.Setenv("LOG_FILE_PATH", "/var/log/gpsd-refclock.log")
	t.Setenv("GPSD_SERVICES", "not-a-pair")

	cfg, err := LoadFromEnvVarsOnly()
	require.NoError(t, err)
	assert.True(t, cfg.Logging.EnableFile)
	assert.Equal(t, "/var/log/gpsd-refclock.log", cfg.Logging.FilePath)
	assert.Len(t, cfg.GPSD.Services, 3)
}

func TestLoadFromEnvVarsOnly_Invalid(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")

	cfg, err := LoadFromEnvVarsOnly()
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestParseCommaSeparated(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, parseCommaSeparated(" a, b ,,c "))
	assert.Nil(t, parseCommaSeparated(" , "))
}

func TestParseServices(t *testing.T) {
	services, err := parseServices("localhost:gpsd,127.0.0.1:2947")
	require.NoError(t, err)
	assert.Equal(t, []ServiceConfig{
		{Host: "localhost", Port: "gpsd"},
		{Host: "127.0.0.1", Port: "2947"},
	}, services)

	_, err = parseServices("localhost")
	assert.Error(t, err)
}

func TestSHMConfig_Mode(t *testing.T) {
	tests := []struct {
		perm    string
		want    uint32
		wantErr bool
	}{
		{"0600", 0o600, false},
		{"0o640", 0o640, false},
		{"666", 0o666, false},
		{"0800", 0, true},
		{"rw", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.perm, func(t *testing.T) {
			mode, err := SHMConfig{Permissions: tt.perm}.Mode()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, mode)
		})
	}
}
