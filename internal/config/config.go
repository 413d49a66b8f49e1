// Package config provides configuration loading with explicit naming
//
// Available functions:
//
//	LoadFromEnvVarsOnly()                     - Environment variables ONLY
//	                                            Use: containers without a config file
//
//	LoadFromYamlFile(path)                    - YAML file ONLY (no env overrides)
//	                                            Use: Local development, testing
//
//	LoadFromYamlWithEnvOverrides(path)        - YAML base + Environment overrides
//	                                            Priority: Env Vars > YAML > Defaults
//
// Environment variables supported:
//
//	SERVER:
//	  - GPSD_REFCLOCK_ADDRESS, GPSD_REFCLOCK_PORT
//	  - SERVER_READ_TIMEOUT, SERVER_WRITE_TIMEOUT
//	  - ENABLE_CORS, ALLOWED_ORIGINS (comma-separated)
//
//	GPSD:
//	  - GPSD_SERVICES (comma-separated host:port), GPSD_POLL_INTERVAL
//
//	SHM:
//	  - SHM_ENABLED
//
//	CROSSCHECK:
//	  - CROSSCHECK_ENABLED, CROSSCHECK_SERVERS (comma-separated), CROSSCHECK_INTERVAL
//
//	LOGGING:
//	  - LOG_LEVEL (trace|debug|info|warn|error|fatal|panic)
//	  - LOG_ENABLE_FILE, LOG_FILE_PATH
//
//	METRICS:
//	  - METRICS_NAMESPACE, METRICS_SUBSYSTEM, METRICS_KERNEL_CLOCK
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/maximewewer/gpsd-refclock/pkg/logger"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	GPSD       GPSDConfig       `yaml:"gpsd"`
	SHM        SHMConfig        `yaml:"shm"`
	Crosscheck CrosscheckConfig `yaml:"crosscheck"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Address        string              `yaml:"address"`
	Port           int                 `yaml:"port"`
	ReadTimeout    time.Duration       `yaml:"read_timeout"`
	WriteTimeout   time.Duration       `yaml:"write_timeout"`
	EnableCORS     bool                `yaml:"enable_cors"`
	AllowedOrigins []string            `yaml:"allowed_origins"`
	TLSEnabled     bool                `yaml:"tls_enabled"`
	TLSCertFile    string              `yaml:"tls_cert_file"`
	TLSKeyFile     string              `yaml:"tls_key_file"`
	RateLimit      HTTPRateLimitConfig `yaml:"rate_limit"`
}

// HTTPRateLimitConfig throttles incoming HTTP requests
type HTTPRateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// GPSDConfig configures the gpsd connection and the refclock units
type GPSDConfig struct {
	Services       []ServiceConfig `yaml:"services"`
	ResolveTimeout time.Duration   `yaml:"resolve_timeout"`
	PollInterval   time.Duration   `yaml:"poll_interval"`
	TickInterval   time.Duration   `yaml:"tick_interval"`
	Units          []UnitConfig    `yaml:"units"`
	Tuning         TuningConfig    `yaml:"tuning"`
}

// ServiceConfig is a gpsd host/port candidate. Port may be a service name.
type ServiceConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// UnitConfig configures one refclock unit
type UnitConfig struct {
	Unit          int     `yaml:"unit"`
	Mode          int     `yaml:"mode"`
	Device        string  `yaml:"device"`
	CheckDevice   *bool   `yaml:"check_device"`
	FudgePPS      float64 `yaml:"fudge_pps"`
	FudgeSerial   float64 `yaml:"fudge_serial"`
	PermitPPS     bool    `yaml:"permit_pps"`
	IgnorePPS     bool    `yaml:"ignore_pps"`
	NoLogThrottle bool    `yaml:"no_log_throttle"`
	Stats         bool    `yaml:"stats"`
	SHMUnit       *int    `yaml:"shm_unit"`
}

// DeviceCheckEnabled reports whether the device must be a character device
func (u UnitConfig) DeviceCheckEnabled() bool {
	return u.CheckDevice == nil || *u.CheckDevice
}

// SegmentUnit returns the SHM segment number, -1 when disabled. It
// defaults to the refclock unit number.
func (u UnitConfig) SegmentUnit() int {
	if u.SHMUnit == nil {
		return u.Unit
	}
	return *u.SHMUnit
}

// TuningConfig overrides the driver hysteresis constants. Zero keeps the default.
type TuningConfig struct {
	PulseCreditMax  int `yaml:"pulse_credit_max"`
	PulseCreditInc  int `yaml:"pulse_credit_inc"`
	PulseCreditDec  int `yaml:"pulse_credit_dec"`
	Pulse2CreditMax int `yaml:"pulse2_credit_max"`
	Pulse2CreditInc int `yaml:"pulse2_credit_inc"`
	TickLow         int `yaml:"tick_low"`
	TickHigh        int `yaml:"tick_high"`
	TickStep        int `yaml:"tick_step"`
	LogThrottle     int `yaml:"log_throttle"`
}

// SHMConfig configures the ntpd shared memory segments
type SHMConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	Permissions string `yaml:"permissions"`
}

// IsEnabled reports whether samples are published to shared memory
func (s SHMConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Mode parses Permissions as an octal file mode
func (s SHMConfig) Mode() (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s.Permissions, "0o"), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid shm permissions %q: %w", s.Permissions, err)
	}
	return uint32(v), nil
}

// CrosscheckConfig configures the NTP cross-check
type CrosscheckConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Servers        []string             `yaml:"servers"`
	Interval       time.Duration        `yaml:"interval"`
	Timeout        time.Duration        `yaml:"timeout"`
	Version        int                  `yaml:"version"`
	Samples        int                  `yaml:"samples"`
	MaxConcurrency int                  `yaml:"max_concurrency"`
	MaxDivergence  time.Duration        `yaml:"max_divergence"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RateLimitConfig bounds the NTP query rate
type RateLimitConfig struct {
	GlobalRate    float64 `yaml:"global_rate"`
	PerServerRate float64 `yaml:"per_server_rate"`
	BurstSize     int     `yaml:"burst_size"`
}

// CircuitBreakerConfig contains circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	EnableFile bool   `yaml:"enable_file"`
	FilePath   string `yaml:"file_path"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Namespace   string `yaml:"namespace"`
	Subsystem   string `yaml:"subsystem"`
	KernelClock *bool  `yaml:"kernel_clock"`
}

// KernelClockEnabled reports whether the kernel clock state is exported
func (m MetricsConfig) KernelClockEnabled() bool {
	return m.KernelClock == nil || *m.KernelClock
}

// LoadFromYamlFile reads configuration from a YAML file only (no env var overrides)
func LoadFromYamlFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("config", "Failed to read config file", err)
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		logger.Error("config", "Failed to parse config file", err)
		return nil, fmt.Errorf("failed to parse YAML config file %s: %w", path, err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		logger.Error("config", "Invalid configuration", err)
		return nil, fmt.Errorf("configuration validation failed for %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromYamlWithEnvOverrides loads base config from YAML, then overrides with environment variables
// Priority: Environment Variables > YAML File > Defaults
func LoadFromYamlWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadFromYamlFile(path)
	if err != nil {
		logger.Warn("config", "Failed to load YAML config file, falling back to env vars only")
		cfg = &Config{}
		ApplyDefaults(cfg)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		logger.Error("config", "Invalid configuration after env overrides", err)
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromEnvVarsOnly loads configuration from environment variables only (no YAML file)
func LoadFromEnvVarsOnly() (*Config, error) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		logger.Error("config", "Invalid configuration from environment", err)
		return nil, fmt.Errorf("environment configuration validation failed: %w", err)
	}

	return cfg, nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// applyEnvOverrides applies environment variable overrides to an existing config
func applyEnvOverrides(cfg *Config) {
	// server
	envString("GPSD_REFCLOCK_ADDRESS", &cfg.Server.Address)
	envInt("GPSD_REFCLOCK_PORT", &cfg.Server.Port)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envBool("ENABLE_CORS", &cfg.Server.EnableCORS)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = parseCommaSeparated(origins)
	}

	// gpsd
	if services := os.Getenv("GPSD_SERVICES"); services != "" {
		if parsed, err := parseServices(services); err == nil {
			cfg.GPSD.Services = parsed
		} else {
			logger.SafeWarn("config", "Ignoring GPSD_SERVICES", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	envDuration("GPSD_POLL_INTERVAL", &cfg.GPSD.PollInterval)

	// shm
	if v := os.Getenv("SHM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SHM.Enabled = &b
		}
	}

	// crosscheck
	envBool("CROSSCHECK_ENABLED", &cfg.Crosscheck.Enabled)
	if servers := os.Getenv("CROSSCHECK_SERVERS"); servers != "" {
		cfg.Crosscheck.Servers = parseCommaSeparated(servers)
	}
	envDuration("CROSSCHECK_INTERVAL", &cfg.Crosscheck.Interval)

	// logging
	envString("LOG_LEVEL", &cfg.Logging.Level)
	envBool("LOG_ENABLE_FILE", &cfg.Logging.EnableFile)
	envString("LOG_FILE_PATH", &cfg.Logging.FilePath)

	// metrics
	envString("METRICS_NAMESPACE", &cfg.Metrics.Namespace)
	envString("METRICS_SUBSYSTEM", &cfg.Metrics.Subsystem)
	if v := os.Getenv("METRICS_KERNEL_CLOCK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.KernelClock = &b
		}
	}
}

// parseCommaSeparated splits a comma-separated string, dropping empty items
func parseCommaSeparated(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseServices parses a comma-separated list of host:port pairs
func parseServices(s string) ([]ServiceConfig, error) {
	var services []ServiceConfig
	for _, item := range parseCommaSeparated(s) {
		host, port, err := net.SplitHostPort(item)
		if err != nil {
			return nil, fmt.Errorf("invalid service %q: %w", item, err)
		}
		services = append(services, ServiceConfig{Host: host, Port: port})
	}
	return services, nil
}
