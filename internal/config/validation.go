package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}

	if err := validateGPSD(&cfg.GPSD); err != nil {
		return err
	}

	if err := validateSHM(&cfg.SHM); err != nil {
		return err
	}

	if cfg.Crosscheck.Enabled {
		if err := validateCrosscheck(&cfg.Crosscheck); err != nil {
			return err
		}
	}

	if err := validateLogging(&cfg.Logging); err != nil {
		return err
	}

	if err := validateMetrics(&cfg.Metrics); err != nil {
		return err
	}

	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return errors.New("port must be between 1 and 65535, got " + strconv.Itoa(cfg.Port))
	}

	if cfg.ReadTimeout < 1*time.Second || cfg.ReadTimeout > 60*time.Second {
		return errors.New("read_timeout must be between 1s and 60s")
	}

	if cfg.WriteTimeout < 1*time.Second || cfg.WriteTimeout > 60*time.Second {
		return errors.New("write_timeout must be between 1s and 60s")
	}

	if cfg.TLSEnabled {
		if cfg.TLSCertFile == "" {
			return errors.New("tls_cert_file is required when tls_enabled is true")
		}
		if cfg.TLSKeyFile == "" {
			return errors.New("tls_key_file is required when tls_enabled is true")
		}
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst < 1) {
		return errors.New("rate_limit requires rps > 0 and burst >= 1")
	}

	return nil
}

func validateGPSD(cfg *GPSDConfig) error {
	for i, svc := range cfg.Services {
		if svc.Host == "" || svc.Port == "" {
			return fmt.Errorf("services[%d]: host and port are required", i)
		}
	}

	if cfg.PollInterval < 1*time.Second || cfg.PollInterval > 1*time.Hour {
		return errors.New("poll_interval must be between 1s and 1h")
	}

	if cfg.TickInterval < 10*time.Millisecond || cfg.TickInterval > 10*time.Second {
		return errors.New("tick_interval must be between 10ms and 10s")
	}

	if len(cfg.Units) == 0 {
		return errors.New("at least one unit must be configured")
	}

	seen := make(map[int]bool, len(cfg.Units))
	for _, u := range cfg.Units {
		if seen[u.Unit] {
			return fmt.Errorf("unit %d configured twice", u.Unit)
		}
		seen[u.Unit] = true
	}

	segments := make(map[int]int, len(cfg.Units))
	for _, u := range cfg.Units {
		if err := validateUnit(u, seen); err != nil {
			return err
		}
		if seg := u.SegmentUnit(); seg >= 0 {
			if other, dup := segments[seg]; dup {
				return fmt.Errorf("unit %d: shm_unit %d already used by unit %d", u.Unit, seg, other)
			}
			segments[seg] = u.Unit
		}
	}

	return nil
}

func validateUnit(u UnitConfig, configured map[int]bool) error {
	if u.Unit < 0 || u.Unit > 255 {
		return errors.New("unit must be between 0 and 255, got " + strconv.Itoa(u.Unit))
	}

	if u.Unit >= 128 && !configured[u.Unit-128] {
		return fmt.Errorf("unit %d: secondary unit requires primary unit %d", u.Unit, u.Unit-128)
	}

	if u.Mode < 0 || u.Mode > 3 {
		return fmt.Errorf("unit %d: mode must be between 0 and 3, got %d", u.Unit, u.Mode)
	}

	if math.Abs(u.FudgePPS) >= 1000 || math.Abs(u.FudgeSerial) >= 1000 {
		return fmt.Errorf("unit %d: fudge values must be below 1000s", u.Unit)
	}

	if seg := u.SegmentUnit(); seg < -1 || seg > 255 {
		return fmt.Errorf("unit %d: shm_unit must be between -1 and 255, got %d", u.Unit, seg)
	}

	return nil
}

func validateSHM(cfg *SHMConfig) error {
	mode, err := cfg.Mode()
	if err != nil {
		return err
	}
	if mode == 0 || mode > 0o777 {
		return fmt.Errorf("shm permissions must be between 0001 and 0777, got %#o", mode)
	}
	return nil
}

func validateCrosscheck(cfg *CrosscheckConfig) error {
	if len(cfg.Servers) == 0 {
		return errors.New("crosscheck requires at least one NTP server")
	}

	if cfg.Interval < 16*time.Second || cfg.Interval > 24*time.Hour {
		return errors.New("crosscheck interval must be between 16s and 24h")
	}

	if cfg.Timeout < 1*time.Second || cfg.Timeout > 60*time.Second {
		return errors.New("crosscheck timeout must be between 1s and 60s")
	}

	if cfg.Version < 2 || cfg.Version > 4 {
		return errors.New("ntp version must be 2, 3, or 4, got " + strconv.Itoa(cfg.Version))
	}

	if cfg.Samples < 1 || cfg.Samples > 20 {
		return errors.New("samples must be between 1 and 20, got " + strconv.Itoa(cfg.Samples))
	}

	if cfg.MaxConcurrency < 1 || cfg.MaxConcurrency > 100 {
		return errors.New("max_concurrency must be between 1 and 100, got " + strconv.Itoa(cfg.MaxConcurrency))
	}

	if cfg.RateLimit.GlobalRate <= 0 || cfg.RateLimit.PerServerRate <= 0 || cfg.RateLimit.BurstSize < 1 {
		return errors.New("rate_limit requires positive rates and burst_size >= 1")
	}

	if cfg.CircuitBreaker.FailureThreshold <= 0 || cfg.CircuitBreaker.FailureThreshold > 1 {
		return errors.New("circuit_breaker.failure_threshold must be in (0, 1]")
	}

	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLevels[cfg.Level] {
		return errors.New("invalid log level (must be trace, debug, info, warn, error, fatal, or panic)")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[cfg.Format] {
		return errors.New("invalid log format (must be json or console)")
	}

	if cfg.EnableFile && cfg.FilePath == "" {
		return errors.New("file_path is required when enable_file is true")
	}

	return nil
}

func validateMetrics(cfg *MetricsConfig) error {
	if cfg.Namespace == "" {
		return errors.New("namespace is required")
	}

	return nil
}
