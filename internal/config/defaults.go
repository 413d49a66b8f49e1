package config

import "time"

// ApplyDefaults sets default values for unspecified configuration fields
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Address == "" {
		cfg.Server.Address = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9560
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{}
	}
	if cfg.Server.RateLimit.RPS == 0 {
		cfg.Server.RateLimit.RPS = 20
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 40
	}

	// gpsd defaults
	if len(cfg.GPSD.Services) == 0 {
		cfg.GPSD.Services = []ServiceConfig{
			{Host: "localhost", Port: "gpsd"},
			{Host: "localhost", Port: "2947"},
			{Host: "127.0.0.1", Port: "2947"},
		}
	}
	if cfg.GPSD.ResolveTimeout == 0 {
		cfg.GPSD.ResolveTimeout = 10 * time.Second
	}
	if cfg.GPSD.PollInterval == 0 {
		cfg.GPSD.PollInterval = 16 * time.Second
	}
	if cfg.GPSD.TickInterval == 0 {
		cfg.GPSD.TickInterval = time.Second
	}
	if len(cfg.GPSD.Units) == 0 {
		cfg.GPSD.Units = []UnitConfig{{Unit: 0}}
	}

	// shm defaults
	if cfg.SHM.Permissions == "" {
		cfg.SHM.Permissions = "0600"
	}

	// Cross-check defaults (disabled by default)
	if len(cfg.Crosscheck.Servers) == 0 {
		cfg.Crosscheck.Servers = []string{"pool.ntp.org"}
	}
	if cfg.Crosscheck.Interval == 0 {
		cfg.Crosscheck.Interval = 64 * time.Second
	}
	if cfg.Crosscheck.Timeout == 0 {
		cfg.Crosscheck.Timeout = 5 * time.Second
	}
	if cfg.Crosscheck.Version == 0 {
		cfg.Crosscheck.Version = 4
	}
	if cfg.Crosscheck.Samples == 0 {
		cfg.Crosscheck.Samples = 3
	}
	if cfg.Crosscheck.MaxConcurrency == 0 {
		cfg.Crosscheck.MaxConcurrency = 4
	}
	if cfg.Crosscheck.MaxDivergence == 0 {
		cfg.Crosscheck.MaxDivergence = 50 * time.Millisecond
	}
	if cfg.Crosscheck.RateLimit.GlobalRate == 0 {
		cfg.Crosscheck.RateLimit.GlobalRate = 10
	}
	if cfg.Crosscheck.RateLimit.PerServerRate == 0 {
		cfg.Crosscheck.RateLimit.PerServerRate = 1
	}
	if cfg.Crosscheck.RateLimit.BurstSize == 0 {
		cfg.Crosscheck.RateLimit.BurstSize = 3
	}
	if cfg.Crosscheck.CircuitBreaker.MaxRequests == 0 {
		cfg.Crosscheck.CircuitBreaker.MaxRequests = 3
	}
	if cfg.Crosscheck.CircuitBreaker.Interval == 0 {
		cfg.Crosscheck.CircuitBreaker.Interval = 60 * time.Second
	}
	if cfg.Crosscheck.CircuitBreaker.Timeout == 0 {
		cfg.Crosscheck.CircuitBreaker.Timeout = 30 * time.Second
	}
	if cfg.Crosscheck.CircuitBreaker.FailureThreshold == 0 {
		cfg.Crosscheck.CircuitBreaker.FailureThreshold = 0.6
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	// Metrics defaults
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "gpsd"
	}
}

// DefaultConfig returns a configuration with all defaults applied
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
