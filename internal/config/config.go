// Package config resolves the core runtime knobs from environment variables.
// All variables use the TASKFACTORY_ prefix; unset variables fall back to the
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variable names (without prefix).
const (
	envBreakerThreshold   = "EXECUTION_BREAKER_THRESHOLD"
	envBreakerBurstWindow = "EXECUTION_BREAKER_BURST_WINDOW_MS"
	envBreakerCooldown    = "EXECUTION_BREAKER_COOLDOWN_MS"
	envLeaseTTL           = "EXECUTION_LEASE_TTL_MS"
	envLeaseHeartbeat     = "EXECUTION_LEASE_HEARTBEAT_MS"
	envLeasesEnabled      = "EXECUTION_LEASES_ENABLED"
	envLogLevel           = "LOG_LEVEL"
)

// Prefix is prepended to every environment variable name.
const Prefix = "TASKFACTORY_"

// Config holds the orchestration core's runtime configuration.
type Config struct {
	// BreakerThreshold is the number of classified failures inside the burst
	// window that opens a breaker.
	BreakerThreshold int

	// BreakerBurstWindow bounds how long classified failures stay counted.
	BreakerBurstWindow time.Duration

	// BreakerCooldown is how long an open breaker blocks dispatch.
	BreakerCooldown time.Duration

	// LeaseTTL is how long an un-heartbeated lease stays fresh.
	LeaseTTL time.Duration

	// LeaseHeartbeat is the heartbeat cadence; clamped to max(5s, TTL/3).
	LeaseHeartbeat time.Duration

	// LeasesEnabled toggles lease writing. Default on outside tests.
	LeasesEnabled bool

	// SafetyPollInterval re-enters the queue kick loop as a backstop.
	SafetyPollInterval time.Duration

	// LogLevel is the console logger's minimum level.
	LogLevel string
}

// Default returns the built-in configuration.
func Default() *Config {
	ttl := 120 * time.Second
	return &Config{
		BreakerThreshold:   3,
		BreakerBurstWindow: 120 * time.Second,
		BreakerCooldown:    300 * time.Second,
		LeaseTTL:           ttl,
		LeaseHeartbeat:     heartbeatFor(ttl),
		LeasesEnabled:      true,
		SafetyPollInterval: 30 * time.Second,
		LogLevel:           "info",
	}
}

// heartbeatFor computes the heartbeat cadence: max(5s, ttl/3).
func heartbeatFor(ttl time.Duration) time.Duration {
	hb := ttl / 3
	if hb < 5*time.Second {
		hb = 5 * time.Second
	}
	return hb
}

// FromEnv returns the default configuration with environment overrides
// applied. Malformed values are reported, not silently ignored.
func FromEnv() (*Config, error) {
	cfg := Default()

	if v, err := intFromEnv(envBreakerThreshold); err != nil {
		return nil, err
	} else if v != nil {
		cfg.BreakerThreshold = *v
	}
	if d, err := millisFromEnv(envBreakerBurstWindow); err != nil {
		return nil, err
	} else if d != nil {
		cfg.BreakerBurstWindow = *d
	}
	if d, err := millisFromEnv(envBreakerCooldown); err != nil {
		return nil, err
	} else if d != nil {
		cfg.BreakerCooldown = *d
	}
	if d, err := millisFromEnv(envLeaseTTL); err != nil {
		return nil, err
	} else if d != nil {
		cfg.LeaseTTL = *d
		cfg.LeaseHeartbeat = heartbeatFor(*d)
	}
	if d, err := millisFromEnv(envLeaseHeartbeat); err != nil {
		return nil, err
	} else if d != nil {
		cfg.LeaseHeartbeat = *d
	}
	if raw, ok := os.LookupEnv(Prefix + envLeasesEnabled); ok {
		cfg.LeasesEnabled = raw != "0"
	}
	if raw, ok := os.LookupEnv(Prefix + envLogLevel); ok {
		cfg.LogLevel = raw
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the queue and breaker cannot operate with.
func (c *Config) Validate() error {
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("breaker threshold must be >= 1, got %d", c.BreakerThreshold)
	}
	if c.BreakerBurstWindow <= 0 {
		return fmt.Errorf("breaker burst window must be positive, got %v", c.BreakerBurstWindow)
	}
	if c.BreakerCooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive, got %v", c.BreakerCooldown)
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("lease TTL must be positive, got %v", c.LeaseTTL)
	}
	if c.LeaseHeartbeat <= 0 {
		return fmt.Errorf("lease heartbeat must be positive, got %v", c.LeaseHeartbeat)
	}
	return nil
}

func intFromEnv(name string) (*int, error) {
	raw, ok := os.LookupEnv(Prefix + name)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s%s=%q: %w", Prefix, name, raw, err)
	}
	return &v, nil
}

func millisFromEnv(name string) (*time.Duration, error) {
	v, err := intFromEnv(name)
	if err != nil || v == nil {
		return nil, err
	}
	d := time.Duration(*v) * time.Millisecond
	return &d, nil
}
