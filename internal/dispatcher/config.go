package dispatcher

import (
	"time"
	"venue/internal/config"
)

// NoRetries disables retries when set as MemoryConfig.MaxRetries.
const NoRetries = -1

const defaultMaxRetries = 3

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize       int           // pending deliveries (default: 10000)
	Workers          int           // concurrent senders (default: 10)
	HTTPTimeout      time.Duration // per-request timeout (default: 10s)
	MaxRetries       int           // retries after the first attempt (default: 3, NoRetries for none)
	RetryInitial     time.Duration // first retry delay, doubled each attempt (default: 100ms)
	BreakerThreshold int           // consecutive failures per host before opening (default: 5)
	BreakerCooldown  time.Duration // how long a host stays open (default: 30s)
	MaxRequeues      int           // times a delivery may wait on an open breaker (default: 10)
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:       config.GetIntEnv("DISPATCHER_BUFFER_SIZE", 10000),
		Workers:          config.GetIntEnv("DISPATCHER_WORKERS", 10),
		HTTPTimeout:      config.GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", 10*time.Second),
		MaxRetries:       config.GetIntEnv("DISPATCHER_MAX_RETRIES", defaultMaxRetries),
		RetryInitial:     config.GetDurationEnv("DISPATCHER_RETRY_INITIAL", 100*time.Millisecond),
		BreakerThreshold: config.GetIntEnv("DISPATCHER_BREAKER_THRESHOLD", 5),
		BreakerCooldown:  config.GetDurationEnv("DISPATCHER_BREAKER_COOLDOWN", 30*time.Second),
		MaxRequeues:      config.GetIntEnv("DISPATCHER_MAX_REQUEUES", 10),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = NoRetries
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 100 * time.Millisecond
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.MaxRequeues <= 0 {
		c.MaxRequeues = 10
	}
	return c
}
