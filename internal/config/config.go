// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the venue server.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	CatalogFile       string        // YAML file of operation metadata, optional
	InvokeRateLimit   float64       // Invocations per second, 0 disables limiting
	InvokeRateBurst   int
	CORSOrigins       []string
	DockerEnabled     bool
	LogLevel          string

	AdapterConcurrency       int64         // Concurrent async jobs per builtin adapter
	OrchestratorPollInterval time.Duration // How often orchestrations check their steps
	RemoteVenues             []string      // "name=url" pairs exposed as forwarding adapters
	RemoteAPIKey             string        // Bearer key sent to remote venues
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		CatalogFile:       GetEnv("CATALOG_FILE", ""),
		InvokeRateLimit:   GetFloatEnv("INVOKE_RATE_LIMIT", 0),
		InvokeRateBurst:   GetIntEnv("INVOKE_RATE_BURST", 20),
		CORSOrigins:       GetListEnv("CORS_ORIGINS"),
		DockerEnabled:     GetBoolEnv("DOCKER_ENABLED", false),
		LogLevel:          GetEnv("LOG_LEVEL", "info"),

		AdapterConcurrency:       int64(GetIntEnv("ADAPTER_CONCURRENCY", 64)),
		OrchestratorPollInterval: GetDurationEnv("ORCHESTRATOR_POLL_INTERVAL", 50*time.Millisecond),
		RemoteVenues:             GetListEnv("REMOTE_VENUES"),
		RemoteAPIKey:             GetSecretFile(GetEnv("REMOTE_API_KEY_FILE", "")),
	}
}

// ClientConfig configures the remote venue client used by the CLI.
type ClientConfig struct {
	URL          string
	APIKey       string
	PollInitial  time.Duration
	PollFactor   float64
	PollMax      time.Duration // 0 means uncapped
	FetchTimeout time.Duration
}

// LoadClientConfig loads client configuration from environment variables.
func LoadClientConfig() *ClientConfig {
	apiKey := GetEnv("VENUE_API_KEY", "")
	if apiKey == "" {
		apiKey = GetSecretFile(GetEnv("VENUE_API_KEY_FILE", ""))
	}
	return &ClientConfig{
		URL:          GetEnv("VENUE_URL", "http://localhost:8080"),
		APIKey:       apiKey,
		PollInitial:  GetDurationEnv("VENUE_POLL_INITIAL", 300*time.Millisecond),
		PollFactor:   GetFloatEnv("VENUE_POLL_FACTOR", 1.5),
		PollMax:      GetDurationEnv("VENUE_POLL_MAX", 0),
		FetchTimeout: GetDurationEnv("VENUE_FETCH_TIMEOUT", 10*time.Second),
	}
}
