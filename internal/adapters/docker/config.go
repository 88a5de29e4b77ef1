package docker

import (
	"time"
	"venue/internal/config"
)

// LoadConfigFromEnv loads adapter configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Concurrency:    int64(config.GetIntEnv("DOCKER_CONCURRENCY", 8)),
		DefaultTimeout: config.GetDurationEnv("DOCKER_DEFAULT_TIMEOUT", 10*time.Minute),
		ExtraHosts:     config.GetListEnv("DOCKER_EXTRA_HOSTS"),
		CPU:            config.GetFloatEnv("DOCKER_CPU", 0),
		MemoryMB:       int64(config.GetIntEnv("DOCKER_MEMORY_MB", 0)),
	}
}
