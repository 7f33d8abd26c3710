// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the connector service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	CallbackURL       string        // Lifecycle notifications are disabled when empty
	CallbackKey       string
	DockerReadiness   bool // Add the Docker daemon to the readiness probe
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		CallbackURL:       GetEnv("CALLBACK_URL", ""),
		CallbackKey:       GetSecretFile(GetEnv("CALLBACK_KEY_FILE", "")),
		DockerReadiness:   GetBoolEnv("DOCKER_READINESS_CHECK", false),
	}
}
