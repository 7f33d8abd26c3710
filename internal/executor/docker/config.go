package docker

import (
	"strings"

	"azflow/internal/config"
	"azflow/internal/connector/batch"
)

// Config holds configuration for the docker executor.
type Config struct {
	Image      string   // Overrides the image derived from the pool's OS image
	MountPath  string   // Where the pool volume is mounted in task containers
	ExtraHosts []string // Extra /etc/hosts entries for task containers
}

// LoadConfigFromEnv loads docker executor configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Image:      config.GetEnv("DOCKER_TASK_IMAGE", ""),
		MountPath:  config.GetEnv("DOCKER_POOL_MOUNT", defaultMountPath),
		ExtraHosts: config.GetListEnv("DOCKER_EXTRA_HOSTS"),
	}
}

const (
	defaultMountPath = "/mnt/pool"
	defaultImage     = "ubuntu:22.04"
)

// imageFor maps a marketplace image reference onto a container image.
func (c Config) imageFor(ref batch.OSImage) string {
	if c.Image != "" {
		return c.Image
	}
	if !strings.EqualFold(ref.Publisher, "Canonical") {
		return defaultImage
	}
	for _, release := range []string{"24.04", "22.04", "20.04", "18.04"} {
		if strings.Contains(ref.SKU, release) || strings.Contains(ref.SKU, strings.ReplaceAll(release, ".", "_")) {
			return "ubuntu:" + release
		}
	}
	return defaultImage
}
