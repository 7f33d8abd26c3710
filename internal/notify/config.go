package notify

import (
	"time"

	"azflow/internal/config"
)

const (
	defaultBufferSize     = 1000
	defaultWorkers        = 4
	defaultHTTPTimeout    = 10 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	deliveryTimeout       = 30 * time.Second
)

// Config holds the dispatcher settings.
type Config struct {
	BufferSize     int           // pending events buffer (default: 1000)
	Workers        int           // concurrent delivery goroutines (default: 4)
	HTTPTimeout    time.Duration // per-request timeout (default: 10s)
	MaxRetries     int           // retries after the first attempt (default: 3)
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		BufferSize:  config.GetIntEnv("NOTIFY_BUFFER_SIZE", defaultBufferSize),
		Workers:     config.GetIntEnv("NOTIFY_WORKERS", defaultWorkers),
		HTTPTimeout: config.GetDurationEnv("NOTIFY_HTTP_TIMEOUT", defaultHTTPTimeout),
		MaxRetries:  config.GetIntEnv("NOTIFY_MAX_RETRIES", defaultMaxRetries),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults. A negative MaxRetries
// disables retries.
func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}
