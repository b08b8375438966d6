package redis

import "time"

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// KeyPrefix namespaces every key, so several quiz deployments can share a server
	KeyPrefix string

	// HeartbeatInterval is how often a connection refreshes its liveness key and
	// sweeps peers that went away
	HeartbeatInterval time.Duration

	// HeartbeatTTL is how long a liveness key outlives its last refresh. A peer is
	// considered gone (and its disconnect hooks run) once it expires.
	HeartbeatTTL time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:               "redis://localhost:6379",
		PoolSize:          10,
		MinIdleConns:      2,
		KeyPrefix:         "basequiz",
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTTL:      15 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.KeyPrefix == "" {
		c.KeyPrefix = def.KeyPrefix
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = def.HeartbeatTTL
	}
	return c
}
