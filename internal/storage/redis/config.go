package redis

import "time"

// Config holds Redis connection and retention settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0)
	URL string

	PoolSize     int
	MinIdleConns int

	// DialTimeout and OpTimeout bound connection setup and each command
	DialTimeout time.Duration
	OpTimeout   time.Duration

	// TaskTTL expires finished task records; accounts never expire
	TaskTTL time.Duration
}

// DefaultConfig returns the default Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:          "redis://localhost:6379/0",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		OpTimeout:    3 * time.Second,
		TaskTTL:      7 * 24 * time.Hour,
	}
}
