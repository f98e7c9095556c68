package store

import (
	"log/slog"
	"time"
)

// Config holds configuration for a Store.
type Config struct {
	// LockShards is the number of shards in the per-id lock table.
	// Locks are always per id; shards only reduce contention on the lock table itself.
	// Default: 32
	// Max: 256
	LockShards int

	// ConflictRetries is how many times a read-modify-write is retried after
	// another process changed the record first.
	// Default: 10
	ConflictRetries int

	// RetryBackoff is the base delay of the Fibonacci backoff between retries.
	// Default: 5ms
	RetryBackoff time.Duration

	// Logger receives diagnostics such as corrupt documents skipped by FindMany.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LockShards:      32,
		ConflictRetries: 10,
		RetryBackoff:    5 * time.Millisecond,
		Logger:          slog.Default(),
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.LockShards < 1 {
		c.LockShards = 32
	}
	if c.LockShards > 256 {
		c.LockShards = 256
	}
	if c.ConflictRetries < 1 {
		c.ConflictRetries = 10
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
