package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the rollover sweep worker.
type Config struct {
	// Concurrency is the number of accounts processed in parallel during a sweep.
	// Default: 4
	Concurrency int

	// Interval is how often a sweep over all accounts starts.
	// Default: 15 minutes
	Interval time.Duration

	// JobTimeout is the maximum time a single account job is allowed to run.
	// If a job exceeds this timeout, its context is canceled and it's marked as failed.
	// Default: 30 seconds
	JobTimeout time.Duration

	// ShutdownTimeout is how long to wait for a running sweep to complete during graceful shutdown.
	// After this timeout, the worker stops even if jobs are still running.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Concurrency:     4,
		Interval:        15 * time.Minute,
		JobTimeout:      30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
// Returns an error if any values are invalid.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Concurrency > 100 {
		return fmt.Errorf("concurrency too high (max 100), got %d", c.Concurrency)
	}
	if c.Interval < 1*time.Second {
		return fmt.Errorf("sweep interval must be at least 1 second, got %v", c.Interval)
	}
	if c.JobTimeout < 1*time.Second {
		return fmt.Errorf("job timeout must be at least 1 second, got %v", c.JobTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
