package scheduler

import (
	"time"

	"github.com/smallbiznis/renova/internal/config"
)

// Config controls processor intervals, batch sizes and worker counts.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	WorkerCount int
	JobTimeout  time.Duration
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   50,
		WorkerCount: 4,
		JobTimeout:  5 * time.Minute,
		LockTTL:     10 * time.Minute,
	}
}

func FromAppConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Billing.RunInterval,
		BatchSize:   cfg.Billing.BatchSize,
		WorkerCount: cfg.Billing.WorkerCount,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = defaults.WorkerCount
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
