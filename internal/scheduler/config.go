package scheduler

import (
	"time"

	appconfig "github.com/smallbiznis/debtor/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	BatchSize   int
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		JobTimeout:  2 * time.Minute,
		BatchSize:   100,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.RunInterval,
		JobTimeout:  cfg.Scheduler.JobTimeout,
		BatchSize:   cfg.Scheduler.BatchSize,
	}
}
