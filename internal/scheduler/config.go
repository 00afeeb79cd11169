package scheduler

import (
	"time"

	"github.com/smallbiznis/billingguard/internal/config"
)

// Config controls scheduler intervals, batch sizes and job selection.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	// EnabledJobs empty means every job runs.
	EnabledJobs []string
	JobTimeout  time.Duration
	// LockTTL bounds how long a crashed runner can hold a job lease.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   50,
		JobTimeout:  30 * time.Second,
		LockTTL:     5 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.RunInterval,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
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
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
