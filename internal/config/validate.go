package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateStatus(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		return errors.New("paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StoreDir) == "" {
		return errors.New("paths.store_dir must be set")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.Concurrency < 0 {
		return errors.New("scheduler.concurrency must be zero (host parallelism) or positive")
	}
	if c.Scheduler.RungConcurrency < 0 {
		return errors.New("scheduler.rung_concurrency must be zero (unbounded) or positive")
	}
	if c.Scheduler.JobTimeout < 0 {
		return errors.New("scheduler.job_timeout must not be negative")
	}
	if c.Scheduler.StaleWorkDirHours < 0 {
		return errors.New("scheduler.stale_workdir_hours must not be negative")
	}
	if c.Scheduler.ReclaimAfterHours < 0 {
		return errors.New("scheduler.reclaim_after_hours must not be negative")
	}
	return nil
}

func (c *Config) validateEncoder() error {
	if c.Encoder.SegmentSeconds <= 0 {
		return errors.New("encoder.segment_seconds must be positive")
	}
	if c.Encoder.FrameRate <= 0 {
		return errors.New("encoder.frame_rate must be positive")
	}
	if c.Encoder.ScreenshotCount < 0 {
		return errors.New("encoder.screenshot_count must not be negative")
	}
	return nil
}

func (c *Config) validateStatus() error {
	switch c.Status.Backend {
	case BackendSQLite, BackendMemory:
		return nil
	case BackendRedis:
		if c.Status.RedisAddr == "" {
			return errors.New("status.redis_addr must be set when status.backend is redis (or set TRANSCODER_REDIS_ADDR)")
		}
		return nil
	case BackendPostgres:
		if c.Status.PostgresDSN == "" {
			return errors.New("status.postgres_dsn must be set when status.backend is postgres (or set TRANSCODER_POSTGRES_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("status.backend: unsupported value %q", c.Status.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
