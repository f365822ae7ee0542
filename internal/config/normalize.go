package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEncoder()
	c.normalizeStatus()
	c.normalizeEvents()
	c.normalizeLogging()
	return nil
}

func (c *Config) applyEnv() {
	if value, ok := lookupEnv("TRANSCODER_REDIS_ADDR"); ok && c.Status.RedisAddr == "" {
		c.Status.RedisAddr = value
	}
	if value, ok := lookupEnv("TRANSCODER_POSTGRES_DSN"); ok && c.Status.PostgresDSN == "" {
		c.Status.PostgresDSN = value
	}
	if value, ok := lookupEnv("TRANSCODER_STATUS_BACKEND"); ok {
		c.Status.Backend = value
	}
	if value, ok := lookupEnv("TRANSCODER_NTFY_TOPIC"); ok && c.Notifications.NtfyTopic == "" {
		c.Notifications.NtfyTopic = value
	}
	if value, ok := lookupEnv("TRANSCODER_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(value); err == nil {
			c.Scheduler.Concurrency = n
		}
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.StoreDir, err = expandPath(c.Paths.StoreDir); err != nil {
		return fmt.Errorf("paths.store_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.LogDir, defaultSocketName)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeEncoder() {
	c.Encoder.FFmpegBinary = strings.TrimSpace(c.Encoder.FFmpegBinary)
	if c.Encoder.FFmpegBinary == "" {
		c.Encoder.FFmpegBinary = defaultFFmpegBinary
	}
	c.Encoder.FFprobeBinary = strings.TrimSpace(c.Encoder.FFprobeBinary)
	if c.Encoder.FFprobeBinary == "" {
		c.Encoder.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Encoder.ScreenshotCount == 0 {
		c.Encoder.ScreenshotCount = defaultScreenshotCount
	}
}

func (c *Config) normalizeStatus() {
	c.Status.Backend = strings.ToLower(strings.TrimSpace(c.Status.Backend))
	if c.Status.Backend == "" {
		c.Status.Backend = BackendSQLite
	}
	c.Status.SQLitePath = strings.TrimSpace(c.Status.SQLitePath)
	if c.Status.SQLitePath == "" {
		c.Status.SQLitePath = filepath.Join(c.Paths.LogDir, defaultSQLiteName)
	} else if expanded, err := expandPath(c.Status.SQLitePath); err == nil {
		c.Status.SQLitePath = expanded
	}
	c.Status.RedisAddr = strings.TrimSpace(c.Status.RedisAddr)
	c.Status.PostgresDSN = strings.TrimSpace(c.Status.PostgresDSN)
	if strings.TrimSpace(c.Status.KeyPrefix) == "" {
		c.Status.KeyPrefix = defaultKeyPrefix
	}
}

func (c *Config) normalizeEvents() {
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = defaultEventBuffer
	}
	c.Events.RedisAddr = strings.TrimSpace(c.Events.RedisAddr)
	c.Events.RedisChannel = strings.TrimSpace(c.Events.RedisChannel)
	if c.Events.RedisAddr == "" && c.Events.RedisChannel != "" {
		c.Events.RedisAddr = c.Status.RedisAddr
	}
	if c.Events.RedisAddr != "" && c.Events.RedisChannel == "" {
		c.Events.RedisChannel = defaultRedisChannel
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
