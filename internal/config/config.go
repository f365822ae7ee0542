package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	WorkDir    string `toml:"work_dir"`
	StoreDir   string `toml:"store_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
}

// Scheduler contains queue and worker pool settings.
type Scheduler struct {
	// Concurrency is the worker pool size. Zero means host parallelism.
	Concurrency int `toml:"concurrency"`
	// DefaultPriority applies to submissions that omit a priority.
	DefaultPriority int `toml:"default_priority"`
	// RungConcurrency bounds parallel rendition encodes within one job. Zero
	// runs every rung of the ladder at once.
	RungConcurrency int `toml:"rung_concurrency"`
	// JobTimeout in seconds; zero disables the timeout.
	JobTimeout         int  `toml:"job_timeout"`
	KeepFailedWorkDirs bool `toml:"keep_failed_workdirs"`
	// StaleWorkDirHours removes job directories older than this at daemon
	// start. Zero keeps them.
	StaleWorkDirHours int `toml:"stale_workdir_hours"`
	// ReclaimAfterHours is how long a shared (redis or postgres) status key
	// may sit queued or in progress before a starting daemon fails and
	// re-admits it. Local backends reclaim every such key at start.
	ReclaimAfterHours int `toml:"reclaim_after_hours"`
}

// Encoder contains the ffmpeg profile used for every rendition.
type Encoder struct {
	FFmpegBinary    string `toml:"ffmpeg_binary"`
	FFprobeBinary   string `toml:"ffprobe_binary"`
	Preset          string `toml:"preset"`
	Tune            string `toml:"tune"`
	Profile         string `toml:"profile"`
	Level           string `toml:"level"`
	FrameRate       int    `toml:"frame_rate"`
	AudioBitrate    string `toml:"audio_bitrate"`
	AudioChannels   int    `toml:"audio_channels"`
	SegmentSeconds  int    `toml:"segment_seconds"`
	ScreenshotCount int    `toml:"screenshot_count"`
}

// Status selects and configures the job status store backend.
type Status struct {
	Backend       string `toml:"backend"`
	SQLitePath    string `toml:"sqlite_path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisUsername string `toml:"redis_username"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
	PostgresDSN   string `toml:"postgres_dsn"`
}

// Events configures lifecycle event fan-out.
type Events struct {
	Buffer       int    `toml:"buffer"`
	RedisAddr    string `toml:"redis_addr"`
	RedisChannel string `toml:"redis_channel"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Finished       bool   `toml:"finished"`
	Failed         bool   `toml:"failed"`
	Drained        bool   `toml:"drained"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Config encapsulates all configuration values for the transcoder.
//
// Configuration sections by subsystem:
//   - Paths: job working directories, content store root, logs, IPC socket
//   - Scheduler: worker pool size, default priority, rung fan-out bound
//   - Encoder: ffmpeg binaries and the HLS encode profile
//   - Status: status store backend (sqlite, redis, postgres, memory)
//   - Events: in-process buffer sizes and optional Redis pub/sub channel
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and file rotation
type Config struct {
	Paths         Paths         `toml:"paths"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Encoder       Encoder       `toml:"encoder"`
	Status        Status        `toml:"status"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("transcoder.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.WorkDir, c.Paths.StoreDir, c.Paths.LogDir}
	if dir := filepath.Dir(c.Paths.SocketPath); c.Paths.SocketPath != "" {
		dirs = append(dirs, dir)
	}
	if c.Status.Backend == BackendSQLite && c.Status.SQLitePath != "" {
		dirs = append(dirs, filepath.Dir(c.Status.SQLitePath))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WorkerCount resolves the effective worker pool size.
func (c *Config) WorkerCount() int {
	if c.Scheduler.Concurrency > 0 {
		return c.Scheduler.Concurrency
	}
	return runtime.NumCPU()
}

// JobTimeout returns the per-job timeout, or zero when disabled.
func (c *Config) JobTimeout() time.Duration {
	if c.Scheduler.JobTimeout <= 0 {
		return 0
	}
	return time.Duration(c.Scheduler.JobTimeout) * time.Second
}

// StaleWorkDirAge returns the age after which leftover job directories are
// removed, or zero when cleanup is disabled.
func (c *Config) StaleWorkDirAge() time.Duration {
	if c.Scheduler.StaleWorkDirHours <= 0 {
		return 0
	}
	return time.Duration(c.Scheduler.StaleWorkDirHours) * time.Hour
}

// ReclaimAge returns how old a queued or in-progress status must be before a
// starting daemon reclaims it. It is zero for backends only one daemon can
// hold.
func (c *Config) ReclaimAge() time.Duration {
	switch c.Status.Backend {
	case BackendRedis, BackendPostgres:
		return time.Duration(c.Scheduler.ReclaimAfterHours) * time.Hour
	default:
		return 0
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
