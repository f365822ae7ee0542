package config

// Status store backends.
const (
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

const (
	defaultConfigPath      = "~/.config/transcoder/config.toml"
	defaultWorkDir         = "~/.local/share/transcoder/work"
	defaultStoreDir        = "~/.local/share/transcoder/store"
	defaultLogDir          = "~/.local/share/transcoder/logs"
	defaultSocketName      = "transcoder.sock"
	defaultSQLiteName      = "status.db"
	defaultFFmpegBinary    = "ffmpeg"
	defaultFFprobeBinary   = "ffprobe"
	defaultPreset          = "veryfast"
	defaultTune            = "zerolatency"
	defaultProfile         = "baseline"
	defaultLevel           = "3.0"
	defaultFrameRate       = 30
	defaultAudioBitrate    = "64k"
	defaultAudioChannels   = 2
	defaultSegmentSeconds  = 5
	defaultScreenshotCount = 4
	defaultKeyPrefix       = "transcoder:status:"
	defaultStaleWorkDirHrs = 72
	defaultReclaimHours    = 24
	defaultEventBuffer     = 256
	defaultRedisChannel    = "transcoder:events"
	defaultNtfyTimeout     = 10
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultLogMaxSizeMB    = 50
	defaultLogMaxBackups   = 3
	defaultLogMaxAgeDays   = 7
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:  defaultWorkDir,
			StoreDir: defaultStoreDir,
			LogDir:   defaultLogDir,
		},
		Scheduler: Scheduler{
			StaleWorkDirHours: defaultStaleWorkDirHrs,
			ReclaimAfterHours: defaultReclaimHours,
		},
		Encoder: Encoder{
			FFmpegBinary:    defaultFFmpegBinary,
			FFprobeBinary:   defaultFFprobeBinary,
			Preset:          defaultPreset,
			Tune:            defaultTune,
			Profile:         defaultProfile,
			Level:           defaultLevel,
			FrameRate:       defaultFrameRate,
			AudioBitrate:    defaultAudioBitrate,
			AudioChannels:   defaultAudioChannels,
			SegmentSeconds:  defaultSegmentSeconds,
			ScreenshotCount: defaultScreenshotCount,
		},
		Status: Status{
			Backend:   BackendSQLite,
			KeyPrefix: defaultKeyPrefix,
		},
		Events: Events{
			Buffer: defaultEventBuffer,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			Finished:       true,
			Failed:         true,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
			Compress:   true,
		},
	}
}
