package preflight

import (
	"context"

	"transcoder/internal/config"
	"transcoder/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every applicable check for cfg. Directories, binaries and
// the status store are always checked; the Redis event channel and ntfy only
// when configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Content store", cfg.Paths.StoreDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	for _, dep := range deps.CheckBinaries(deps.Requirements(cfg.Encoder.FFmpegBinary, cfg.Encoder.FFprobeBinary)) {
		results = append(results, fromDependency(dep))
	}
	results = append(results, CheckStatusStore(ctx, cfg))
	if cfg.Events.RedisChannel != "" {
		results = append(results, CheckRedis(ctx, "Event channel", cfg.Events.RedisAddr))
	}
	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	return results
}

// Failed reports whether any required check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

func fromDependency(dep deps.Status) Result {
	if dep.Available {
		return Result{Name: dep.Name, Passed: true, Detail: dep.Path}
	}
	return Result{Name: dep.Name, Passed: dep.Optional, Detail: dep.Detail}
}
