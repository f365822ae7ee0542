package workflow

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"transcoder/internal/logging"
)

// CleanupResult lists the job directories removed by CleanStaleWorkDirs.
type CleanupResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory with the error that kept it on disk.
type CleanupError struct {
	Path string
	Err  error
}

// CleanStaleWorkDirs removes job directories under workDir whose last
// modification is older than maxAge. Directories whose job lock is held are
// skipped. A non-positive maxAge disables cleanup.
func CleanStaleWorkDirs(workDir string, maxAge time.Duration, logger *slog.Logger) CleanupResult {
	var result CleanupResult
	workDir = strings.TrimSpace(workDir)
	if workDir == "" || maxAge <= 0 {
		return result
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: workDir, Err: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "job-") {
			continue
		}
		dir := filepath.Join(workDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Err: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		lock := flock.New(dir + ".lock")
		locked, err := lock.TryLock()
		if err != nil || !locked {
			continue
		}
		err = os.RemoveAll(dir)
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Err: err})
			logging.WarnWithContext(logger, "failed to remove stale job directory", "workdir_cleanup_failed",
				logging.String("path", dir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check work_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dir)
		logger.Info("removed stale job directory",
			logging.String("path", dir),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.String(logging.FieldEventType, "workdir_cleanup"),
		)
	}
	return result
}
