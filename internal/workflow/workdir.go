package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"transcoder/internal/logging"
	"transcoder/internal/services"
)

// JobDir returns the working directory used for jobID under workDir.
func JobDir(workDir, jobID string) string {
	return filepath.Join(workDir, "job-"+jobID)
}

// acquireWorkDir locks and creates the job directory. The lock file sits next
// to the directory so it never ends up in the published bundle.
func (r *jobRun) acquireWorkDir() (func(), error) {
	root := JobDir(r.o.workDir, r.job.ID)
	lock := flock.New(root + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "lock work dir", root, err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrValidation, "workflow", "lock work dir",
			fmt.Sprintf("job %s is already running", r.job.ID), nil)
	}
	release := func() {
		if err := lock.Unlock(); err != nil {
			r.logger.Debug("work dir unlock failed", logging.Error(err))
		}
		_ = os.Remove(lock.Path())
	}
	// A leftover directory belongs to an earlier attempt that did not clean up.
	if err := os.RemoveAll(root); err != nil {
		release()
		return nil, services.Wrap(services.ErrValidation, "workflow", "prepare work dir", root, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		release()
		return nil, services.Wrap(services.ErrValidation, "workflow", "prepare work dir", root, err)
	}
	r.root = root
	return release, nil
}
