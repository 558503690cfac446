package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

const (
	// JobDirPrefix names every per-job working directory.
	JobDirPrefix = "job-"
	// LockSuffix ends the name of every per-input lock file.
	LockSuffix   = ".hush.lock"
	activeMarker = ".active"
)

// WorkDir is a job-owned working directory under the staging root.
type WorkDir struct {
	Path string
	lock *flock.Flock
}

// CreateJobDir creates job-<jobID> under stagingDir and marks it active.
func CreateJobDir(stagingDir, jobID string) (*WorkDir, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	jobID = strings.TrimSpace(jobID)
	if stagingDir == "" || jobID == "" {
		return nil, errors.New("staging dir and job id are required")
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	path := filepath.Join(stagingDir, JobDirPrefix+jobID)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	lock := flock.New(filepath.Join(path, activeMarker))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		_ = os.RemoveAll(path)
		if err == nil {
			err = errors.New("marker already locked")
		}
		return nil, fmt.Errorf("mark job dir active: %w", err)
	}
	return &WorkDir{Path: path, lock: lock}, nil
}

// Join returns a path inside the working directory.
func (w *WorkDir) Join(elem ...string) string {
	return filepath.Join(append([]string{w.Path}, elem...)...)
}

// Release drops the active marker and removes the directory tree.
func (w *WorkDir) Release() error {
	if w == nil {
		return nil
	}
	var unlockErr error
	if w.lock != nil {
		unlockErr = w.lock.Unlock()
		w.lock = nil
	}
	if err := os.RemoveAll(w.Path); err != nil {
		return fmt.Errorf("remove job dir: %w", err)
	}
	return unlockErr
}

// IsLockFile reports whether name is an input lock file.
func IsLockFile(name string) bool {
	return strings.HasSuffix(name, LockSuffix) && len(name) > len(LockSuffix)
}

// IsJobDir reports whether name follows the job directory naming scheme.
func IsJobDir(name string) bool {
	return strings.HasPrefix(name, JobDirPrefix) && len(name) > len(JobDirPrefix)
}

// inUse reports whether a live process holds the directory's active marker.
func inUse(dir string) bool {
	marker := filepath.Join(dir, activeMarker)
	if _, err := os.Stat(marker); err != nil {
		return false
	}
	lock := flock.New(marker)
	locked, err := lock.TryLock()
	if err != nil {
		return true
	}
	if !locked {
		return true
	}
	_ = lock.Unlock()
	return false
}
