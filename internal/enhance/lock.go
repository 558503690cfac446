package enhance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"hush/internal/services"
	"hush/internal/staging"
)

// lockPath places the advisory lock in the staging directory so read-only
// media directories can still be processed. The hash keeps same-named inputs
// from different directories apart.
func lockPath(stagingDir, input string) string {
	sum := sha256.Sum256([]byte(input))
	return filepath.Join(stagingDir, fmt.Sprintf("%s-%s%s", filepath.Base(input), hex.EncodeToString(sum[:6]), staging.LockSuffix))
}

// acquireInputLock takes a non-blocking exclusive lock for input. Lock files
// stay on disk after Unlock until "hush staging clean" removes them.
func acquireInputLock(stagingDir, input string) (*flock.Flock, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, StageLock, "create staging dir", "", err)
	}
	lock := flock.New(lockPath(stagingDir, input))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, StageLock, "acquire", lock.Path(), err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrValidation, StageLock, "acquire",
			"input is already being enhanced by another process", nil)
	}
	return lock, nil
}
