package worker

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// ErrInstanceRunning is returned when another worker on this host already
// runs for the profile.
var ErrInstanceRunning = errors.New("a worker for this profile is already running on this host")

// LockInstance takes a host-local file lock for profileID in dir. Two
// workers for one profile on the same host would share a browser profile
// directory, so the second one must not start. The returned function
// releases the lock.
func LockInstance(dir, profileID string) (func(), error) {
	name := strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(profileID)
	fl := flock.New(filepath.Join(dir, "ocr-worker-"+name+".lock"))

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s (lock file %s)", ErrInstanceRunning, profileID, fl.Path())
	}
	return func() { _ = fl.Unlock() }, nil
}
