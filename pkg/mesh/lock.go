package mesh

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
)

// RunLock is the agent's at-most-one-concurrent-run exclusivity guard:
// an flock on a lock file, acquired before a run and released after,
// rather than a PID file.
type RunLock struct {
	f *os.File
}

// AcquireRunLock opens (creating if absent) path and takes a
// non-blocking exclusive flock. A held lock returns errdefs.ErrUnavailable
// so the caller can skip this run rather than block.
func AcquireRunLock(path string) (*RunLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open lock file %s: %v", errdefs.ErrUnavailable, path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: run already in progress: %v", errdefs.ErrUnavailable, err)
	}
	return &RunLock{f: f}, nil
}

// Release drops the flock and closes the file.
func (l *RunLock) Release() error {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN) //nolint:errcheck
	return l.f.Close()
}
