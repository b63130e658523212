package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// scratchLease is a scratch root reserved for one run.
type scratchLease struct {
	Dir  string
	lock *flock.Flock
}

// leaseScratch reserves a scratch root under buildDir. Every lease locks
// "<buildDir>.lock": shared runs hold it exclusively and work in buildDir
// itself, isolated runs hold it shared and work in a fresh uuid-named child.
// A shared run wipes buildDir, so it can never overlap an isolated one.
func leaseScratch(buildDir string, isolate bool) (*scratchLease, error) {
	lockPath := filepath.Clean(buildDir) + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	lock := flock.New(lockPath)
	if isolate {
		locked, err := lock.TryRLock()
		if err != nil {
			return nil, fmt.Errorf("failed to lock build directory %s: %w", buildDir, err)
		}
		if !locked {
			return nil, fmt.Errorf("build directory %s is in use by a shared run", buildDir)
		}
		return &scratchLease{Dir: filepath.Join(buildDir, uuid.NewString()), lock: lock}, nil
	}
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock build directory %s: %w", buildDir, err)
	}
	if !locked {
		return nil, fmt.Errorf("build directory %s is in use by another run; use --isolate", buildDir)
	}
	return &scratchLease{Dir: buildDir, lock: lock}, nil
}

func (l *scratchLease) Release() {
	if l == nil || l.lock == nil {
		return
	}
	_ = l.lock.Unlock()
}
