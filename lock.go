package polish

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// bookLock is an advisory lock guarding writes to one output path, so two
// processes never rebuild the same book at once.
type bookLock struct {
	lock *flock.Flock
}

// lockPathFor returns the lock file used for outPath. Lock files live in
// the system temp directory so read-only book directories can be locked.
func lockPathFor(outPath string) string {
	if abs, err := filepath.Abs(outPath); err == nil {
		outPath = abs
	}
	sum := sha1.Sum([]byte(outPath))
	return filepath.Join(os.TempDir(), "polish-"+hex.EncodeToString(sum[:8])+".lock")
}

// acquireBookLock takes the lock for outPath without blocking.
func acquireBookLock(outPath string) (*bookLock, error) {
	lock := flock.New(lockPathFor(outPath))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("polish: acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("polish: %s: %w", outPath, ErrBookLocked)
	}
	return &bookLock{lock: lock}, nil
}

func (l *bookLock) release() {
	if l == nil || l.lock == nil {
		return
	}
	_ = l.lock.Unlock()
}
