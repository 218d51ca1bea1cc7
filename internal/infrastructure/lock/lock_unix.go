//go:build unix

package lock

import (
	"errors"
	"fmt"
	"os"

	"github.com/semmidev/pgstash/internal/domain"
	"golang.org/x/sys/unix"
)

// acquire uses flock, so a crashed run never leaves a stale lock behind.
func acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", domain.ErrLocked, path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	if err := writePID(f); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return &Lock{file: f, path: path}, nil
}

// Release drops the lock. The file stays in place; removing it would race
// with a run that already opened it.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	defer func() { l.file = nil }()

	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return l.file.Close()
}
