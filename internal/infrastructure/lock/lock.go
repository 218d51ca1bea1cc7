// Package lock makes "one run per backup root" self-enforcing.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// FileName is hidden so listings and retention sweeps skip it.
const FileName = ".pgstash.lock"

// Lock is held for the lifetime of one run against a backup root.
type Lock struct {
	file *os.File
	path string
}

func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the lock for root, creating root if needed. A lock held by
// another run yields an error wrapping domain.ErrLocked.
func Acquire(root string) (*Lock, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return acquire(filepath.Join(root, FileName))
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return err
}
