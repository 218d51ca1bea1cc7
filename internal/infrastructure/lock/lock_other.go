//go:build !unix

package lock

import (
	"errors"
	"fmt"
	"os"

	"github.com/semmidev/pgstash/internal/domain"
)

// acquire relies on exclusive creation. A crash leaves the file behind and
// it must be removed by hand.
func acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	if err := writePID(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return &Lock{file: f, path: path}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	defer func() { l.file = nil }()

	l.file.Close()
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
