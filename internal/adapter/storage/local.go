package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/semmidev/pgstash/internal/domain"
)

// LocalStorage is a flat directory of artifacts. Hidden entries (lock and
// partial files) are never listed.
type LocalStorage struct {
	basePath string
}

// NewLocal does not touch the filesystem; the directory is created on the
// first upload.
func NewLocal(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

func (l *LocalStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	if err := os.MkdirAll(l.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	destPath := filepath.Join(l.basePath, remoteName)
	partialPath := domain.PartialPath(destPath)

	source, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	dest, err := os.Create(partialPath)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}

	if _, err := dest.ReadFrom(source); err != nil {
		dest.Close()
		os.Remove(partialPath)
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err := dest.Close(); err != nil {
		os.Remove(partialPath)
		return fmt.Errorf("failed to close dest: %w", err)
	}

	if err := os.Rename(partialPath, destPath); err != nil {
		os.Remove(partialPath)
		return fmt.Errorf("failed to publish file: %w", err)
	}

	return nil
}

func (l *LocalStorage) List(ctx context.Context) ([]string, error) {
	entries, err := l.readDir()
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}

	return files, nil
}

func (l *LocalStorage) Delete(ctx context.Context, remoteName string) error {
	filePath := filepath.Join(l.basePath, remoteName)
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// GetOldFiles returns the regular files whose modification time is before
// cutoffTime. Entries that vanish during the scan are skipped.
func (l *LocalStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	entries, err := l.readDir()
	if err != nil {
		return nil, err
	}

	var oldFiles []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return oldFiles, err
		}

		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get file info for %s: %w", entry.Name(), err)
		}
		if info.ModTime().Before(cutoffTime) {
			oldFiles = append(oldFiles, entry.Name())
		}
	}

	return oldFiles, nil
}

// readDir lists visible regular files. A missing directory is empty.
func (l *LocalStorage) readDir() ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(l.basePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	files := entries[:0]
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		files = append(files, entry)
	}
	return files, nil
}
