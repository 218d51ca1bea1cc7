package compressor

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/semmidev/pgstash/internal/domain"
)

// TarGzArchiver packs a single dump file into {prefix}-backup-{stamp}.tar.gz.
type TarGzArchiver struct {
	prefix string
	level  int
}

func NewTarGz(prefix string, level int) *TarGzArchiver {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &TarGzArchiver{prefix: prefix, level: level}
}

// Build writes the archive into root and removes dumpPath once the archive
// has been verified. On failure nothing is left in root and the dump is kept.
func (a *TarGzArchiver) Build(dumpPath, root string, ts time.Time) (string, error) {
	info, err := os.Stat(dumpPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat dump: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("dump %s is not a regular file", dumpPath)
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	finalPath, err := a.nextName(root, ts)
	if err != nil {
		return "", err
	}
	partialPath := domain.PartialPath(finalPath)

	if err := a.write(dumpPath, partialPath, info); err != nil {
		os.Remove(partialPath)
		return "", err
	}

	if err := verify(partialPath, filepath.Base(dumpPath), info.Size()); err != nil {
		os.Remove(partialPath)
		return "", fmt.Errorf("archive verification failed: %w", err)
	}

	if err := os.Rename(partialPath, finalPath); err != nil {
		os.Remove(partialPath)
		return "", fmt.Errorf("failed to publish archive: %w", err)
	}

	if err := os.Remove(dumpPath); err != nil && !os.IsNotExist(err) {
		return finalPath, fmt.Errorf("failed to remove dump after archiving: %w", err)
	}

	return finalPath, nil
}

// nextName picks the artifact name for ts. A name already taken in the same
// minute, plain or encrypted, gets a _2, _3... suffix.
func (a *TarGzArchiver) nextName(root string, ts time.Time) (string, error) {
	base := domain.ArtifactName(a.prefix, ts, "")
	for seq := 1; seq < 1000; seq++ {
		name := base
		if seq > 1 {
			name += "_" + strconv.Itoa(seq)
		}
		candidate := filepath.Join(root, name+domain.ArchiveExt)

		taken, err := exists(candidate, candidate+domain.EncryptedExt)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free artifact name for %s", base)
}

func exists(paths ...string) (bool, error) {
	for _, p := range paths {
		_, err := os.Lstat(p)
		if err == nil {
			return true, nil
		}
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("failed to stat %s: %w", p, err)
		}
	}
	return false, nil
}

type archiveWriters struct {
	file       *os.File
	gzipWriter *gzip.Writer
	tarWriter  *tar.Writer
}

// Close closes the writers in reverse order, syncing the file before it is
// closed, and returns the first error.
func (aw *archiveWriters) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(aw.tarWriter.Close())
	keep(aw.gzipWriter.Close())
	if firstErr == nil {
		keep(aw.file.Sync())
	}
	keep(aw.file.Close())
	return firstErr
}

func (a *TarGzArchiver) setupWriters(destPath string) (*archiveWriters, error) {
	outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to create dest file: %w", err)
	}

	gzipWriter, err := gzip.NewWriterLevel(outFile, a.level)
	if err != nil {
		outFile.Close()
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	return &archiveWriters{
		file:       outFile,
		gzipWriter: gzipWriter,
		tarWriter:  tar.NewWriter(gzipWriter),
	}, nil
}

func (a *TarGzArchiver) write(dumpPath, destPath string, info os.FileInfo) error {
	sourceFile, err := os.Open(dumpPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header: %w", err)
	}
	header.Name = filepath.Base(dumpPath)

	aw, err := a.setupWriters(destPath)
	if err != nil {
		return err
	}

	if err := aw.tarWriter.WriteHeader(header); err != nil {
		aw.Close()
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := io.Copy(aw.tarWriter, sourceFile); err != nil {
		aw.Close()
		return fmt.Errorf("failed to compress: %w", err)
	}

	if err := aw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

// verify reads the archive back and checks it holds exactly one entry named
// name with the expected size.
func verify(archivePath, name string, size int64) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gzipReader, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tr := tar.NewReader(gzipReader)
	header, err := tr.Next()
	if err != nil {
		return fmt.Errorf("failed to read first entry: %w", err)
	}
	if header.Name != name {
		return fmt.Errorf("unexpected entry %q", header.Name)
	}
	n, err := io.Copy(io.Discard, tr)
	if err != nil {
		return fmt.Errorf("failed to read entry: %w", err)
	}
	if n != size {
		return fmt.Errorf("entry size %d, want %d", n, size)
	}
	if _, err := tr.Next(); !errors.Is(err, io.EOF) {
		return errors.New("archive holds more than one entry")
	}
	return nil
}
