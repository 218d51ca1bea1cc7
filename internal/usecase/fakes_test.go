package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/semmidev/pgstash/internal/infrastructure/lock"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

// recordingLogger keeps warnings and errors for inspection.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Infof(string, ...interface{}) {}

func (l *recordingLogger) Errorf(template string, args ...interface{}) {
	l.record(template, args...)
}

func (l *recordingLogger) Warnf(template string, args ...interface{}) {
	l.record(template, args...)
}

func (l *recordingLogger) record(template string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(template, args...))
}

func (l *recordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

var errNotReady = errors.New("connection refused")

// fakeDatabase becomes ready after readyAfter failed probes and dumps
// content to the requested path.
type fakeDatabase struct {
	mu         sync.Mutex
	readyAfter int
	pings      int
	dumps      int
	content    string
	dumpErr    error
}

func (f *fakeDatabase) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if f.readyAfter < 0 || f.pings <= f.readyAfter {
		return errNotReady
	}
	return nil
}

func (f *fakeDatabase) Dump(ctx context.Context, outputPath string) error {
	f.mu.Lock()
	f.dumps++
	f.mu.Unlock()
	if f.dumpErr != nil {
		return f.dumpErr
	}
	return os.WriteFile(outputPath, []byte(f.content), 0600)
}

func (f *fakeDatabase) GetName() string  { return "orders" }
func (f *fakeDatabase) GetType() string  { return "postgresql" }
func (f *fakeDatabase) Endpoint() string { return "db.internal:5432" }
func (f *fakeDatabase) DumpExt() string  { return ".sql" }

func (f *fakeDatabase) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// fakeStorage is an in-memory mirror target.
type fakeStorage struct {
	mu        sync.Mutex
	files     map[string]time.Time
	uploads   []string
	listErr   error
	oldErr    error
	deleteErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: map[string]time.Time{}}
}

func (s *fakeStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, remoteName)
	s.files[remoteName] = time.Now()
	return nil
}

func (s *fakeStorage) List(ctx context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *fakeStorage) Delete(ctx context.Context, filename string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[filename]; !ok {
		return fmt.Errorf("%s: not found", filename)
	}
	delete(s.files, filename)
	return nil
}

func (s *fakeStorage) GetOldFiles(ctx context.Context, cutoff time.Time) ([]string, error) {
	if s.oldErr != nil {
		return nil, s.oldErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var old []string
	for name, modTime := range s.files {
		if modTime.Before(cutoff) {
			old = append(old, name)
		}
	}
	sort.Strings(old)
	return old, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

type failingArchiver struct {
	err error
}

func (a failingArchiver) Build(dumpPath, root string, ts time.Time) (string, error) {
	return "", a.err
}

// failingEncryptor fails every call. With writeCiphertext set it first
// writes the .enc file, as when only the plaintext removal fails.
type failingEncryptor struct {
	err             error
	writeCiphertext bool
	panics          bool
}

func (e failingEncryptor) Encrypt(path string) (string, error) {
	if e.panics {
		panic(e.err)
	}
	if !e.writeCiphertext {
		return "", e.err
	}
	encPath := path + ".enc"
	if err := os.WriteFile(encPath, []byte("age-encryption.org/v1"), 0640); err != nil {
		return "", err
	}
	return encPath, e.err
}

func acquireLock(root string) (Releaser, error) {
	l, err := lock.Acquire(root)
	if err != nil {
		return nil, err
	}
	return l, nil
}
