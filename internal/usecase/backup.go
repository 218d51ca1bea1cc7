package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/semmidev/pgstash/internal/config"
	"github.com/semmidev/pgstash/internal/domain"
)

type UploadTarget struct {
	Name    string
	Storage domain.Storage
}

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Releaser is a held backup root lock.
type Releaser interface {
	Release() error
}

// LockFunc acquires the exclusive lock on a backup root.
type LockFunc func(root string) (Releaser, error)

// Backup runs one backup pass through a fixed sequence of stages.
type Backup struct {
	cfg           *config.Config
	db            domain.Database
	archiver      domain.Archiver
	encryptor     domain.Encryptor
	readiness     *Readiness
	cleanup       *Cleanup
	lock          LockFunc
	uploadTargets []UploadTarget
	notifiers     []domain.Notifier
	logger        Logger
	now           func() time.Time
	tempDir       string
}

type BackupOption func(*Backup)

// WithEncryptor sets the encryptor used when encryption is enabled.
func WithEncryptor(e domain.Encryptor) BackupOption {
	return func(b *Backup) { b.encryptor = e }
}

// WithCleanup sets the sweeper run for PurposeBackupWithRetention.
func WithCleanup(c *Cleanup) BackupOption {
	return func(b *Backup) { b.cleanup = c }
}

func WithUploadTargets(targets []UploadTarget) BackupOption {
	return func(b *Backup) { b.uploadTargets = targets }
}

func WithNotifiers(notifiers []domain.Notifier) BackupOption {
	return func(b *Backup) { b.notifiers = notifiers }
}

func WithClock(now func() time.Time) BackupOption {
	return func(b *Backup) { b.now = now }
}

// WithTempDir sets the parent of the per-run private dump directory.
func WithTempDir(dir string) BackupOption {
	return func(b *Backup) { b.tempDir = dir }
}

func NewBackup(
	cfg *config.Config,
	db domain.Database,
	archiver domain.Archiver,
	lock LockFunc,
	logger Logger,
	opts ...BackupOption,
) *Backup {
	b := &Backup{
		cfg:       cfg,
		db:        db,
		archiver:  archiver,
		lock:      lock,
		logger:    logger,
		now:       time.Now,
		readiness: NewReadiness(logger, cfg.Database.ReadinessInterval, cfg.Database.ReadinessTimeout),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// backupRun is the mutable state of a single Execute call.
type backupRun struct {
	purpose     domain.Purpose
	timestamp   time.Time
	lock        Releaser
	workDir     string
	keepWorkDir bool
	dumpPath    string
	archivePath string
	finalPath   string
	sweep       *domain.SweepReport
}

type stageFunc func(ctx context.Context, run *backupRun) (domain.Stage, error)

// Execute drives the run from StageValidate to StageDone or StageFailed and
// always reports a RunResult. The first failing stage ends the run.
func (uc *Backup) Execute(ctx context.Context, purpose domain.Purpose) domain.RunResult {
	start := uc.now()
	run := &backupRun{purpose: purpose, timestamp: start}
	result := domain.RunResult{Purpose: purpose, StartedAt: start}

	uc.logger.Infof("[%s] Starting backup (purpose: %s)", uc.cfg.Database.Database, purpose)

	stages := map[domain.Stage]stageFunc{
		domain.StageValidate:  uc.validate,
		domain.StageLock:      uc.acquireLock,
		domain.StageSweep:     uc.sweep,
		domain.StageReadiness: uc.waitForReadiness,
		domain.StageDump:      uc.dump,
		domain.StageArchive:   uc.archive,
		domain.StageEncrypt:   uc.encrypt,
	}

	stage := domain.StageValidate
	for stage != domain.StageDone {
		next, err := runStage(ctx, stages[stage], run)
		if err != nil {
			result.Err = domain.NewStageError(stage, kindOf(stage, err), err)
			break
		}
		stage = next
	}

	uc.finish(run)

	result.Duration = uc.now().Sub(start)
	result.Sweep = run.sweep
	if result.Err != nil {
		result.Stage = domain.StageFailed
		uc.logger.Errorf("[%s] Backup failed: %v", uc.cfg.Database.Database, result.Err)
		uc.notify(ctx, fmt.Sprintf("❌ Backup of %s failed: %v", uc.cfg.Database.Database, result.Err))
		return result
	}

	result.Stage = domain.StageDone
	result.ArtifactPath = run.finalPath
	uc.logger.Infof("[%s] Backup completed in %s: %s",
		uc.cfg.Database.Database, result.Duration.Round(time.Second), run.finalPath)

	if len(uc.uploadTargets) > 0 {
		uc.uploadToTargets(ctx, run.finalPath, filepath.Base(run.finalPath))
	}
	uc.notify(ctx, fmt.Sprintf("✅ Backup of %s completed: %s", uc.cfg.Database.Database, filepath.Base(run.finalPath)))

	return result
}

// runStage turns a panic inside a stage into that stage's failure so the
// run still releases its lock and work dir.
func runStage(ctx context.Context, fn stageFunc, run *backupRun) (next domain.Stage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, run)
}

func (uc *Backup) validate(_ context.Context, run *backupRun) (domain.Stage, error) {
	if err := uc.cfg.Validate(); err != nil {
		return "", err
	}
	if _, err := domain.ParsePurpose(string(run.purpose)); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	if uc.cfg.Encryption.Enabled && uc.encryptor == nil {
		return "", fmt.Errorf("%w: encryption enabled but no encryptor configured", domain.ErrConfiguration)
	}
	return domain.StageLock, nil
}

func (uc *Backup) acquireLock(_ context.Context, run *backupRun) (domain.Stage, error) {
	l, err := uc.lock(uc.cfg.Backup.LocalPath)
	if err != nil {
		return "", err
	}
	run.lock = l

	if run.purpose.Sweeps() && uc.cleanup != nil {
		return domain.StageSweep, nil
	}
	return domain.StageReadiness, nil
}

func (uc *Backup) sweep(ctx context.Context, run *backupRun) (domain.Stage, error) {
	report := uc.cleanup.Execute(ctx)
	run.sweep = &report
	for _, err := range report.Errors {
		uc.logger.Warnf("[%s] Retention: %v", uc.cfg.Database.Database, err)
	}
	return domain.StageReadiness, nil
}

func (uc *Backup) waitForReadiness(ctx context.Context, _ *backupRun) (domain.Stage, error) {
	if err := uc.readiness.WaitUntilReady(ctx, uc.db); err != nil {
		return "", err
	}
	return domain.StageDump, nil
}

func (uc *Backup) dump(ctx context.Context, run *backupRun) (domain.Stage, error) {
	dbName := uc.db.GetName()

	workDir, err := os.MkdirTemp(uc.tempDir, "pgstash-")
	if err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	run.workDir = workDir

	run.dumpPath = filepath.Join(workDir, domain.ArtifactName(uc.cfg.Backup.Prefix, run.timestamp, uc.db.DumpExt()))

	uc.logger.Infof("[%s] Dumping %s from %s", dbName, uc.db.GetType(), uc.db.Endpoint())
	if err := uc.db.Dump(ctx, run.dumpPath); err != nil {
		return "", err
	}

	info, err := os.Stat(run.dumpPath)
	if err != nil {
		return "", fmt.Errorf("%w: dump produced no output: %w", domain.ErrDump, err)
	}
	uc.logger.Infof("[%s] Dump created, size: %.2f MB", dbName, float64(info.Size())/(1024*1024))

	return domain.StageArchive, nil
}

func (uc *Backup) archive(_ context.Context, run *backupRun) (domain.Stage, error) {
	dbName := uc.db.GetName()

	uc.logger.Infof("[%s] Archiving dump...", dbName)
	archivePath, err := uc.archiver.Build(run.dumpPath, uc.cfg.Backup.LocalPath, run.timestamp)
	if err != nil && archivePath == "" {
		run.keepWorkDir = true
		uc.logger.Warnf("[%s] Raw dump kept for recovery: %s", dbName, run.dumpPath)
		return "", err
	}
	if err != nil {
		// The archive is in place; the work dir is removed on finish anyway.
		uc.logger.Warnf("[%s] %v", dbName, err)
	}
	run.archivePath = archivePath
	run.finalPath = archivePath

	if info, statErr := os.Stat(archivePath); statErr == nil {
		uc.logger.Infof("[%s] Archive written: %s (%.2f MB)",
			dbName, archivePath, float64(info.Size())/(1024*1024))
	}

	if uc.cfg.Encryption.Enabled {
		return domain.StageEncrypt, nil
	}
	return domain.StageDone, nil
}

func (uc *Backup) encrypt(_ context.Context, run *backupRun) (domain.Stage, error) {
	dbName := uc.db.GetName()

	uc.logger.Infof("[%s] Encrypting archive...", dbName)
	finalPath, err := uc.encryptor.Encrypt(run.archivePath)
	if err != nil {
		if finalPath != "" {
			uc.logger.Warnf("[%s] Encrypted archive %s written but plaintext %s remains", dbName, finalPath, run.archivePath)
		}
		return "", err
	}
	run.finalPath = finalPath
	return domain.StageDone, nil
}

// finish releases everything the run holds. The work dir survives only
// when it carries the raw dump of a failed archive step.
func (uc *Backup) finish(run *backupRun) {
	if run.workDir != "" && !run.keepWorkDir {
		if err := os.RemoveAll(run.workDir); err != nil {
			uc.logger.Warnf("Failed to remove work directory %s: %v", run.workDir, err)
		}
	}
	if run.lock != nil {
		if err := run.lock.Release(); err != nil {
			uc.logger.Warnf("Failed to release backup root lock: %v", err)
		}
	}
}

var stageKinds = map[domain.Stage]error{
	domain.StageValidate: domain.ErrConfiguration,
	domain.StageDump:     domain.ErrDump,
	domain.StageArchive:  domain.ErrArchive,
	domain.StageEncrypt:  domain.ErrEncryption,
}

// kindOf classifies err. Errors already carrying a sentinel keep it;
// cancellation is reported as such.
func kindOf(stage domain.Stage, err error) error {
	for _, kind := range []error{
		domain.ErrConfiguration,
		domain.ErrLocked,
		domain.ErrReadinessTimeout,
		domain.ErrDump,
		domain.ErrArchive,
		domain.ErrEncryption,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if kind, ok := stageKinds[stage]; ok {
		return kind
	}
	return errors.New(strings.ReplaceAll(string(stage), "_", " ") + " failed")
}

func (uc *Backup) uploadToTargets(ctx context.Context, filePath, filename string) {
	var wg sync.WaitGroup
	dbName := uc.db.GetName()

	for _, target := range uc.uploadTargets {
		wg.Add(1)
		go func(t UploadTarget) {
			defer wg.Done()

			uc.logger.Infof("[%s] Uploading to %s...", dbName, t.Name)
			if err := t.Storage.Upload(ctx, filePath, filename); err != nil {
				uc.logger.Errorf("[%s] Failed to upload to %s: %v", dbName, t.Name, err)
			} else {
				uc.logger.Infof("[%s] Successfully uploaded to %s", dbName, t.Name)
			}
		}(target)
	}

	wg.Wait()
}

func (uc *Backup) notify(ctx context.Context, message string) {
	for _, n := range uc.notifiers {
		if err := n.Notify(ctx, message); err != nil {
			uc.logger.Warnf("Failed to send notification: %v", err)
		}
	}
}
