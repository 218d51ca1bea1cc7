package domain

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is the minute-granularity stamp embedded in artifact names.
const TimestampLayout = "2006-01-02_1504"

const (
	ArchiveExt   = ".tar.gz"
	EncryptedExt = ".enc"
)

// Purpose tells the orchestrator what a scheduled invocation is for.
type Purpose string

const (
	PurposeBackup              Purpose = "backup"
	PurposeBackupWithRetention Purpose = "backup-with-retention"
)

func ParsePurpose(s string) (Purpose, error) {
	switch Purpose(strings.ToLower(strings.TrimSpace(s))) {
	case "", PurposeBackup:
		return PurposeBackup, nil
	case PurposeBackupWithRetention:
		return PurposeBackupWithRetention, nil
	default:
		return "", fmt.Errorf("unknown run purpose %q", s)
	}
}

func (p Purpose) Sweeps() bool {
	return p == PurposeBackupWithRetention
}

// Stage identifies a step of a backup run.
type Stage string

const (
	StageValidate  Stage = "validate_config"
	StageLock      Stage = "acquire_lock"
	StageSweep     Stage = "sweep"
	StageReadiness Stage = "wait_for_readiness"
	StageDump      Stage = "dump"
	StageArchive   Stage = "archive"
	StageEncrypt   Stage = "encrypt"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// ArtifactName builds "{prefix}-backup-{YYYY-MM-DD_HHMM}{ext}".
func ArtifactName(prefix string, ts time.Time, ext string) string {
	return fmt.Sprintf("%s-backup-%s%s", prefix, ts.Format(TimestampLayout), ext)
}

// PartialPath is the hidden in-progress name used while an artifact is written.
func PartialPath(finalPath string) string {
	return filepath.Join(filepath.Dir(finalPath), "."+filepath.Base(finalPath)+".partial")
}

// SweepReport is the outcome of one retention sweep.
type SweepReport struct {
	Deleted []string
	Errors  []error
}

func (r SweepReport) DeletedCount() int {
	return len(r.Deleted)
}

// RunResult is the outcome of one orchestration pass.
type RunResult struct {
	Purpose      Purpose
	Stage        Stage
	ArtifactPath string
	StartedAt    time.Time
	Duration     time.Duration
	Sweep        *SweepReport
	Err          error
}

func (r RunResult) OK() bool {
	return r.Err == nil && r.Stage == StageDone
}

type BackupExecutor interface {
	Execute(ctx context.Context, purpose Purpose) RunResult
}
