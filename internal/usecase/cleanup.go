package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/semmidev/pgstash/internal/domain"
)

// Cleanup is the retention sweeper. The local backup root is swept
// authoritatively; mirror targets are swept best-effort.
type Cleanup struct {
	local         domain.Storage
	uploadTargets []UploadTarget
	logger        Logger
	retention     time.Duration
	now           func() time.Time
}

func NewCleanup(
	local domain.Storage,
	uploadTargets []UploadTarget,
	logger Logger,
	retention time.Duration,
) *Cleanup {
	return &Cleanup{
		local:         local,
		uploadTargets: uploadTargets,
		logger:        logger,
		retention:     retention,
		now:           time.Now,
	}
}

// Execute sweeps the backup root and every mirror target. Deletion failures
// are collected in the report and never returned as a run error.
func (uc *Cleanup) Execute(ctx context.Context) domain.SweepReport {
	cutoff := uc.now().Add(-uc.retention)
	uc.logger.Infof("Starting cleanup, retention: %s (cutoff %s)", uc.retention, cutoff.Format(time.RFC3339))

	report := uc.Sweep(ctx, cutoff)

	if len(uc.uploadTargets) > 0 {
		uc.cleanupTargets(ctx, cutoff)
	}

	uc.logger.Infof("Cleanup completed: %d deleted, %d error(s)", report.DeletedCount(), len(report.Errors))
	return report
}

// Sweep deletes every artifact in the backup root modified before cutoff.
func (uc *Cleanup) Sweep(ctx context.Context, cutoff time.Time) domain.SweepReport {
	var report domain.SweepReport

	files, err := uc.local.GetOldFiles(ctx, cutoff)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("%w: list backup root: %w", domain.ErrRetention, err))
		uc.logger.Errorf("Cleanup could not list backup root: %v", err)
		return report
	}

	for _, filename := range files {
		if err := uc.local.Delete(ctx, filename); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("%w: delete %s: %w", domain.ErrRetention, filename, err))
			uc.logger.Warnf("Failed to delete old backup %s: %v", filename, err)
			continue
		}
		report.Deleted = append(report.Deleted, filename)
		uc.logger.Infof("Deleted old backup: %s", filename)
	}

	return report
}

func (uc *Cleanup) cleanupTargets(ctx context.Context, cutoff time.Time) {
	var wg sync.WaitGroup

	for _, target := range uc.uploadTargets {
		wg.Add(1)
		go func(t UploadTarget) {
			defer wg.Done()

			if err := uc.cleanupTarget(ctx, t, cutoff); err != nil {
				uc.logger.Errorf("Cleanup failed for %s: %v", t.Name, err)
			}
		}(target)
	}

	wg.Wait()
}

func (uc *Cleanup) cleanupTarget(ctx context.Context, target UploadTarget, cutoff time.Time) error {
	files, err := target.Storage.GetOldFiles(ctx, cutoff)
	if err != nil {
		files, err = uc.fallbackListFiles(ctx, target, cutoff)
		if err != nil {
			return err
		}
	}

	deleted := 0
	for _, filename := range files {
		uc.logger.Infof("Deleting old backup from %s: %s", target.Name, filename)

		if err := target.Storage.Delete(ctx, filename); err != nil {
			uc.logger.Errorf("Failed to delete %s from %s: %v", filename, target.Name, err)
		} else {
			deleted++
		}
	}

	if deleted > 0 {
		uc.logger.Infof("Deleted %d old backup(s) from %s", deleted, target.Name)
	}
	return nil
}

// fallbackListFiles dates objects by the timestamp in their name when the
// target cannot report modification times.
func (uc *Cleanup) fallbackListFiles(ctx context.Context, target UploadTarget, cutoff time.Time) ([]string, error) {
	files, err := target.Storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	oldFiles := make([]string, 0)
	for _, filename := range files {
		timestamp, err := extractTimestamp(filename)
		if err != nil {
			uc.logger.Warnf("Could not parse timestamp from %s: %v", filename, err)
			continue
		}

		if timestamp.Before(cutoff) {
			oldFiles = append(oldFiles, filename)
		}
	}

	return oldFiles, nil
}

var timestampPattern = regexp.MustCompile(`-backup-(\d{4}-\d{2}-\d{2}_\d{4})`)

func extractTimestamp(filename string) (time.Time, error) {
	matches := timestampPattern.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return time.Time{}, fmt.Errorf("invalid filename format: no timestamp found")
	}

	return time.ParseInLocation(domain.TimestampLayout, matches[1], time.Local)
}
