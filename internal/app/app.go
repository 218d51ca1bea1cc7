package app

import (
	"context"
	"fmt"

	"github.com/semmidev/pgstash/internal/adapter/compressor"
	"github.com/semmidev/pgstash/internal/adapter/database"
	"github.com/semmidev/pgstash/internal/adapter/encryptor"
	"github.com/semmidev/pgstash/internal/adapter/storage"
	"github.com/semmidev/pgstash/internal/config"
	"github.com/semmidev/pgstash/internal/domain"
	"github.com/semmidev/pgstash/internal/infrastructure/lock"
	"github.com/semmidev/pgstash/internal/infrastructure/logger"
	"github.com/semmidev/pgstash/internal/infrastructure/scheduler"
	"github.com/semmidev/pgstash/internal/infrastructure/secrets"
	"github.com/semmidev/pgstash/internal/usecase"
)

type App struct {
	config        *config.Config
	logger        *logger.Logger
	scheduler     *scheduler.Scheduler
	uploadTargets []usecase.UploadTarget
	backupUC      domain.BackupExecutor
	cleanupUC     *usecase.Cleanup
}

// LoadConfig reads the configuration and, when configured, fills missing
// credentials from Vault.
func LoadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	if cfg.UsesVault() {
		v, err := secrets.NewVault(secrets.WithAddress(cfg.Vault.Address), secrets.WithToken(cfg.Vault.Token))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
		values, err := v.Read(ctx, cfg.Vault.SecretPath)
		if err != nil {
			return nil, fmt.Errorf("%w: vault: %w", domain.ErrConfiguration, err)
		}
		cfg.ApplySecrets(values)
	}

	return cfg, nil
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s", cfg.App.Name)

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	localStorage := storage.NewLocal(cfg.Backup.LocalPath)
	uploadTargets, notifiers := initializeUploadTargets(ctx, cfg, log)

	cleanupUC := usecase.NewCleanup(localStorage, uploadTargets, log, cfg.RetentionWindow())

	opts := []usecase.BackupOption{
		usecase.WithCleanup(cleanupUC),
		usecase.WithUploadTargets(uploadTargets),
		usecase.WithNotifiers(notifiers),
	}
	// Without a passphrase the encryptor is left unset and validation
	// rejects the run before any dump.
	if cfg.Encryption.Enabled && cfg.Encryption.Passphrase != "" {
		enc, err := encryptor.NewAge(cfg.Encryption.Passphrase, cfg.Encryption.WorkFactor)
		if err != nil {
			log.Close()
			return nil, err
		}
		opts = append(opts, usecase.WithEncryptor(enc))
	}

	backupUC := usecase.NewBackup(
		cfg,
		db,
		compressor.NewTarGz(cfg.Backup.Prefix, cfg.Backup.CompressionLevel),
		acquireLock,
		log,
		opts...,
	)

	return &App{
		config:        cfg,
		logger:        log,
		scheduler:     scheduler.New(log.Named("scheduler")),
		uploadTargets: uploadTargets,
		backupUC:      backupUC,
		cleanupUC:     cleanupUC,
	}, nil
}

func acquireLock(root string) (usecase.Releaser, error) {
	l, err := lock.Acquire(root)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func initializeUploadTargets(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]usecase.UploadTarget, []domain.Notifier) {
	var targets []usecase.UploadTarget
	var notifiers []domain.Notifier

	for _, targetCfg := range cfg.GetEnabledUploadTargets() {
		var stor domain.Storage

		switch targetCfg.Type {
		case "local":
			if targetCfg.Path == "" {
				log.Warnf("Local mirror target has no path, skipping")
				continue
			}
			stor = storage.NewLocal(targetCfg.Path)
			log.Infof("✓ Local mirror enabled (%s)", targetCfg.Path)

		case "gdrive":
			gd, err := storage.NewGDrive(ctx, &targetCfg)
			if err != nil {
				log.Errorf("Failed to initialize Google Drive: %v", err)
				continue
			}
			stor = gd
			log.Infof("✓ Google Drive upload enabled")

		case "s3":
			s3, err := storage.NewS3(ctx, &targetCfg)
			if err != nil {
				log.Errorf("Failed to initialize S3: %v", err)
				continue
			}
			stor = s3
			log.Infof("✓ AWS S3 upload enabled (bucket: %s)", targetCfg.Bucket)

		case "telegram":
			tg, err := storage.NewTelegram(&targetCfg)
			if err != nil {
				log.Errorf("Failed to initialize Telegram: %v", err)
				continue
			}
			notifiers = append(notifiers, tg)
			log.Infof("✓ Telegram notifications enabled")
			if !targetCfg.SendFile || targetCfg.NotifyOnly {
				continue
			}
			stor = tg

		default:
			log.Warnf("Unknown upload target type: %s", targetCfg.Type)
			continue
		}

		targets = append(targets, usecase.UploadTarget{
			Name:    targetCfg.Type,
			Storage: stor,
		})
	}

	return targets, notifiers
}

// RunOnce performs a single backup with the given purpose.
func (a *App) RunOnce(ctx context.Context, purpose domain.Purpose) domain.RunResult {
	return a.backupUC.Execute(ctx, purpose)
}

// Sweep applies retention without taking a backup. It holds the root lock
// so it never races a running backup.
func (a *App) Sweep(ctx context.Context) (domain.SweepReport, error) {
	if err := a.config.Validate(); err != nil {
		return domain.SweepReport{}, err
	}

	l, err := lock.Acquire(a.config.Backup.LocalPath)
	if err != nil {
		return domain.SweepReport{}, err
	}
	defer l.Release()

	return a.cleanupUC.Execute(ctx), nil
}

// Run schedules every backup spec and blocks until ctx is done. The cleanup
// spec runs a backup with retention; a backup spec identical to it is
// folded into that job.
func (a *App) Run(ctx context.Context) error {
	sched := a.config.Schedule

	for i, spec := range sched.Backups {
		if spec == sched.Cleanup {
			continue
		}
		name := fmt.Sprintf("backup-%d", i+1)
		a.logger.Infof("Scheduling %s: %s", name, spec)
		if err := a.scheduler.AddJob(name, spec, func(ctx context.Context) error {
			return a.backupUC.Execute(ctx, domain.PurposeBackup).Err
		}); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
	}

	if sched.Cleanup != "" {
		a.logger.Infof("Scheduling backup with retention: %s", sched.Cleanup)
		if err := a.scheduler.AddJob("backup-with-retention", sched.Cleanup, func(ctx context.Context) error {
			return a.backupUC.Execute(ctx, domain.PurposeBackupWithRetention).Err
		}); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
	}

	a.scheduler.Start()
	a.logger.Infof("Scheduler started, next run at %s", a.scheduler.Next().Format("2006-01-02 15:04:05"))
	a.logger.Infof("Backup destinations: local + %d remote target(s)", len(a.uploadTargets))

	<-ctx.Done()
	return nil
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	a.scheduler.Stop()
	a.logger.Close()
}
