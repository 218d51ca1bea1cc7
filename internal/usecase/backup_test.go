package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/semmidev/pgstash/internal/adapter/compressor"
	"github.com/semmidev/pgstash/internal/adapter/encryptor"
	"github.com/semmidev/pgstash/internal/adapter/storage"
	"github.com/semmidev/pgstash/internal/config"
	"github.com/semmidev/pgstash/internal/domain"
	"github.com/semmidev/pgstash/internal/infrastructure/lock"
	. "github.com/smartystreets/goconvey/convey"
)

func testConfig(root string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Type:              "postgresql",
			Host:              "db.internal",
			Port:              5432,
			Username:          "app",
			Password:          "secret",
			Database:          "orders",
			ReadinessInterval: time.Millisecond,
			ReadinessTimeout:  time.Second,
		},
		Backup: config.BackupConfig{
			LocalPath:        root,
			Prefix:           "orders",
			Retention:        7 * day,
			CompressionLevel: 6,
		},
	}
}

// visibleFiles lists the non-hidden entries of dir.
func visibleFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	return names
}

func hiddenFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") && entry.Name() != lock.FileName {
			names = append(names, entry.Name())
		}
	}
	return names
}

func TestBackup(t *testing.T) {
	Convey("Given a backup orchestrator over a temporary root", t, func() {
		root := filepath.Join(t.TempDir(), "backups")
		workParent := t.TempDir()
		ctx := context.Background()

		cfg := testConfig(root)
		db := &fakeDatabase{readyAfter: 2, content: "CREATE TABLE orders (id int);\n"}
		clock := time.Date(2024, 6, 1, 14, 5, 30, 0, time.Local)

		newBackup := func(opts ...BackupOption) *Backup {
			opts = append([]BackupOption{
				WithClock(func() time.Time { return clock }),
				WithTempDir(workParent),
			}, opts...)
			return NewBackup(cfg, db, compressor.NewTarGz(cfg.Backup.Prefix, cfg.Backup.CompressionLevel),
				acquireLock, nopLogger{}, opts...)
		}

		Convey("When a regular backup succeeds", func() {
			result := newBackup().Execute(ctx, domain.PurposeBackup)

			Convey("It should leave exactly one named artifact and nothing else", func() {
				So(result.Err, ShouldBeNil)
				So(result.OK(), ShouldBeTrue)
				So(result.Stage, ShouldEqual, domain.StageDone)
				So(result.Sweep, ShouldBeNil)
				So(result.ArtifactPath, ShouldEqual, filepath.Join(root, "orders-backup-2024-06-01_1405.tar.gz"))
				So(visibleFiles(t, root), ShouldResemble, []string{"orders-backup-2024-06-01_1405.tar.gz"})
				So(hiddenFiles(t, root), ShouldBeEmpty)
			})

			Convey("It should wait for readiness before dumping", func() {
				So(db.Pings(), ShouldEqual, 3)
				So(db.dumps, ShouldEqual, 1)
			})

			Convey("It should remove the private work directory", func() {
				So(visibleFiles(t, workParent), ShouldBeEmpty)
				So(hiddenFiles(t, workParent), ShouldBeEmpty)
			})
		})

		Convey("When two runs happen in different minutes", func() {
			backup := newBackup()
			first := backup.Execute(ctx, domain.PurposeBackup)
			clock = clock.Add(time.Minute)
			second := backup.Execute(ctx, domain.PurposeBackup)

			Convey("It should produce two distinct artifacts", func() {
				So(first.Err, ShouldBeNil)
				So(second.Err, ShouldBeNil)
				So(first.ArtifactPath, ShouldNotEqual, second.ArtifactPath)
				So(len(visibleFiles(t, root)), ShouldEqual, 2)
			})
		})

		Convey("When two runs happen in the same minute", func() {
			backup := newBackup()
			first := backup.Execute(ctx, domain.PurposeBackup)
			second := backup.Execute(ctx, domain.PurposeBackup)

			Convey("It should not overwrite the first artifact", func() {
				So(first.Err, ShouldBeNil)
				So(second.Err, ShouldBeNil)
				So(second.ArtifactPath, ShouldEqual, filepath.Join(root, "orders-backup-2024-06-01_1405_2.tar.gz"))
				So(len(visibleFiles(t, root)), ShouldEqual, 2)
			})
		})

		Convey("When encryption is enabled", func() {
			cfg.Encryption = config.EncryptionConfig{Enabled: true, Passphrase: "hunter2", WorkFactor: 10}
			enc, err := encryptor.NewAge(cfg.Encryption.Passphrase, cfg.Encryption.WorkFactor)
			So(err, ShouldBeNil)

			result := newBackup(WithEncryptor(enc)).Execute(ctx, domain.PurposeBackup)

			Convey("It should leave only the encrypted artifact", func() {
				So(result.Err, ShouldBeNil)
				So(result.ArtifactPath, ShouldEqual, filepath.Join(root, "orders-backup-2024-06-01_1405.tar.gz.enc"))
				So(visibleFiles(t, root), ShouldResemble, []string{"orders-backup-2024-06-01_1405.tar.gz.enc"})
				So(hiddenFiles(t, root), ShouldBeEmpty)
			})
		})

		Convey("When encryption is enabled without a passphrase", func() {
			cfg.Encryption = config.EncryptionConfig{Enabled: true}

			result := newBackup().Execute(ctx, domain.PurposeBackup)

			Convey("It should fail validation before any dump is attempted", func() {
				So(errors.Is(result.Err, domain.ErrConfiguration), ShouldBeTrue)
				So(domain.ExitCode(result.Err), ShouldEqual, 2)
				So(result.Stage, ShouldEqual, domain.StageFailed)

				var stageErr *domain.StageError
				So(errors.As(result.Err, &stageErr), ShouldBeTrue)
				So(stageErr.Stage, ShouldEqual, domain.StageValidate)

				So(db.Pings(), ShouldEqual, 0)
				So(db.dumps, ShouldEqual, 0)
				_, err := os.Stat(root)
				So(os.IsNotExist(err), ShouldBeTrue)
			})
		})

		Convey("When a mandatory setting is missing", func() {
			cfg.Database.Password = ""

			result := newBackup().Execute(ctx, domain.PurposeBackup)

			Convey("It should report a configuration error", func() {
				So(errors.Is(result.Err, domain.ErrConfiguration), ShouldBeTrue)
				So(result.Err.Error(), ShouldContainSubstring, "database.password")
				So(db.dumps, ShouldEqual, 0)
			})
		})

		Convey("When the dump fails", func() {
			db.dumpErr = &domain.DumpError{Engine: "postgresql", ExitCode: 1, StderrTail: "FATAL: role does not exist"}

			result := newBackup().Execute(ctx, domain.PurposeBackup)

			Convey("It should fail in the dump stage without producing an archive", func() {
				So(errors.Is(result.Err, domain.ErrDump), ShouldBeTrue)
				So(domain.ExitCode(result.Err), ShouldEqual, 5)

				var dumpErr *domain.DumpError
				So(errors.As(result.Err, &dumpErr), ShouldBeTrue)
				So(dumpErr.StderrTail, ShouldContainSubstring, "role does not exist")

				So(visibleFiles(t, root), ShouldBeEmpty)
				So(hiddenFiles(t, root), ShouldBeEmpty)
				So(visibleFiles(t, workParent), ShouldBeEmpty)
			})
		})

		Convey("When archiving fails", func() {
			backup := NewBackup(cfg, db, failingArchiver{err: errors.New("disk full")}, acquireLock, nopLogger{},
				WithClock(func() time.Time { return clock }), WithTempDir(workParent))

			result := backup.Execute(ctx, domain.PurposeBackup)

			Convey("It should keep the raw dump for recovery", func() {
				So(errors.Is(result.Err, domain.ErrArchive), ShouldBeTrue)
				So(domain.ExitCode(result.Err), ShouldEqual, 6)

				workDirs := visibleFiles(t, workParent)
				So(len(workDirs), ShouldEqual, 1)
				dump := filepath.Join(workParent, workDirs[0], "orders-backup-2024-06-01_1405.sql")
				content, err := os.ReadFile(dump)
				So(err, ShouldBeNil)
				So(string(content), ShouldEqual, db.content)
			})
		})

		Convey("When encryption fails", func() {
			cfg.Encryption = config.EncryptionConfig{Enabled: true, Passphrase: "hunter2", WorkFactor: 10}
			logger := &recordingLogger{}
			encrypt := func(enc failingEncryptor) domain.RunResult {
				return NewBackup(cfg, db, compressor.NewTarGz(cfg.Backup.Prefix, cfg.Backup.CompressionLevel),
					acquireLock, logger,
					WithClock(func() time.Time { return clock }), WithTempDir(workParent), WithEncryptor(enc),
				).Execute(ctx, domain.PurposeBackup)
			}

			Convey("It should fail in the encrypt stage and keep the plaintext archive", func() {
				result := encrypt(failingEncryptor{err: errors.New("no space left on device")})

				So(result.Stage, ShouldEqual, domain.StageFailed)
				So(errors.Is(result.Err, domain.ErrEncryption), ShouldBeTrue)
				So(domain.ExitCode(result.Err), ShouldEqual, 7)

				var stageErr *domain.StageError
				So(errors.As(result.Err, &stageErr), ShouldBeTrue)
				So(stageErr.Stage, ShouldEqual, domain.StageEncrypt)

				So(visibleFiles(t, root), ShouldResemble, []string{"orders-backup-2024-06-01_1405.tar.gz"})
				So(visibleFiles(t, workParent), ShouldBeEmpty)
			})

			Convey("It should name the ciphertext left next to an unremovable plaintext", func() {
				result := encrypt(failingEncryptor{err: errors.New("permission denied"), writeCiphertext: true})

				So(errors.Is(result.Err, domain.ErrEncryption), ShouldBeTrue)
				So(visibleFiles(t, root), ShouldResemble, []string{
					"orders-backup-2024-06-01_1405.tar.gz",
					"orders-backup-2024-06-01_1405.tar.gz.enc",
				})
				So(strings.Join(logger.Lines(), "\n"), ShouldContainSubstring,
					filepath.Join(root, "orders-backup-2024-06-01_1405.tar.gz.enc"))
			})

			Convey("A panic should fail the run and still release the root", func() {
				result := encrypt(failingEncryptor{err: errors.New("illegal work factor"), panics: true})

				So(errors.Is(result.Err, domain.ErrEncryption), ShouldBeTrue)
				So(result.Err.Error(), ShouldContainSubstring, "illegal work factor")
				So(visibleFiles(t, workParent), ShouldBeEmpty)

				held, err := lock.Acquire(root)
				So(err, ShouldBeNil)
				So(held.Release(), ShouldBeNil)
			})
		})

		Convey("When the database never becomes ready", func() {
			db.readyAfter = -1
			cfg.Database.ReadinessTimeout = 30 * time.Millisecond

			result := newBackup().Execute(ctx, domain.PurposeBackup)

			Convey("It should fail with a readiness timeout and never dump", func() {
				So(errors.Is(result.Err, domain.ErrReadinessTimeout), ShouldBeTrue)
				So(domain.ExitCode(result.Err), ShouldEqual, 4)
				So(db.dumps, ShouldEqual, 0)
			})
		})

		Convey("When another run holds the backup root", func() {
			held, err := lock.Acquire(root)
			So(err, ShouldBeNil)
			defer held.Release()

			result := newBackup().Execute(ctx, domain.PurposeBackup)

			Convey("It should fail deterministically without touching the database", func() {
				So(errors.Is(result.Err, domain.ErrLocked), ShouldBeTrue)
				So(domain.ExitCode(result.Err), ShouldEqual, 3)
				So(db.Pings(), ShouldEqual, 0)
			})
		})

		Convey("When an old artifact sits in the root", func() {
			So(os.MkdirAll(root, 0755), ShouldBeNil)
			old := filepath.Join(root, "orders-backup-2024-05-01_0100.tar.gz")
			writeAged(t, old, 31*day)

			cleanup := NewCleanup(storage.NewLocal(root), nil, nopLogger{}, cfg.RetentionWindow())

			Convey("A regular backup should keep it", func() {
				result := newBackup(WithCleanup(cleanup)).Execute(ctx, domain.PurposeBackup)
				So(result.Err, ShouldBeNil)
				So(result.Sweep, ShouldBeNil)
				_, err := os.Stat(old)
				So(err, ShouldBeNil)
			})

			Convey("A backup with retention should sweep it and keep the new artifact", func() {
				result := newBackup(WithCleanup(cleanup)).Execute(ctx, domain.PurposeBackupWithRetention)
				So(result.Err, ShouldBeNil)
				So(result.Sweep, ShouldNotBeNil)
				So(result.Sweep.Deleted, ShouldResemble, []string{"orders-backup-2024-05-01_0100.tar.gz"})
				So(visibleFiles(t, root), ShouldResemble, []string{"orders-backup-2024-06-01_1405.tar.gz"})
			})
		})

		Convey("When mirror targets and notifiers are configured", func() {
			mirror := newFakeStorage()
			notifier := &fakeNotifier{}

			result := newBackup(
				WithUploadTargets([]UploadTarget{{Name: "mirror", Storage: mirror}}),
				WithNotifiers([]domain.Notifier{notifier}),
			).Execute(ctx, domain.PurposeBackup)

			Convey("It should mirror the artifact and announce success", func() {
				So(result.Err, ShouldBeNil)
				So(mirror.uploads, ShouldResemble, []string{"orders-backup-2024-06-01_1405.tar.gz"})
				So(len(notifier.messages), ShouldEqual, 1)
				So(notifier.messages[0], ShouldContainSubstring, "completed")
			})
		})

		Convey("When a mirror upload fails", func() {
			notifier := &fakeNotifier{}
			mirror := storage.NewLocal(filepath.Join(workParent, "blocked"))
			So(os.WriteFile(filepath.Join(workParent, "blocked"), []byte("x"), 0644), ShouldBeNil)

			result := newBackup(
				WithUploadTargets([]UploadTarget{{Name: "mirror", Storage: mirror}}),
				WithNotifiers([]domain.Notifier{notifier}),
			).Execute(ctx, domain.PurposeBackup)

			Convey("The run should still succeed", func() {
				So(result.Err, ShouldBeNil)
				So(result.OK(), ShouldBeTrue)
			})
		})

		Convey("When a run fails and a notifier is configured", func() {
			notifier := &fakeNotifier{}
			db.dumpErr = &domain.DumpError{Engine: "postgresql", ExitCode: 1}

			newBackup(WithNotifiers([]domain.Notifier{notifier})).Execute(ctx, domain.PurposeBackup)

			Convey("It should announce the failure", func() {
				So(len(notifier.messages), ShouldEqual, 1)
				So(notifier.messages[0], ShouldContainSubstring, "failed")
			})
		})

		Convey("When the purpose is unknown", func() {
			result := newBackup().Execute(ctx, domain.Purpose("restore"))

			Convey("It should be a configuration error", func() {
				So(errors.Is(result.Err, domain.ErrConfiguration), ShouldBeTrue)
			})
		})
	})
}
