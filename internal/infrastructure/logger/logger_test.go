package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger(t *testing.T) {
	Convey("Given a logger with console output only", t, func() {
		logger, err := New("info", "")

		Convey("It should log and close without a file", func() {
			So(err, ShouldBeNil)
			So(func() { logger.Infof("Waiting for %s (probe %d)", "db:5432", 1) }, ShouldNotPanic)
			So(func() { logger.Close() }, ShouldNotPanic)
		})
	})

	Convey("Given a logger writing to a file in a missing directory", t, func() {
		logFile := filepath.Join(t.TempDir(), "logs", "pgstash.log")
		logger, err := New("info", logFile)
		So(err, ShouldBeNil)

		logger.Debugf("dropped below level")
		logger.Named("backup").Infof("Backup completed: %s", "orders-backup-2024-06-01_0100.tar.gz")
		logger.Warnf("Retention: %d error(s)", 1)
		logger.Close()

		Convey("It should create the directory and write one JSON object per line", func() {
			entries := readLines(t, logFile)
			So(entries, ShouldHaveLength, 2)

			So(entries[0]["level"], ShouldEqual, "INFO")
			So(entries[0]["logger"], ShouldEqual, "backup")
			So(entries[0]["msg"], ShouldContainSubstring, "orders-backup-2024-06-01_0100.tar.gz")
			So(entries[0], ShouldContainKey, "timestamp")

			So(entries[1]["level"], ShouldEqual, "WARN")
		})
	})

	Convey("Given a log file path below a regular file", t, func() {
		blocker := filepath.Join(t.TempDir(), "not-a-dir")
		So(os.WriteFile(blocker, []byte("x"), 0644), ShouldBeNil)

		logger, err := New("info", filepath.Join(blocker, "logs", "pgstash.log"))

		Convey("It should refuse to build a logger", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to create log directory")
			So(logger, ShouldBeNil)
		})
	})

	Convey("Given a discarding logger", t, func() {
		logger := NewNop().Named("scheduler")

		Convey("It should accept every call", func() {
			So(func() {
				logger.Infof("Job %s started", "backup-1")
				logger.Errorf("Job %s failed: %v", "backup-1", "boom")
				logger.Close()
			}, ShouldNotPanic)
		})
	})

	Convey("parseLevel", t, func() {
		So(parseLevel("debug").String(), ShouldEqual, "debug")
		So(parseLevel("WARN").String(), ShouldEqual, "warn")
		So(parseLevel("nonsense").String(), ShouldEqual, "info")
		So(parseLevel("").String(), ShouldEqual, "info")
	})
}
