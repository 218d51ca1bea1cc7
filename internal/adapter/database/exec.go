package database

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/semmidev/pgstash/internal/domain"
)

const stderrTailBytes = 2048

// runDump executes a dump tool with extra environment entries and converts
// a failed exit into a *domain.DumpError.
func runDump(ctx context.Context, engine, name string, args, env []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &domain.DumpError{
			Engine:     engine,
			ExitCode:   exitCode,
			StderrTail: tail(stderr.String(), stderrTailBytes),
			Err:        err,
		}
	}

	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
