package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/semmidev/pgstash/internal/domain"
)

// Readiness polls a database until it accepts connections.
type Readiness struct {
	logger   Logger
	interval time.Duration
	maxWait  time.Duration
}

// NewReadiness builds a waiter probing every interval. A zero maxWait waits
// until ctx is cancelled.
func NewReadiness(logger Logger, interval, maxWait time.Duration) *Readiness {
	return &Readiness{logger: logger, interval: interval, maxWait: maxWait}
}

// WaitUntilReady returns nil on the first successful probe. It fails with
// domain.ErrReadinessTimeout once maxWait elapses, or with the context error
// when ctx is cancelled.
func (r *Readiness) WaitUntilReady(ctx context.Context, db domain.Database) error {
	waitCtx := ctx
	if r.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, r.maxWait, domain.ErrReadinessTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		r.logger.Infof("Waiting for %s at %s (probe %d)...", db.GetType(), db.Endpoint(), attempt)

		err := db.Ping(waitCtx)
		if err == nil {
			r.logger.Infof("%s at %s is ready after %d probe(s)", db.GetType(), db.Endpoint(), attempt)
			return nil
		}
		lastErr = err

		timer := time.NewTimer(r.interval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return r.doneErr(waitCtx, attempt, lastErr)
		case <-timer.C:
			r.logger.Warnf("%s at %s not ready: %v; retrying", db.GetType(), db.Endpoint(), lastErr)
		}
	}
}

func (r *Readiness) doneErr(waitCtx context.Context, attempts int, lastErr error) error {
	if errors.Is(context.Cause(waitCtx), domain.ErrReadinessTimeout) {
		return fmt.Errorf("%w: gave up after %s and %d probe(s): %v",
			domain.ErrReadinessTimeout, r.maxWait, attempts, lastErr)
	}
	return fmt.Errorf("readiness wait cancelled after %d probe(s): %w", attempts, waitCtx.Err())
}
