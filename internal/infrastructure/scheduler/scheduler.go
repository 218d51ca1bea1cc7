package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Scheduler runs jobs on six-field cron specs. Jobs receive a context that is
// cancelled by Stop; a job still running when its next slot fires is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(
				cron.Recover(cronLogger{logger}),
				cron.SkipIfStillRunning(cron.DiscardLogger),
			),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// cronLogger routes cron's own messages, recovered panics included, to Logger.
type cronLogger struct {
	logger Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infof("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}

func (s *Scheduler) AddJob(name, spec string, job func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		s.logger.Infof("Job %s started", name)
		if err := job(s.ctx); err != nil {
			s.logger.Errorf("Job %s failed after %s: %v", name, time.Since(start).Round(time.Second), err)
			return
		}
		s.logger.Infof("Job %s finished in %s", name, time.Since(start).Round(time.Second))
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	return nil
}

// Next returns the earliest upcoming run, or the zero time when nothing is scheduled.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, entry := range s.cron.Entries() {
		if next.IsZero() || (!entry.Next.IsZero() && entry.Next.Before(next)) {
			next = entry.Next
		}
	}
	return next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}
