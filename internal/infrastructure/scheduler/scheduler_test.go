package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type testLogger struct {
	errors atomic.Int32
}

func (l *testLogger) Infof(string, ...interface{})  {}
func (l *testLogger) Errorf(string, ...interface{}) { l.errors.Add(1) }

func TestScheduler(t *testing.T) {
	Convey("Given a Scheduler", t, func() {
		logger := &testLogger{}
		scheduler := New(logger)

		Convey("It should create a new scheduler successfully", func() {
			So(scheduler.cron, ShouldNotBeNil)
			So(scheduler.Next().IsZero(), ShouldBeTrue)
		})

		Convey("When adding a job with a valid cron spec", func() {
			var runs atomic.Int32
			err := scheduler.AddJob("tick", "* * * * * *", func(ctx context.Context) error {
				runs.Add(1)
				return nil
			})
			So(err, ShouldBeNil)

			Convey("It should run once started", func() {
				scheduler.Start()
				So(scheduler.Next().IsZero(), ShouldBeFalse)
				time.Sleep(2100 * time.Millisecond)
				scheduler.Stop()

				So(runs.Load(), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When a job panics", func() {
			var runs atomic.Int32
			err := scheduler.AddJob("panicky", "* * * * * *", func(ctx context.Context) error {
				runs.Add(1)
				panic("age: SetWorkFactor called with illegal value")
			})
			So(err, ShouldBeNil)

			scheduler.Start()
			time.Sleep(2100 * time.Millisecond)
			scheduler.Stop()

			Convey("The panic should be logged and later slots still run", func() {
				So(logger.errors.Load(), ShouldBeGreaterThanOrEqualTo, 1)
				So(runs.Load(), ShouldBeGreaterThanOrEqualTo, 2)
			})
		})

		Convey("When a job fails", func() {
			err := scheduler.AddJob("broken", "* * * * * *", func(ctx context.Context) error {
				return errors.New("boom")
			})
			So(err, ShouldBeNil)

			scheduler.Start()
			time.Sleep(1100 * time.Millisecond)
			scheduler.Stop()

			Convey("The failure should be logged", func() {
				So(logger.errors.Load(), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When adding a job with an invalid cron spec", func() {
			err := scheduler.AddJob("bad", "invalid spec", func(ctx context.Context) error { return nil })

			Convey("It should return an error naming the job", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "bad")
				So(err.Error(), ShouldContainSubstring, "expected exactly 6 fields")
			})
		})

		Convey("When stopping while a job is running", func() {
			cancelled := make(chan struct{})
			var once sync.Once
			err := scheduler.AddJob("long", "* * * * * *", func(ctx context.Context) error {
				<-ctx.Done()
				once.Do(func() { close(cancelled) })
				return ctx.Err()
			})
			So(err, ShouldBeNil)

			scheduler.Start()
			time.Sleep(1100 * time.Millisecond)
			scheduler.Stop()

			Convey("The job context should be cancelled", func() {
				select {
				case <-cancelled:
				case <-time.After(time.Second):
					t.Error("job context was not cancelled")
				}
			})
		})
	})
}
