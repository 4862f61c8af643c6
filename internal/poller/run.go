package poller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "patchbell/pkg/logx"
)

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is an accepted cron expression.
func ValidateSchedule(spec string) error {
	if _, err := scheduleParser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Run polls until ctx is canceled. The first cycle starts immediately.
//
// Without a Schedule, the engine sleeps Interval after each cycle, so cycles
// never overlap. With a Schedule, cron triggers cycles and skips a trigger
// while the previous cycle is still running.
func (e *Engine) Run(ctx context.Context) error {
	if strings.TrimSpace(e.cfg.Schedule) != "" {
		return e.runCron(ctx)
	}
	e.log.Info("poller started", logx.Duration("interval", e.cfg.Interval), logx.Int("sources", e.cat.Len()))
	for {
		e.Cycle(ctx)

		t := time.NewTimer(e.cfg.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			e.log.Info("poller stopped")
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (e *Engine) runCron(ctx context.Context) error {
	spec := strings.TrimSpace(e.cfg.Schedule)
	clog := cronLogger{log: e.log.With(logx.String("sched", spec))}
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if _, err := c.AddFunc(spec, func() { e.Cycle(ctx) }); err != nil {
		return fmt.Errorf("poller schedule: %w", err)
	}

	e.log.Info("poller started", logx.String("schedule", spec), logx.Int("sources", e.cat.Len()))
	e.Cycle(ctx)
	c.Start()

	<-ctx.Done()
	// Wait for an in-flight cycle; it observes ctx and stops between sources.
	<-c.Stop().Done()
	e.log.Info("poller stopped")
	return ctx.Err()
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
