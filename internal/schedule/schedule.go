// Package schedule runs the backup job on a cron expression.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kebairia/mybak/internal/logger"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse checks a cron expression. Five fields, an optional leading seconds
// field and descriptors such as @daily are accepted.
func Parse(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return s, nil
}

// NextRuns returns the next n activation times after from.
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	for t := from; len(out) < n; {
		t = s.Next(t)
		out = append(out, t)
	}
	return out, nil
}

// Job is one scheduled backup run.
type Job func(ctx context.Context) error

// Runner fires Job on every activation. An activation that arrives while
// the previous run is still going is skipped.
type Runner struct {
	expr string
	job  Job
	log  logger.Logger
}

func NewRunner(expr string, job Job, log logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{expr: expr, job: job, log: log}
}

// Run blocks until ctx is cancelled, then waits for a running job to end.
func (r *Runner) Run(ctx context.Context) error {
	sched, err := Parse(r.expr)
	if err != nil {
		return err
	}
	cl := cronLogger{log: r.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(r.expr, func() {
		if err := r.job(ctx); err != nil {
			r.log.Error("scheduled backup failed", "error", err.Error())
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", r.expr, err)
	}

	c.Start()
	r.log.Info("scheduler started", "cron", r.expr, "next", sched.Next(time.Now()).Format(time.RFC3339))

	<-ctx.Done()
	r.log.Info("scheduler stopping, waiting for running backup")
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
