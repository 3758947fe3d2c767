// Package sweep runs the pending-task reconciliation sweep on a cron
// schedule.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/siteyard/internal/alert"
	"github.com/zulandar/siteyard/internal/config"
	"github.com/zulandar/siteyard/internal/reconcile"
	"go.uber.org/zap"
)

// DefaultSchedule runs the sweep every five minutes.
const DefaultSchedule = "*/5 * * * *"

// ErrRunning is returned by RunOnce while another sweep is active.
var ErrRunning = errors.New("sweep: already running")

// Poller is the sweep's unit of work.
type Poller interface {
	PollPending(ctx context.Context) (reconcile.PollSummary, error)
}

// Scheduler triggers Poller on a schedule and never runs two sweeps at once.
type Scheduler struct {
	poller   Poller
	schedule cron.Schedule
	log      *zap.SugaredLogger
	alerts   alert.Notifier
	running  atomic.Bool
	now      func() time.Time
}

// New parses expr and returns a Scheduler.
func New(expr string, p Poller, log *zap.SugaredLogger, alerts alert.Notifier) (*Scheduler, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	sched, err := config.ParseSchedule(expr)
	if err != nil {
		return nil, fmt.Errorf("sweep: parse schedule %q: %w", expr, err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if alerts == nil {
		alerts = alert.Nop{}
	}
	return &Scheduler{poller: p, schedule: sched, log: log, alerts: alerts, now: time.Now}, nil
}

// Next returns the next fire time after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// RunOnce performs one sweep. It returns ErrRunning without doing anything
// if a sweep is already active.
func (s *Scheduler) RunOnce(ctx context.Context) (reconcile.PollSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return reconcile.PollSummary{}, ErrRunning
	}
	defer s.running.Store(false)

	start := s.now()
	sum, err := s.poller.PollPending(ctx)
	s.log.Infow("sweep finished",
		"checked", sum.Checked,
		"updated", sum.Updated,
		"skipped", sum.Skipped,
		"unknown", sum.Unknown,
		"duration", s.now().Sub(start))
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Errorw("sweep failed", "error", err)
		if aerr := s.alerts.Notify(ctx, alert.Alert{
			Title:    "Site sweep failed",
			Body:     err.Error(),
			Severity: alert.SeverityError,
		}); aerr != nil {
			s.log.Warnw("alert delivery failed", "error", aerr)
		}
	}
	return sum, err
}

// Run fires RunOnce on every schedule tick until ctx is cancelled, then
// waits for an active sweep to return. A tick that lands while a sweep is
// still active is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.RunOnce(ctx); errors.Is(err, ErrRunning) {
					s.log.Debugw("sweep tick skipped, previous run still active")
				}
			}()
			timer.Reset(s.untilNext())
		}
	}
}

func (s *Scheduler) untilNext() time.Duration {
	now := s.now()
	d := s.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
