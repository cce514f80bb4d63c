// Package scheduler runs IntakePipe's periodic maintenance jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPurgeSchedule runs the stale-session purge hourly.
const DefaultPurgeSchedule = "@hourly"

// Purger deletes records idle since before a cutoff. *flow.SessionService implements it.
type Purger interface {
	PurgeStale(cutoff time.Time) (int, error)
}

// PurgerFunc adapts a function such as store.DedupRepo.PurgeInboundBefore to Purger.
type PurgerFunc func(cutoff time.Time) (int, error)

// PurgeStale calls f(cutoff).
func (f PurgerFunc) PurgeStale(cutoff time.Time) (int, error) {
	return f(cutoff)
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	now  func() time.Time
}

// NewScheduler creates and starts a cron scheduler using 5-field expressions
// (minute, hour, day of month, month, day of week) or descriptors such as "@hourly".
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c, now: time.Now}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// SchedulePurge runs p.PurgeStale on expr, removing sessions not updated within ttl.
func (s *Scheduler) SchedulePurge(expr string, ttl time.Duration, p Purger) error {
	if ttl <= 0 {
		return fmt.Errorf("session TTL must be positive, got %s", ttl)
	}
	if err := s.AddJob(expr, func() { s.purge(ttl, p) }); err != nil {
		return err
	}
	slog.Info("Scheduler.SchedulePurge: stale-session purge scheduled", "expr", expr, "ttl", ttl)
	return nil
}

func (s *Scheduler) purge(ttl time.Duration, p Purger) int {
	cutoff := s.now().Add(-ttl)
	n, err := p.PurgeStale(cutoff)
	if err != nil {
		slog.Error("Scheduler.purge: purge failed", "error", err, "cutoff", cutoff)
		return 0
	}
	if n > 0 {
		slog.Info("Scheduler.purge: stale records removed", "count", n, "cutoff", cutoff)
	}
	return n
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("Scheduler.Stop: running jobs did not finish before shutdown deadline")
	}
}
