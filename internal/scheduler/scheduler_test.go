package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingPurger struct {
	cutoffs []time.Time
	n       int
	err     error
}

func (p *recordingPurger) PurgeStale(cutoff time.Time) (int, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	return p.n, p.err
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	for _, expr := range []string{"* * * * *", "*/15 * * * *", "@hourly"} {
		if err := s.AddJob(expr, func() {}); err != nil {
			t.Errorf("AddJob(%q) returned error: %v", expr, err)
		}
	}
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestSchedulePurgeValidation(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	if err := s.SchedulePurge(DefaultPurgeSchedule, 0, &recordingPurger{}); err == nil {
		t.Error("expected error for zero TTL")
	}
	if err := s.SchedulePurge("bogus", time.Hour, &recordingPurger{}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := s.SchedulePurge(DefaultPurgeSchedule, time.Hour, &recordingPurger{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPurgeUsesTTLCutoff(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Scheduler{now: func() time.Time { return now }}
	p := &recordingPurger{n: 3}

	if got := s.purge(24*time.Hour, p); got != 3 {
		t.Errorf("purge returned %d, want 3", got)
	}
	if len(p.cutoffs) != 1 || !p.cutoffs[0].Equal(now.Add(-24*time.Hour)) {
		t.Errorf("unexpected cutoffs: %v", p.cutoffs)
	}
}

func TestPurgeErrorReturnsZero(t *testing.T) {
	s := &Scheduler{now: time.Now}
	if got := s.purge(time.Hour, &recordingPurger{n: 5, err: errors.New("db down")}); got != 0 {
		t.Errorf("purge returned %d on error, want 0", got)
	}
}

func TestPurgerFunc(t *testing.T) {
	var got time.Time
	f := PurgerFunc(func(cutoff time.Time) (int, error) {
		got = cutoff
		return 2, nil
	})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Scheduler{now: func() time.Time { return now }}
	if n := s.purge(time.Hour, f); n != 2 {
		t.Errorf("purge returned %d, want 2", n)
	}
	if !got.Equal(now.Add(-time.Hour)) {
		t.Errorf("cutoff = %v, want %v", got, now.Add(-time.Hour))
	}
}
