package syncer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/FleetSync/internal/models"
)

type Runner interface {
	Run(ctx context.Context, trigger models.Trigger) models.RunSummary
}

// Scheduler fires scheduled runs on a fixed interval and queues async
// manual triggers. Both go through the same Runner, so they share its lock.
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runOnStart bool

	triggerCh chan struct{}

	lastTickUnixNano    atomic.Int64
	lastTriggerUnixNano atomic.Int64
}

func NewScheduler(r Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		runner:    r,
		interval:  interval,
		triggerCh: make(chan struct{}, 1),
	}
}

func (s *Scheduler) WithRunOnStart(v bool) *Scheduler {
	s.runOnStart = v
	return s
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// Trigger queues a manual run (best-effort, non-blocking). Repeated
// triggers while one is queued collapse into one.
func (s *Scheduler) Trigger() bool {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.runOnStart {
		s.fire(ctx, models.TriggerScheduled)
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.fire(ctx, models.TriggerScheduled)
		case <-s.triggerCh:
			s.fire(ctx, models.TriggerManual)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, trigger models.Trigger) {
	s.lastTickUnixNano.Store(time.Now().UTC().UnixNano())
	sum := s.runner.Run(ctx, trigger)
	if sum.Status == models.RunStatusFailed {
		slog.Error("sync run failed", "trigger", trigger, "run_id", sum.RunID, "errors", sum.ErrorCount)
	}
}

type SchedulerStats struct {
	Interval      string     `json:"interval"`
	LastFiredAt   *time.Time `json:"lastFiredAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	NextRunAfter  *time.Time `json:"nextRunAfter,omitempty"`
}

func (s *Scheduler) Stats() SchedulerStats {
	st := SchedulerStats{Interval: s.interval.String()}
	if n := s.lastTickUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastFiredAt = &t
		next := t.Add(s.interval)
		st.NextRunAfter = &next
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	return st
}
