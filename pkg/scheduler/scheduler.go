// Package scheduler runs named actions on their own interval,
// cooperatively, in a single background goroutine. It does not place
// workloads on nodes -- fats has only one node -- it is simply the
// generic "run this every N minutes, and let me nudge it sooner" timer
// the reconciliation loop and any future periodic task hang off of.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/geoge23/fats/pkg/log"
	"github.com/geoge23/fats/pkg/metrics"
)

// Action is a unit of scheduled work. It receives the tick's context
// and may return an error, which the Scheduler logs and swallows.
type Action func(ctx context.Context) error

// Schedule is one registered periodic action.
type Schedule struct {
	Name     string
	Interval time.Duration
	Action   Action

	lastRun time.Time
}

// Scheduler dispatches registered Schedules once their interval has
// elapsed, checking once a second. A single misbehaving or panicking
// Action never stops the others or the scheduler itself.
type Scheduler struct {
	logger zerolog.Logger

	mu        sync.Mutex
	schedules []*Schedule

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Scheduler with no registered schedules.
func New() *Scheduler {
	return &Scheduler{
		logger: log.WithComponent("scheduler"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Register adds a Schedule to run every interval starting one interval
// from now. Register is safe to call before or after Start and from
// multiple goroutines.
func (s *Scheduler) Register(name string, interval time.Duration, action Action) *Schedule {
	sched := &Schedule{Name: name, Interval: interval, Action: action, lastRun: time.Now()}
	s.mu.Lock()
	s.schedules = append(s.schedules, sched)
	s.mu.Unlock()
	return sched
}

// RequestEarly makes sched eligible to run on the next tick regardless
// of how recently it last ran.
func (s *Scheduler) RequestEarly(sched *Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched.lastRun = time.Time{}
}

// Start begins the dispatch loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the dispatch loop to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	s.logger.Info().Msg("scheduler started")

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	due := make([]*Schedule, 0, len(s.schedules))
	now := time.Now()
	for _, sched := range s.schedules {
		if now.Sub(sched.lastRun) >= sched.Interval {
			sched.lastRun = now
			due = append(due, sched)
		}
	}
	s.mu.Unlock()

	for _, sched := range due {
		metrics.SchedulerTicksTotal.Inc()
		go s.runAction(ctx, sched)
	}
}

func (s *Scheduler) runAction(ctx context.Context, sched *Schedule) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SchedulerActionFailuresTotal.WithLabelValues(sched.Name).Inc()
			s.logger.Error().Str("schedule", sched.Name).Interface("panic", r).Msg("scheduled action panicked")
		}
	}()

	s.logger.Debug().Str("schedule", sched.Name).Msg("running scheduled action")
	if err := sched.Action(ctx); err != nil {
		metrics.SchedulerActionFailuresTotal.WithLabelValues(sched.Name).Inc()
		s.logger.Error().Err(fmt.Errorf("schedule %s: %w", sched.Name, err)).Msg("scheduled action failed")
		return
	}
	s.logger.Debug().Str("schedule", sched.Name).Msg("scheduled action completed")
}
