package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every scheduled activation.
type TickFunc func(ctx context.Context, at time.Time) error

// Locker grants one replica the right to run a tick.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Options tune scheduler behaviour.
type Options struct {
	Name string
	// Interval is used when Cron is empty.
	Interval time.Duration
	// Cron accepts standard five-field specs and descriptors such as "@every 5s".
	// It takes precedence over Interval.
	Cron         string
	AlignToStart bool
	StartupDelay time.Duration
	// Locker and LockKey enable per-tick leader election; zero key disables it.
	Locker  Locker
	LockKey int64
}

// Scheduler drives one poller. A tick that is still running when the next
// activation fires causes that activation to be skipped.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	logger   zerolog.Logger

	inFlight atomic.Bool
	wg       sync.WaitGroup
	skipped  atomic.Int64
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	var schedule cron.Schedule
	switch {
	case opts.Cron != "":
		parsed, err := cron.ParseStandard(opts.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse schedule %q for %s: %w", opts.Cron, opts.Name, err)
		}
		schedule = parsed
	case opts.Interval <= 0:
		return nil, fmt.Errorf("scheduler %s: interval or cron spec required", opts.Name)
	}

	return &Scheduler{
		opts:     opts,
		schedule: schedule,
		logger:   logger.With().Str("component", "scheduler").Str("task", opts.Name).Logger(),
	}, nil
}

// Name returns the task name.
func (s *Scheduler) Name() string { return s.opts.Name }

// Skipped counts activations dropped because a tick was still running.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// Run blocks, invoking tick at every activation until ctx is cancelled.
// In-flight ticks are awaited before Run returns.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	defer s.wg.Wait()

	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.dispatch(ctx, s.bucketStart(next), tick)
		next = s.nextTick(next)
	}
}

// RunOnce executes a single tick synchronously, honouring the advisory lock.
func (s *Scheduler) RunOnce(ctx context.Context, tick TickFunc) error {
	return s.execute(ctx, time.Now().UTC(), tick)
}

func (s *Scheduler) dispatch(ctx context.Context, at time.Time, tick TickFunc) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn().Time("at", at).Msg("previous tick still running, skipping")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Time("at", at).Msg("tick panicked")
			}
		}()

		if err := s.execute(ctx, at, tick); err != nil {
			s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
		}
	}()
}

func (s *Scheduler) execute(ctx context.Context, at time.Time, tick TickFunc) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}
	return tick(ctx, at)
}

func (s *Scheduler) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.opts.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.opts.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if s.schedule != nil {
		return s.schedule.Next(now)
	}
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if s.schedule != nil || !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
