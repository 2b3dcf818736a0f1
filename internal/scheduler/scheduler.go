package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval with the scheduled tick time.
type TickFunc func(ctx context.Context, at time.Time) error

// Runner drives a TickFunc until its context ends.
type Runner interface {
	Run(ctx context.Context, tick TickFunc) error
}

var _ Runner = (*Scheduler)(nil)

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// AlignToStart snaps ticks to wall-clock multiples of Interval.
	AlignToStart bool
	StartupDelay time.Duration
	// RunImmediately fires one tick as soon as Run starts.
	RunImmediately bool
}

// Scheduler invokes a tick function on a fixed cadence.
type Scheduler struct {
	opts   Options
	clock  Clock
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		clock:  NewRealClock(),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Interval reports the configured cadence.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Run blocks, invoking tick at each interval until ctx is cancelled. Tick
// errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunImmediately {
		s.fire(ctx, tick, s.clock.Now())
	}

	next := s.nextTick(s.clock.Now())
	for {
		delay := next.Sub(s.clock.Now())
		if delay < 0 {
			s.logger.Debug().Dur("behind", -delay).Msg("tick overran interval")
			next = s.nextTick(s.clock.Now())
			delay = next.Sub(s.clock.Now())
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		s.fire(ctx, tick, s.tickStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Debug().Time("tick", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("tick", at).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) tickStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
