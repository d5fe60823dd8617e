package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per upkeep interval with the interval's bucket
// start time.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour. With AlignToStart set, ticks land on
// wall-clock interval boundaries so concurrent replicas agree on bucket times.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives periodic upkeep cycles until its context is cancelled.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function every interval. Tick errors are
// logged and the loop keeps going; only context cancellation stops it.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.nextAfter(time.Now().UTC())
	for {
		if wait := time.Until(next); wait > 0 {
			s.logger.Debug().Time("next_tick", next).Msg("waiting for next upkeep tick")
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		} else {
			// we overslept a whole interval (suspend, clock jump); realign
			next = s.nextAfter(time.Now().UTC())
			continue
		}

		bucket := next
		if s.opts.AlignToStart {
			bucket = bucket.Truncate(s.opts.Interval)
		}

		s.logger.Info().Time("bucket", bucket).Msg("running upkeep tick")
		if err := tick(ctx, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("upkeep tick failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextAfter(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	next := now.Truncate(s.opts.Interval)
	for !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
