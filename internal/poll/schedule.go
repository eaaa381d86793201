package poll

import (
	"context"
	"iter"
	"time"
)

const (
	// DefaultMaxAttempts bounds a poll run.
	DefaultMaxAttempts = 5
	// DefaultDelay is the fixed pause between attempts.
	DefaultDelay = 1500 * time.Millisecond
)

// Sleeper pauses between attempts. Sleep returns early with ctx's error when
// ctx is cancelled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepFunc adapts a function to Sleeper.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f.
func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper waits on a real timer.
var TimerSleeper Sleeper = SleepFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
})

// Schedule is a bounded sequence of attempts separated by a fixed delay.
type Schedule struct {
	MaxAttempts int
	Delay       time.Duration
	Sleeper     Sleeper
}

// DefaultSchedule returns five attempts 1.5s apart on a real timer.
func DefaultSchedule() Schedule {
	return Schedule{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultDelay,
		Sleeper:     TimerSleeper,
	}
}

func (s Schedule) normalized() Schedule {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.Delay < 0 {
		s.Delay = 0
	}
	if s.Sleeper == nil {
		s.Sleeper = TimerSleeper
	}
	return s
}

// Attempts yields attempt numbers 1..MaxAttempts. The delay runs before every
// attempt but the first, so stopping the range after a success or after the
// last attempt never waits. The sequence ends early if ctx is cancelled.
func (s Schedule) Attempts(ctx context.Context) iter.Seq[int] {
	s = s.normalized()
	return func(yield func(int) bool) {
		for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
			if attempt > 1 {
				if err := s.Sleeper.Sleep(ctx, s.Delay); err != nil {
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			if !yield(attempt) {
				return
			}
		}
	}
}
