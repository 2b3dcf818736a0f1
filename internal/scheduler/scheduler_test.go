package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTicksUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, RunImmediately: true}, zerolog.Nop())

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) == 2 {
				return errors.New("boom")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 4 }, time.Second, 5*time.Millisecond,
		"a failing tick does not stop the loop")
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunImmediatelyFiresBeforeFirstInterval(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunImmediately: true}, zerolog.Nop())
	fired := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = s.Run(ctx, func(context.Context, time.Time) error {
			fired <- struct{}{}
			return nil
		})
	}()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("no immediate tick")
	}
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC), s.nextTick(now))

	unaligned := New(Options{Interval: time.Minute}, zerolog.Nop())
	assert.Equal(t, now.Add(time.Minute), unaligned.nextTick(now))
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
