package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeScanner struct {
	calls int
	err   error
	panic bool
}

func (s *fakeScanner) Scan(_ context.Context, _ time.Time) error {
	s.calls++
	if s.panic {
		panic("scanner exploded")
	}
	return s.err
}

type fakeSweeper struct {
	calls int
	swept int
	err   error
}

func (s *fakeSweeper) SweepOverdue(_ context.Context, _ time.Time) (int, error) {
	s.calls++
	return s.swept, s.err
}

type fakeDrainer struct {
	calls int
	err   error
}

func (d *fakeDrainer) Drain(_ context.Context) (int, error) {
	d.calls++
	return 0, d.err
}

type fakeCleaner struct {
	calls int
}

func (c *fakeCleaner) Run(_ context.Context, _ time.Time) error {
	c.calls++
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

// nil redis client skips leader election: the instance always leads.
func newTestScheduler(t *testing.T, scanner *fakeScanner, sweeper *fakeSweeper, drainer *fakeDrainer, cleaner *fakeCleaner) *Scheduler {
	t.Helper()
	s, err := NewScheduler(nil, "test-instance", scanner, sweeper, drainer, cleaner, slog.Default())
	require.NoError(t, err)
	return s
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestTick_RunsAllPhases(t *testing.T) {
	scanner, sweeper, drainer, cleaner := &fakeScanner{}, &fakeSweeper{}, &fakeDrainer{}, &fakeCleaner{}
	s := newTestScheduler(t, scanner, sweeper, drainer, cleaner)
	s.nextCleanup = time.Now().Add(time.Hour)

	s.Tick(context.Background())

	assert.Equal(t, 1, scanner.calls)
	assert.Equal(t, 1, sweeper.calls)
	assert.Equal(t, 1, drainer.calls)
	assert.Zero(t, cleaner.calls, "cleanup only fires at its scheduled time")
}

func TestTick_PhaseErrorDoesNotStopOthers(t *testing.T) {
	scanner := &fakeScanner{err: errors.New("scan failed")}
	sweeper, drainer := &fakeSweeper{}, &fakeDrainer{}
	s := newTestScheduler(t, scanner, sweeper, drainer, &fakeCleaner{})
	s.nextCleanup = time.Now().Add(time.Hour)

	s.Tick(context.Background())

	assert.Equal(t, 1, sweeper.calls)
	assert.Equal(t, 1, drainer.calls)
}

func TestTick_PhasePanicIsIsolated(t *testing.T) {
	scanner := &fakeScanner{panic: true}
	sweeper, drainer := &fakeSweeper{}, &fakeDrainer{}
	s := newTestScheduler(t, scanner, sweeper, drainer, &fakeCleaner{})
	s.nextCleanup = time.Now().Add(time.Hour)

	require.NotPanics(t, func() { s.Tick(context.Background()) })
	assert.Equal(t, 1, sweeper.calls)
	assert.Equal(t, 1, drainer.calls)
}

func TestTick_CleanupFiresWhenDue(t *testing.T) {
	cleaner := &fakeCleaner{}
	s := newTestScheduler(t, &fakeScanner{}, &fakeSweeper{}, &fakeDrainer{}, cleaner)

	now := time.Date(2026, 4, 2, 2, 30, 0, 0, time.UTC)
	s.WithClock(func() time.Time { return now })
	s.nextCleanup = now.Add(-time.Minute)

	s.Tick(context.Background())
	require.Equal(t, 1, cleaner.calls)
	assert.True(t, s.nextCleanup.After(now), "next cleanup is pushed to the following schedule slot")

	// A second tick before the next slot does nothing.
	s.Tick(context.Background())
	assert.Equal(t, 1, cleaner.calls)
}
