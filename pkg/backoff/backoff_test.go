package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulnovauk/fieldops/pkg/backoff"
)

func TestDelay_Schedule(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{11, 2048 * time.Second},
		{12, time.Hour},   // 4096s > 1h, capped
		{100, time.Hour},  // far past the cap
		{-3, time.Second}, // negative treated as zero
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoff.Delay(tc.attempts), "attempts=%d", tc.attempts)
	}
}

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := backoff.Do(context.Background(), backoff.Config{MaxAttempts: 3}, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsErrorAfterMaxAttempts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	calls := 0
	sentinel := errors.New("permanent error")
	err := backoff.Do(ctx, backoff.Config{MaxAttempts: 2}, func() error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 2, calls)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := backoff.Do(ctx, backoff.Config{MaxAttempts: 10}, func() error {
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDo_OnRetryCalledWithAttempt(t *testing.T) {
	var attempts []int
	_ = backoff.Do(context.Background(), backoff.Config{
		MaxAttempts: 2,
		OnRetry:     func(attempt int, err error) { attempts = append(attempts, attempt) },
	}, func() error {
		return errors.New("fail")
	})
	assert.Equal(t, []int{1}, attempts)
}
