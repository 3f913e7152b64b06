package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bentrade/bentrade/internal/providers"
)

// testLimiter builds a limiter with tight pacing, no jitter, and a sleep
// recorder so retry delays can be asserted without waiting.
func testLimiter(cfg Config) (*Limiter, *[]time.Duration) {
	l := New(cfg, nil, zerolog.Nop())
	var slept []time.Duration
	var mu sync.Mutex
	l.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return ctx.Err()
	}
	l.jitter = func() float64 { return 0 }
	return l, &slept
}

func TestRunStepRetriesOn429(t *testing.T) {
	l, slept := testLimiter(Config{
		MinDelay:    time.Millisecond,
		MaxRetries:  3,
		BackoffBase: 2 * time.Second,
		BackoffCap:  30 * time.Second,
	})

	calls := 0
	result, err := l.RunStep(context.Background(), "tradier", "credit_put", func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, providers.ClassifyHTTP("tradier", "credit_put", 429, errors.New("rate limited"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result.Value)
	assert.Equal(t, 3, result.Attempts)

	// Two retry sleeps: 2s then 4s (no jitter in tests).
	require.Len(t, *slept, 2)
	assert.GreaterOrEqual(t, (*slept)[0], 2*time.Second)
	assert.GreaterOrEqual(t, (*slept)[1], 4*time.Second)
}

func TestRunStepBackoffIsCapped(t *testing.T) {
	l, slept := testLimiter(Config{
		MinDelay:    time.Millisecond,
		MaxRetries:  6,
		BackoffBase: 2 * time.Second,
		BackoffCap:  5 * time.Second,
	})

	_, err := l.RunStep(context.Background(), "yahoo", "quotes", func(ctx context.Context) (interface{}, error) {
		return nil, providers.ClassifyHTTP("yahoo", "quotes", 503, errors.New("unavailable"))
	})

	require.Error(t, err)
	require.Len(t, *slept, 6)
	for _, d := range *slept {
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestRunStepDoesNotRetryFatal(t *testing.T) {
	l, slept := testLimiter(Config{MinDelay: time.Millisecond, MaxRetries: 3})

	calls := 0
	_, err := l.RunStep(context.Background(), "finnhub", "regime", func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, providers.ClassifyHTTP("finnhub", "regime", 400, errors.New("bad request"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
	assert.Equal(t, providers.KindFatal, providers.KindOf(err))
}

func TestRunStepDoesNotRetryNotImplemented(t *testing.T) {
	l, slept := testLimiter(Config{MinDelay: time.Millisecond, MaxRetries: 3})

	calls := 0
	_, err := l.RunStep(context.Background(), "tradier", "calendar", func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, providers.ClassifyHTTP("tradier", "calendar", 501, errors.New("not implemented"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestRunStepErrorCarriesAttemptCount(t *testing.T) {
	l, _ := testLimiter(Config{MinDelay: time.Millisecond, MaxRetries: 2})

	_, err := l.RunStep(context.Background(), "yahoo", "spy", func(ctx context.Context) (interface{}, error) {
		return nil, providers.ClassifyHTTP("yahoo", "spy", 500, errors.New("boom"))
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 attempt(s)")
}

func TestRunStepCancellationDuringBackoff(t *testing.T) {
	l := New(Config{MinDelay: time.Millisecond, MaxRetries: 3, BackoffBase: time.Second}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	l.jitter = func() float64 { return 0 }
	l.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := l.RunStep(ctx, "fred", "macro", func(ctx context.Context) (interface{}, error) {
		return nil, providers.ClassifyHTTP("fred", "macro", 429, errors.New("rate limited"))
	})

	require.Error(t, err)
	assert.True(t, providers.IsCancelled(err))
}

func TestRunStepDeadlineIsNotCancellation(t *testing.T) {
	l, _ := testLimiter(Config{MinDelay: time.Millisecond, MaxRetries: 0})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := l.RunStep(ctx, "tradier", "scan", func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, providers.IsCancelled(err), "a timed-out step is not a cooperative cancel")
	assert.True(t, providers.IsTransient(err))
}

func TestRunStepDeadlineDuringBackoffIsTransient(t *testing.T) {
	l, _ := testLimiter(Config{MinDelay: time.Millisecond, MaxRetries: 2, BackoffBase: time.Second})
	l.sleep = func(ctx context.Context, d time.Duration) error {
		return context.DeadlineExceeded
	}

	_, err := l.RunStep(context.Background(), "yahoo", "macro", func(ctx context.Context) (interface{}, error) {
		return nil, providers.ClassifyHTTP("yahoo", "macro", 429, errors.New("rate limited"))
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, providers.IsTransient(err))
	assert.False(t, providers.IsCancelled(err))
}

func TestRunStepPacingGap(t *testing.T) {
	minDelay := 60 * time.Millisecond
	l := New(Config{MinDelay: minDelay, MaxRetries: 0}, nil, zerolog.Nop())

	var executions []time.Time
	for i := 0; i < 3; i++ {
		_, err := l.RunStep(context.Background(), "finnhub", fmt.Sprintf("step_%d", i), func(ctx context.Context) (interface{}, error) {
			executions = append(executions, time.Now())
			return nil, nil
		})
		require.NoError(t, err)
	}

	require.Len(t, executions, 3)
	for i := 1; i < len(executions); i++ {
		gap := executions[i].Sub(executions[i-1])
		assert.GreaterOrEqual(t, gap, minDelay-5*time.Millisecond,
			"consecutive sends to one provider must honor min delay")
	}
}

func TestRunStepSerialPerProvider(t *testing.T) {
	l := New(Config{MinDelay: time.Millisecond, MaxRetries: 0}, nil, zerolog.Nop())

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.RunStep(context.Background(), "tradier", "scan", func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					cur := atomic.LoadInt32(&maxActive)
					if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil, nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive),
		"steps for one provider must execute serially")
}

func TestDifferentProvidersProceedIndependently(t *testing.T) {
	l := New(Config{MinDelay: 80 * time.Millisecond, MaxRetries: 0}, nil, zerolog.Nop())

	// Consume the initial burst token for both providers.
	_, _ = l.RunStep(context.Background(), "a", "warm", func(ctx context.Context) (interface{}, error) { return nil, nil })
	_, _ = l.RunStep(context.Background(), "b", "warm", func(ctx context.Context) (interface{}, error) { return nil, nil })

	start := time.Now()
	var wg sync.WaitGroup
	for _, provider := range []string{"a", "b"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, _ = l.RunStep(context.Background(), p, "step", func(ctx context.Context) (interface{}, error) { return nil, nil })
		}(provider)
	}
	wg.Wait()

	// Both waited one pacing interval, but in parallel rather than in series.
	assert.Less(t, time.Since(start), 160*time.Millisecond)
}
