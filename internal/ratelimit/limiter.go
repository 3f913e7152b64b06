// Package ratelimit paces outbound provider calls. Every call site goes
// through RunStep, which serializes per provider, spaces consecutive sends by
// a minimum delay, and retries transient failures with capped exponential
// backoff. Retry policy lives here and nowhere else.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bentrade/bentrade/internal/providers"
)

// Config holds limiter tuning.
type Config struct {
	MinDelay    time.Duration // Minimum spacing between sends to one provider
	MaxRetries  int           // Retries after the first attempt, transient errors only
	BackoffBase time.Duration // First retry delay
	BackoffCap  time.Duration // Upper bound on any retry delay
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinDelay:    750 * time.Millisecond,
		MaxRetries:  3,
		BackoffBase: 2 * time.Second,
		BackoffCap:  30 * time.Second,
	}
}

// StepResult is the outcome of a successful RunStep.
type StepResult struct {
	Value    interface{}
	Attempts int
}

// Limiter paces and retries provider calls. Safe for concurrent use;
// concurrent callers against the same provider execute serially.
type Limiter struct {
	cfg    Config
	health *providers.HealthRegistry // optional circuit breaker + health recording
	log    zerolog.Logger

	mu     sync.Mutex
	states map[string]*providerState

	// sleep is injectable so tests can observe retry delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error
	// jitter returns a random fraction in [0,1) scaling the added jitter.
	jitter func() float64
}

type providerState struct {
	mu    sync.Mutex // Held for the whole step: serial execution per provider
	pacer *rate.Limiter
}

// New creates a limiter. health may be nil.
func New(cfg Config, health *providers.HealthRegistry, log zerolog.Logger) *Limiter {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = DefaultConfig().MinDelay
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	return &Limiter{
		cfg:    cfg,
		health: health,
		log:    log.With().Str("component", "rate_limiter").Logger(),
		states: make(map[string]*providerState),
		sleep:  sleepCtx,
		jitter: rand.Float64,
	}
}

func (l *Limiter) state(provider string) *providerState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[provider]
	if !ok {
		st = &providerState{
			pacer: rate.NewLimiter(rate.Every(l.cfg.MinDelay), 1),
		}
		l.states[provider] = st
	}
	return st
}

// RunStep executes fn under the provider's pacing and retry policy.
// Transient failures retry up to MaxRetries times with delay
// min(BackoffBase * 2^attempt, BackoffCap) plus up to 25% jitter.
// NotImplemented, Fatal and Cancelled errors propagate immediately.
// A cancelled context surfaces as Cancelled, an expired deadline as
// Transient. The returned error carries the attempt count in its message.
func (l *Limiter) RunStep(ctx context.Context, provider, label string, fn func(ctx context.Context) (interface{}, error)) (StepResult, error) {
	st := l.state(provider)
	st.mu.Lock()
	defer st.mu.Unlock()

	attempts := 0
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if waitErr := st.pacer.Wait(ctx); waitErr != nil {
			cause := ctx.Err()
			if cause == nil {
				cause = waitErr
			}
			return StepResult{Attempts: attempts},
				providers.ClassifyErr(provider, label, cause)
		}

		attempts++
		value, err := l.execute(ctx, provider, fn)
		if err == nil {
			if attempts > 1 {
				l.log.Info().
					Str("provider", provider).
					Str("step", label).
					Int("attempts", attempts).
					Msg("Step succeeded after retry")
			}
			return StepResult{Value: value, Attempts: attempts}, nil
		}

		lastErr = err
		kind := providers.KindOf(err)
		if kind != providers.KindTransient || attempt == l.cfg.MaxRetries {
			break
		}

		delay := l.backoff(attempt)
		l.log.Warn().
			Str("provider", provider).
			Str("step", label).
			Int("attempt", attempts).
			Dur("retry_in", delay).
			Err(err).
			Msg("Transient step failure, retrying")

		if err := l.sleep(ctx, delay); err != nil {
			return StepResult{Attempts: attempts},
				providers.ClassifyErr(provider, label, err)
		}
	}

	return StepResult{Attempts: attempts},
		fmt.Errorf("%s %s failed after %d attempt(s): %w", provider, label, attempts, lastErr)
}

func (l *Limiter) execute(ctx context.Context, provider string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if l.health != nil {
		return l.health.Do(provider, func() (interface{}, error) {
			return fn(ctx)
		})
	}
	return fn(ctx)
}

// backoff computes the retry delay for a zero-based attempt index.
func (l *Limiter) backoff(attempt int) time.Duration {
	delay := l.cfg.BackoffBase << uint(attempt)
	if delay > l.cfg.BackoffCap || delay <= 0 {
		delay = l.cfg.BackoffCap
	}
	// Up to 25% jitter keeps synchronized callers from thundering.
	delay += time.Duration(float64(delay) * 0.25 * l.jitter())
	if delay > l.cfg.BackoffCap {
		delay = l.cfg.BackoffCap
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
