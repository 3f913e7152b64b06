package providers

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/bentrade/bentrade/internal/domain"
)

// HealthRegistry tracks per-provider circuit breakers and the last observed
// outcome of each provider. Breaker state maps onto the source-health colors:
// closed is green, half-open is yellow, open is red.
type HealthRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	last     map[string]lastOutcome
	log      zerolog.Logger
}

type lastOutcome struct {
	message  string
	httpCode int
	at       time.Time
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry(log zerolog.Logger) *HealthRegistry {
	return &HealthRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		last:     make(map[string]lastOutcome),
		log:      log.With().Str("component", "provider_health").Logger(),
	}
}

// breaker returns (creating if needed) the circuit breaker for a provider.
func (h *HealthRegistry) breaker(provider string) *gobreaker.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cb, ok := h.breakers[provider]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Provider breaker state changed")
		},
	})
	h.breakers[provider] = cb
	return cb
}

// Do executes fn under the provider's circuit breaker and records the
// outcome. Cancellation does not count as a provider failure.
func (h *HealthRegistry) Do(provider string, fn func() (interface{}, error)) (interface{}, error) {
	cb := h.breaker(provider)

	value, err := cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if IsCancelled(err) {
			// Hide cancellation from the breaker's failure counting by
			// resolving the execution, then restore the error below.
			return cancelledResult{v: v, err: err}, nil
		}
		return v, err
	})
	if cr, ok := value.(cancelledResult); ok {
		return cr.v, cr.err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = NewError(KindTransient, provider, "breaker", 0, err)
	}

	h.record(provider, err)
	return value, err
}

type cancelledResult struct {
	v   interface{}
	err error
}

func (h *HealthRegistry) record(provider string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	outcome := lastOutcome{at: time.Now()}
	if err != nil {
		outcome.message = err.Error()
		var pe *Error
		if errors.As(err, &pe) {
			outcome.httpCode = pe.Status
		}
	} else {
		outcome.httpCode = 200
	}
	h.last[provider] = outcome
}

// Snapshot returns the current health of every provider seen so far.
func (h *HealthRegistry) Snapshot() domain.SourceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health := make(domain.SourceHealth, len(h.breakers))
	for provider, cb := range h.breakers {
		status := "green"
		switch cb.State() {
		case gobreaker.StateHalfOpen:
			status = "yellow"
		case gobreaker.StateOpen:
			status = "red"
		}
		outcome := h.last[provider]
		health[provider] = domain.SourceStatus{
			Status:   status,
			Message:  outcome.message,
			LastHTTP: outcome.httpCode,
		}
	}
	return health
}
