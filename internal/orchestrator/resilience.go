package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/researchflow/internal/backend"
)

// RetryConfig configures exponential backoff for agent calls.
type RetryConfig struct {
	MaxRetries          int           // Retries after the first attempt; negative retries until MaxElapsedTime
	InitialInterval     time.Duration // default 500ms
	MaxInterval         time.Duration // default 30s
	MaxElapsedTime      time.Duration // default 5min
	Multiplier          float64       // default 2.0
	RandomizationFactor float64       // default 0.5
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:          2,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      5 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

func (c RetryConfig) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialInterval
	exp.MaxInterval = c.MaxInterval
	exp.MaxElapsedTime = c.MaxElapsedTime
	exp.Multiplier = c.Multiplier
	exp.RandomizationFactor = c.RandomizationFactor

	var b backoff.BackOff = exp
	switch {
	case c.MaxRetries == 0:
		b = &backoff.StopBackOff{}
	case c.MaxRetries > 0:
		b = backoff.WithMaxRetries(exp, uint64(c.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// CircuitBreakerRegistry holds one circuit breaker per provider, so a
// failing CLI stops receiving calls without affecting the others.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings func(name string) gobreaker.Settings
}

// NewCircuitBreakerRegistry creates a registry whose breakers trip after five
// consecutive failures and probe again after 30s.
func NewCircuitBreakerRegistry() *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: defaultBreakerSettings,
	}
}

func defaultBreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("WARNING: circuit breaker %q: %s -> %s", name, from, to)
		},
		// Cancellation and timeouts are the caller's doing, not the provider's.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	}
}

// Get returns the breaker for provider, creating it on first use.
func (r *CircuitBreakerRegistry) Get(provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[provider]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(r.settings(provider))
	r.breakers[provider] = cb
	return cb
}

// sendWithRetry sends msg through cb, retrying transient errors with backoff.
// An open breaker and context cancellation stop retries immediately.
func sendWithRetry(ctx context.Context, b backend.Backend, msg backend.Message, cb *gobreaker.CircuitBreaker, retryCfg RetryConfig) (backend.Response, error) {
	var resp backend.Response

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		out, err := cb.Execute(func() (interface{}, error) {
			return b.Send(ctx, msg)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			log.Printf("WARNING: agent call failed, will retry: %v", err)
			return err
		}

		resp = out.(backend.Response)
		return nil
	}

	err := backoff.Retry(operation, retryCfg.policy(ctx))
	return resp, err
}
