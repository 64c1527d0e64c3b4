package cache

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/aegis/internal/kvstore"
)

// Resilience guards the persistent tier with a circuit breaker so a failing
// backend degrades to memory-only caching instead of slowing every call.
type Resilience struct {
	store  kvstore.Store
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

type storeLookup struct {
	value string
	found bool
}

// NewResilience creates a new Resilience instance.
func NewResilience(store kvstore.Store, settings gobreaker.Settings, logger *zap.Logger) *Resilience {
	if settings.IsSuccessful == nil {
		// A full store is a capacity problem, not an outage.
		settings.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, kvstore.ErrQuotaExceeded) ||
				errors.Is(err, context.Canceled)
		}
	}
	return &Resilience{
		store:  store,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

// Get retrieves a value from the persistent tier.
func (r *Resilience) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.cb.Execute(func() (any, error) {
		value, found, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return storeLookup{value: value, found: found}, nil
	})
	if err != nil {
		return "", false, err
	}
	l := v.(storeLookup)
	return l.value, l.found, nil
}

// Set writes a value to the persistent tier.
func (r *Resilience) Set(ctx context.Context, key, value string) error {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, r.store.Set(ctx, key, value)
	})
	return err
}

// Delete removes a key from the persistent tier.
func (r *Resilience) Delete(ctx context.Context, key string) error {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, r.store.Delete(ctx, key)
	})
	return err
}

// Keys lists the persistent tier's keys.
func (r *Resilience) Keys(ctx context.Context) ([]string, error) {
	v, err := r.cb.Execute(func() (any, error) {
		return r.store.Keys(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// State reports the breaker state.
func (r *Resilience) State() gobreaker.State {
	return r.cb.State()
}
