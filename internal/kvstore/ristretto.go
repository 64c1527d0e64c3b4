package kvstore

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// RistrettoOptions sizes a Ristretto store.
type RistrettoOptions struct {
	// MaxBytes bounds the total size of keys plus values.
	MaxBytes int64
	// ExpectedItems sizes the admission counters; defaults to MaxBytes/64.
	ExpectedItems int64
}

// Ristretto implements Store on a bounded Ristretto cache. Writes the cache
// refuses to admit surface as ErrQuotaExceeded.
type Ristretto struct {
	cache   *ristretto.Cache
	tracker *Tracker
	logger  *zap.Logger
}

type storedItem struct {
	key   string
	value string
}

// NewRistretto creates a new Ristretto store.
func NewRistretto(opts RistrettoOptions, logger *zap.Logger) (*Ristretto, error) {
	if opts.MaxBytes <= 0 {
		return nil, fmt.Errorf("ristretto store: max bytes must be positive, got %d", opts.MaxBytes)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	expected := opts.ExpectedItems
	if expected <= 0 {
		expected = max(opts.MaxBytes/64, 1)
	}

	s := &Ristretto{
		tracker: NewTracker(logger),
		logger:  logger,
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        10 * expected,
		MaxCost:            opts.MaxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
		OnEvict: func(item *ristretto.Item) {
			if it, ok := item.Value.(*storedItem); ok {
				s.tracker.Remove(it.key)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Ristretto cache: %w", err)
	}
	s.cache = c
	return s, nil
}

// Get retrieves a value.
func (s *Ristretto) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, found := s.cache.Get(key)
	if !found {
		s.tracker.Remove(key)
		return "", false, nil
	}
	it, ok := v.(*storedItem)
	if !ok {
		s.logger.Error("Invalid store item type", zap.String("key", key))
		return "", false, nil
	}
	return it.value, true, nil
}

// Set stores a value and waits until it is visible to readers.
func (s *Ristretto) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cost := int64(len(key) + len(value))
	if !s.cache.Set(key, &storedItem{key: key, value: value}, cost) {
		s.logger.Warn("Ristretto Set rejected", zap.String("key", key))
		return ErrQuotaExceeded
	}
	s.cache.Wait()

	// Admission can still reject the item after buffering.
	if _, found := s.cache.Get(key); !found {
		return ErrQuotaExceeded
	}
	s.tracker.Add(key)
	return nil
}

// Delete removes a value.
func (s *Ristretto) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Del(key)
	s.tracker.Remove(key)
	return nil
}

// Keys lists tracked keys that are still resident.
func (s *Ristretto) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tracked := s.tracker.Keys(ctx)
	keys := make([]string, 0, len(tracked))
	for _, k := range tracked {
		if _, found := s.cache.Get(k); found {
			keys = append(keys, k)
			continue
		}
		s.tracker.Remove(k)
	}
	return keys, nil
}

// Close closes the cache.
func (s *Ristretto) Close() error {
	s.cache.Close()
	return nil
}
