package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"goflare.io/aegis/internal/config"
)

// BloomFilter remembers which persistent keys may exist so that lookups
// for keys never written skip the persistent tier entirely. It is only
// sound when every write to the store goes through the owning Manager.
type BloomFilter struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	cfg    config.BloomFilterConfig
	// ready is false until the filter reflects the store's contents; an
	// unready filter answers "maybe" for every key.
	ready bool
	// rebuilding collects keys added while Rebuild lists the store.
	rebuilding bool
	pending    []string
	logger     *zap.Logger
}

// NewBloomFilter creates a new BloomFilter instance.
func NewBloomFilter(cfg config.BloomFilterConfig, logger *zap.Logger) *BloomFilter {
	return &BloomFilter{
		filter: bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
		cfg:    cfg,
		logger: logger,
	}
}

// Add adds a key to the bloom filter.
func (bf *BloomFilter) Add(key string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter.Add([]byte(key))
	if bf.rebuilding {
		bf.pending = append(bf.pending, key)
	}
}

// Test checks if a key might be in the bloom filter.
func (bf *BloomFilter) Test(key string) bool {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if !bf.ready {
		return true
	}
	return bf.filter.Test([]byte(key))
}

// Reset empties the filter.
func (bf *BloomFilter) Reset() {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter = bloom.NewWithEstimates(bf.cfg.ExpectedItems, bf.cfg.FalsePositiveRate)
	bf.pending = nil
	bf.ready = true
}

// Rebuild reconstructs the bloom filter from every key under prefix. Keys
// added while the store is being listed are carried into the new filter.
func (bf *BloomFilter) Rebuild(ctx context.Context, store *Resilience, prefix string) error {
	bf.mu.Lock()
	bf.rebuilding = true
	bf.pending = nil
	bf.mu.Unlock()

	keys, err := store.Keys(ctx)
	if err != nil {
		bf.mu.Lock()
		bf.rebuilding = false
		bf.pending = nil
		bf.ready = false
		bf.mu.Unlock()
		return fmt.Errorf("failed to scan keys from persistent tier: %w", err)
	}

	newFilter := bloom.NewWithEstimates(bf.cfg.ExpectedItems, bf.cfg.FalsePositiveRate)
	count := 0
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			newFilter.Add([]byte(key))
			count++
		}
	}

	bf.mu.Lock()
	for _, key := range bf.pending {
		newFilter.Add([]byte(key))
	}
	bf.filter = newFilter
	bf.pending = nil
	bf.rebuilding = false
	bf.ready = true
	bf.mu.Unlock()

	bf.logger.Debug("Rebuilt bloom filter", zap.Int("keys", count))
	return nil
}
