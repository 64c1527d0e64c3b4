package kvstore

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Tracker tracks keys held by a store that cannot enumerate its own contents.
type Tracker struct {
	trackedKeys sync.Map
	logger      *zap.Logger
}

// NewTracker creates a new Tracker instance.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// Add adds a key to the tracker.
func (t *Tracker) Add(key string) {
	t.trackedKeys.Store(key, struct{}{})
}

// Remove removes a key from the tracker.
func (t *Tracker) Remove(key string) {
	t.trackedKeys.Delete(key)
}

// Range iterates over all tracked keys until f returns false or ctx is done.
func (t *Tracker) Range(ctx context.Context, f func(key string) bool) {
	t.trackedKeys.Range(func(k, _ any) bool {
		select {
		case <-ctx.Done():
			return false
		default:
			if strKey, ok := k.(string); ok {
				return f(strKey)
			}
			t.logger.Warn("Invalid key type in Tracker", zap.Any("key", k))
			return true
		}
	})
}

// Keys returns the tracked keys in sorted order.
func (t *Tracker) Keys(ctx context.Context) []string {
	var keys []string
	t.Range(ctx, func(key string) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	return keys
}
