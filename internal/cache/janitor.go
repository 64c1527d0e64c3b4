package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"goflare.io/aegis/internal/clock"
)

// Run sweeps expired entries from both tiers every CleanupInterval and
// rebuilds the bloom filter every Bloom.RebuildInterval until ctx is
// cancelled. Non-positive intervals disable the matching task.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	start := func(name string, interval time.Duration, task func(context.Context)) {
		if interval <= 0 {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.every(ctx, interval, task)
			m.logger.Info("Stopping cache "+name+" due to context cancellation")
		}()
	}

	start("janitor", m.interval, func(ctx context.Context) { m.SweepExpired(ctx) })
	if m.filter != nil {
		start("bloom rebuild", m.rebuild, m.RebuildFilter)
	}
	wg.Wait()
}

// every runs task once per interval on m.clock until ctx is done.
func (m *Manager) every(ctx context.Context, interval time.Duration, task func(context.Context)) {
	for {
		if err := clock.Sleep(ctx, m.clock, interval); err != nil {
			return
		}
		task(ctx)
	}
}

// RebuildFilter reloads the bloom filter from the persistent tier. It is a
// no-op when the filter is disabled.
func (m *Manager) RebuildFilter(ctx context.Context) {
	if m.filter == nil {
		return
	}
	if err := m.filter.Rebuild(ctx, m.store, m.prefix); err != nil {
		m.logger.Warn("Bloom filter rebuild failed", zap.Error(err))
	}
}

// SweepExpired removes expired entries from both tiers and returns how many
// were removed from each.
func (m *Manager) SweepExpired(ctx context.Context) (memory, storage int) {
	ctx, span := m.tracer.Start(ctx, "Manager.SweepExpired")
	defer span.End()

	now := m.clock.Now()
	m.mu.Lock()
	for _, key := range m.memory.Keys() {
		if e, ok := m.memory.Peek(key); ok && e.IsExpired(now) {
			m.memory.Delete(key)
			memory++
		}
	}
	m.mu.Unlock()

	storage = m.sweepStorage(ctx, false)

	span.SetAttributes(attribute.Int("memory", memory), attribute.Int("storage", storage))
	if memory+storage > 0 {
		m.logger.Debug("Swept expired cache entries", zap.Int("memory", memory), zap.Int("storage", storage))
	}
	return memory, storage
}
