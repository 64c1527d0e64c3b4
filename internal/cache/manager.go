// Package cache implements the two-tier response cache: a bounded in-process
// LRU in front of a persistent key-value store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/aegis/internal/cache/lru"
	"goflare.io/aegis/internal/clock"
	"goflare.io/aegis/internal/config"
	"goflare.io/aegis/internal/kvstore"
	"goflare.io/aegis/internal/metrics"
	"goflare.io/aegis/internal/models"
)

const (
	tierMemory  = "memory"
	tierStorage = "storage"
)

// ErrEmptyPattern is returned by Invalidate when given an empty pattern.
var ErrEmptyPattern = errors.New("cache: invalidation pattern must not be empty")

// Stats is a point-in-time view of the cache.
type Stats struct {
	MemoryCount    int   `json:"memory_count"`
	StorageCount   int   `json:"storage_count"`
	MaxMemoryItems int   `json:"max_memory_items"`
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Evictions      int64 `json:"evictions"`
	DroppedWrites  int64 `json:"dropped_writes"`
}

// Manager is the two-tier response cache.
type Manager struct {
	// mu guards memory and generation; store I/O happens outside it.
	mu     sync.Mutex
	memory *lru.Cache

	// generation changes on every write, invalidation and clear, so a
	// lookup can tell whether memory moved on while it read the store.
	generation uint64

	store     *Resilience
	filter    *BloomFilter
	policy    PartitionPolicy
	prefix    string
	maxItems  int
	interval  time.Duration
	rebuild   time.Duration
	exclusive bool
	clock     clock.Clock
	counters  *models.Metrics
	collector *metrics.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for expiry.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithMetrics reports lookups, evictions and dropped writes to collector.
func WithMetrics(collector *metrics.Metrics) Option {
	return func(m *Manager) {
		m.collector = collector
	}
}

// WithExclusiveStore declares that no other process or Manager writes the
// store. Only then is the bloom filter used to skip persistent reads.
func WithExclusiveStore() Option {
	return func(m *Manager) {
		m.exclusive = true
	}
}

// SetOption adjusts a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	persistent bool
	duration   time.Duration
}

// WithPersistent controls whether Set also writes the persistent tier.
func WithPersistent(persistent bool) SetOption {
	return func(o *setOptions) {
		o.persistent = persistent
	}
}

// WithDuration overrides the partition TTL for one entry.
func WithDuration(d time.Duration) SetOption {
	return func(o *setOptions) {
		o.duration = d
	}
}

// NewManager creates a Manager over store. A nil store selects an
// unbounded in-process store.
func NewManager(ctx context.Context, cfg *config.Config, store kvstore.Store, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("cache: config is required")
	}
	if store == nil {
		store = kvstore.NewMemory(0)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		memory:   lru.New(cfg.Cache.MaxMemoryItems),
		store:    NewResilience(store, cfg.Resilience.StoreBreaker, logger),
		policy:   NewPartitionPolicy(cfg.Cache.Partitions, cfg.Cache.DefaultTTL),
		prefix:   cfg.Cache.Namespace + ":",
		maxItems: cfg.Cache.MaxMemoryItems,
		interval: cfg.Cache.CleanupInterval,
		rebuild:  cfg.Cache.Bloom.RebuildInterval,
		clock:    clock.New(),
		counters: models.NewMetrics(),
		tracer:   otel.Tracer("goflare.io/aegis/cache"),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	switch {
	case cfg.Cache.Bloom.Enabled && !m.exclusive:
		logger.Debug("Bloom filter disabled for a shared persistent store")
	case cfg.Cache.Bloom.Enabled:
		m.filter = NewBloomFilter(cfg.Cache.Bloom, logger)
		// On failure the filter stays unready and never rejects a key.
		m.RebuildFilter(ctx)
	}

	return m, nil
}

// Policy returns the partition TTL table in use.
func (m *Manager) Policy() PartitionPolicy {
	return m.policy
}

// Get looks up resource+params and decodes a live entry into dest. It
// reports whether an entry was found. dest may be nil to only probe.
func (m *Manager) Get(ctx context.Context, resource string, params map[string]any, partition string, dest any) (bool, error) {
	key := BuildKey(resource, params)
	ctx, span := m.tracer.Start(ctx, "Manager.Get", trace.WithAttributes(
		attribute.String("key", key),
		attribute.String("partition", partition),
	))
	defer span.End()

	data, tier, ok := m.lookup(ctx, key)
	span.SetAttributes(attribute.Bool("hit", ok))
	if !ok {
		m.counters.Misses.Inc()
		return false, nil
	}
	m.counters.Hits.Inc()
	span.SetAttributes(attribute.String("tier", tier))

	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		m.logger.Error("Failed to unmarshal cached value", zap.Error(err), zap.String("key", key))
		return false, fmt.Errorf("failed to unmarshal cached value for %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) lookup(ctx context.Context, key string) ([]byte, string, bool) {
	now := m.clock.Now()

	m.mu.Lock()
	if e, ok := m.memory.Peek(key); ok {
		if e.IsExpired(now) {
			m.memory.Delete(key)
		} else {
			m.memory.Get(key)
			e.Touch(now)
			data := e.Data
			m.mu.Unlock()
			m.collector.CacheLookup(tierMemory, true)
			return data, tierMemory, true
		}
	}
	gen := m.generation
	m.mu.Unlock()
	m.collector.CacheLookup(tierMemory, false)

	rec, ok := m.loadRecord(ctx, key, now)
	m.collector.CacheLookup(tierStorage, ok)
	if !ok {
		return nil, "", false
	}

	entry := rec.Entry(key, now)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation == gen {
		m.putLocked(entry)
		return entry.Data, tierStorage, true
	}
	// Memory changed while the record was read; never promote over it.
	if e, ok := m.memory.Peek(key); ok && !e.IsExpired(now) {
		m.memory.Get(key)
		e.Touch(now)
		return e.Data, tierMemory, true
	}
	return entry.Data, tierStorage, true
}

// loadRecord reads a live record from the persistent tier, deleting it when
// it is expired or unreadable.
func (m *Manager) loadRecord(ctx context.Context, key string, now time.Time) (models.Record, bool) {
	pkey := m.prefix + key
	if m.filter != nil && !m.filter.Test(pkey) {
		return models.Record{}, false
	}

	raw, found, err := m.store.Get(ctx, pkey)
	if err != nil {
		m.logger.Debug("Persistent tier read failed", zap.Error(err), zap.String("key", key))
		return models.Record{}, false
	}
	if !found {
		return models.Record{}, false
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		m.logger.Warn("Removing corrupted cache record", zap.Error(err), zap.String("key", key))
		m.deletePersistent(ctx, pkey)
		return models.Record{}, false
	}
	if rec.IsExpired(now) {
		m.deletePersistent(ctx, pkey)
		return models.Record{}, false
	}
	return rec, true
}

func decodeRecord(raw string) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, err
	}
	if len(rec.Data) == 0 {
		return rec, errors.New("record has no data")
	}
	return rec, nil
}

func (m *Manager) deletePersistent(ctx context.Context, pkey string) {
	if err := m.store.Delete(ctx, pkey); err != nil {
		m.logger.Debug("Persistent tier delete failed", zap.Error(err), zap.String("key", pkey))
	}
}

// putLocked inserts e into memory. m.mu must be held.
func (m *Manager) putLocked(e *models.Entry) {
	if evicted := m.memory.Put(e); evicted != nil {
		m.counters.Evictions.Inc()
		m.collector.Eviction()
		m.logger.Debug("Evicted cache entry", zap.String("key", evicted.Key))
	}
}

// Set stores data for resource+params in memory and, unless disabled, in
// the persistent tier. Only a marshal failure is reported; persistent write
// failures are logged and the write is dropped.
func (m *Manager) Set(ctx context.Context, resource string, params map[string]any, data any, partition string, opts ...SetOption) error {
	key := BuildKey(resource, params)
	ctx, span := m.tracer.Start(ctx, "Manager.Set", trace.WithAttributes(
		attribute.String("key", key),
		attribute.String("partition", partition),
	))
	defer span.End()

	o := setOptions{persistent: true}
	for _, opt := range opts {
		opt(&o)
	}
	ttl := m.policy.TTL(partition)
	if o.duration > 0 {
		ttl = o.duration
	}

	raw, err := json.Marshal(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	entry := models.NewEntry(key, raw, ttl, m.clock.Now())
	m.mu.Lock()
	m.generation++
	m.putLocked(entry)
	m.mu.Unlock()

	if o.persistent {
		m.persist(ctx, entry)
	}
	return nil
}

func (m *Manager) persist(ctx context.Context, entry *models.Entry) {
	pkey := m.prefix + entry.Key
	text, err := json.Marshal(models.NewRecord(entry))
	if err != nil {
		m.logger.Error("Failed to encode cache record", zap.Error(err), zap.String("key", entry.Key))
		return
	}

	if err := m.store.Set(ctx, pkey, string(text)); err != nil {
		m.counters.DroppedWrites.Inc()
		m.collector.DroppedWrite()
		m.logger.Warn("Persistent cache write failed, dropping",
			zap.Error(err),
			zap.String("key", entry.Key),
			zap.Bool("quota", errors.Is(err, kvstore.ErrQuotaExceeded)),
		)
		removed := m.sweepStorage(ctx, true)
		m.logger.Debug("Cleaned persistent tier after failed write", zap.Int("removed", removed))
		return
	}

	if m.filter != nil {
		m.filter.Add(pkey)
	}
}

// sweepStorage removes expired records under the namespace, and corrupt
// ones too when corrupt is set. It returns how many were removed.
func (m *Manager) sweepStorage(ctx context.Context, corrupt bool) int {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		m.logger.Debug("Persistent tier listing failed", zap.Error(err))
		return 0
	}

	now := m.clock.Now()
	removed := 0
	for _, pkey := range keys {
		if !strings.HasPrefix(pkey, m.prefix) {
			continue
		}
		raw, found, err := m.store.Get(ctx, pkey)
		if err != nil || !found {
			continue
		}
		rec, err := decodeRecord(raw)
		if (err != nil && corrupt) || (err == nil && rec.IsExpired(now)) {
			if m.store.Delete(ctx, pkey) == nil {
				removed++
			}
		}
	}
	return removed
}

// Invalidate removes every entry in both tiers whose key contains pattern
// and returns how many distinct keys were removed.
func (m *Manager) Invalidate(ctx context.Context, pattern string) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Invalidate", trace.WithAttributes(
		attribute.String("pattern", pattern),
	))
	defer span.End()

	if pattern == "" {
		return 0, ErrEmptyPattern
	}

	removed := make(map[string]struct{})
	match := func(key string) bool { return strings.Contains(key, pattern) }
	m.dropMemory(match, removed)

	keys, err := m.store.Keys(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing failed")
		return len(removed), fmt.Errorf("failed to list persistent keys: %w", err)
	}

	for _, pkey := range keys {
		key, ok := strings.CutPrefix(pkey, m.prefix)
		if !ok || !strings.Contains(key, pattern) {
			continue
		}
		if err := m.store.Delete(ctx, pkey); err != nil {
			m.logger.Warn("Failed to invalidate persistent entry", zap.Error(err), zap.String("key", key))
			continue
		}
		removed[key] = struct{}{}
	}
	// Lookups that read the store before it was cleaned may have promoted
	// matching entries in the meantime.
	m.dropMemory(match, removed)

	m.logger.Debug("Invalidated cache entries", zap.String("pattern", pattern), zap.Int("removed", len(removed)))
	return len(removed), nil
}

// dropMemory deletes the memory entries whose key matches and records them
// in removed. It always advances the generation.
func (m *Manager) dropMemory(match func(string) bool, removed map[string]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	for _, key := range m.memory.Keys() {
		if match(key) {
			m.memory.Delete(key)
			removed[key] = struct{}{}
		}
	}
}

// Clear drops both tiers. Persistent keys outside the namespace are kept.
func (m *Manager) Clear(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Clear")
	defer span.End()

	m.clearMemory()
	defer m.clearMemory()

	if m.filter != nil {
		m.filter.Reset()
	}

	keys, err := m.store.Keys(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing failed")
		return fmt.Errorf("failed to list persistent keys: %w", err)
	}

	var errs []error
	for _, pkey := range keys {
		if !strings.HasPrefix(pkey, m.prefix) {
			continue
		}
		if err := m.store.Delete(ctx, pkey); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %q: %w", pkey, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) clearMemory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.memory.Clear()
}

// Stats reports entry counts and hit/miss counters. StorageCount is -1 when
// the persistent tier cannot be listed.
func (m *Manager) Stats(ctx context.Context) Stats {
	m.mu.Lock()
	memoryCount := m.memory.Len()
	m.mu.Unlock()

	storageCount := 0
	keys, err := m.store.Keys(ctx)
	if err != nil {
		m.logger.Debug("Persistent tier listing failed", zap.Error(err))
		storageCount = -1
	}
	for _, pkey := range keys {
		if strings.HasPrefix(pkey, m.prefix) {
			storageCount++
		}
	}

	return Stats{
		MemoryCount:    memoryCount,
		StorageCount:   storageCount,
		MaxMemoryItems: m.maxItems,
		Hits:           m.counters.Hits.Load(),
		Misses:         m.counters.Misses.Load(),
		Evictions:      m.counters.Evictions.Load(),
		DroppedWrites:  m.counters.DroppedWrites.Load(),
	}
}
