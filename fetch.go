package aegis

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"goflare.io/aegis/internal/cache"
	"goflare.io/aegis/internal/httpapi"
	"goflare.io/aegis/internal/retrier"
)

type (
	// Policy controls retries of a load.
	Policy = retrier.Policy
	// RetryContext is passed to Policy.OnRetry.
	RetryContext = retrier.RetryContext
	// CacheOption adjusts how a fetched value is cached.
	CacheOption = cache.SetOption
)

var (
	// DefaultPolicy retries transient failures three times, one second apart.
	DefaultPolicy = retrier.DefaultPolicy
	// Once never retries.
	Once = retrier.Once
	// WithPersistent controls whether a fetched value is written to the
	// persistent tier.
	WithPersistent = cache.WithPersistent
	// WithDuration overrides the partition TTL for a fetched value.
	WithDuration = cache.WithDuration
)

// Query names a cacheable read.
type Query struct {
	Resource  string
	Params    map[string]any
	Partition string
	// Policy overrides the configured retry policy.
	Policy *Policy
	Cache  []CacheOption
}

// Fetch returns the cached value for q, or calls load under the retry
// policy and caches its result. Without WithSingleFlight, concurrent misses
// for the same key each call load.
func Fetch[T any](ctx context.Context, c *Client, q Query, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if q.Resource == "" {
		return zero, ErrNoResource
	}

	var cached T
	found, err := c.cache.Get(ctx, q.Resource, q.Params, q.Partition, &cached)
	if err != nil {
		c.logger.Warn("Discarding undecodable cache entry", zap.Error(err), zap.String("resource", q.Resource))
	}
	if found && err == nil {
		return cached, nil
	}

	fill := func() (T, error) {
		v, err := retrier.Do(ctx, c.policy(q.Policy), load)
		if err != nil {
			return zero, err
		}
		if err := c.cache.Set(ctx, q.Resource, q.Params, v, q.Partition, q.Cache...); err != nil {
			c.logger.Warn("Failed to cache fetched value", zap.Error(err), zap.String("resource", q.Resource))
		}
		return v, nil
	}

	if c.group == nil {
		return fill()
	}
	key := cache.BuildKey(q.Resource, q.Params)
	v, err, shared := c.group.Do(key, func() (any, error) {
		return fill()
	})
	if shared {
		c.logger.Debug("Coalesced cache miss", zap.String("key", key))
	}
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// Mutate runs op exactly once, never retrying, and on success invalidates
// every cache entry whose key contains one of the patterns.
func Mutate[T any](ctx context.Context, c *Client, op func(context.Context) (T, error), invalidate ...string) (T, error) {
	once := retrier.Once()
	once.Clock = c.clock
	once.Logger = c.logger

	v, err := retrier.Do(ctx, once, op)
	if err != nil {
		return v, err
	}

	for _, pattern := range invalidate {
		n, err := c.cache.Invalidate(ctx, pattern)
		if err != nil {
			c.logger.Warn("Cache invalidation incomplete", zap.Error(err), zap.String("pattern", pattern))
		}
		c.logger.Debug("Invalidated after mutation", zap.String("pattern", pattern), zap.Int("removed", n))
	}
	return v, nil
}

// Get is a cached GET of path against the configured API.
func Get[T any](ctx context.Context, c *Client, path string, params map[string]any, partition string) (T, error) {
	var zero T
	if c.api == nil {
		return zero, ErrNoAPI
	}
	return Fetch(ctx, c, Query{Resource: path, Params: params, Partition: partition},
		func(ctx context.Context) (T, error) {
			var out T
			err := c.api.Do(ctx, httpapi.Request{Method: http.MethodGet, Path: path, Query: queryValues(params)}, &out)
			return out, err
		})
}

// Send issues a mutating request once and invalidates the given patterns on
// success.
func Send[T any](ctx context.Context, c *Client, method, path string, body any, invalidate ...string) (T, error) {
	var zero T
	if c.api == nil {
		return zero, ErrNoAPI
	}
	return Mutate(ctx, c, func(ctx context.Context) (T, error) {
		var out T
		err := c.api.Do(ctx, httpapi.Request{Method: method, Path: path, Body: body}, &out)
		return out, err
	}, invalidate...)
}

// policy resolves the retry policy for a fetch and hooks retry metrics in.
func (c *Client) policy(override *Policy) Policy {
	p := c.cfg.RetryPolicy()
	if override != nil {
		p = *override
	}
	if p.Clock == nil {
		p.Clock = c.clock
	}
	if p.Logger == nil {
		p.Logger = c.logger
	}

	onRetry := p.OnRetry
	p.OnRetry = func(rc RetryContext) {
		c.collector.Retry(rc.LastError.Class.String())
		if onRetry != nil {
			onRetry(rc)
		}
	}
	return p
}

func queryValues(params map[string]any) url.Values {
	if len(params) == 0 {
		return nil
	}
	values := url.Values{}
	for k, v := range params {
		if v != nil {
			values.Set(k, fmt.Sprint(v))
		}
	}
	return values
}
