// Package aegis is the client resilience layer for the dashboard API: a
// two-tier response cache, classified retries and a reconnecting realtime
// notification channel.
package aegis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/aegis/internal/cache"
	"goflare.io/aegis/internal/clock"
	"goflare.io/aegis/internal/config"
	"goflare.io/aegis/internal/httpapi"
	"goflare.io/aegis/internal/kvstore"
	"goflare.io/aegis/internal/metrics"
	"goflare.io/aegis/internal/models"
	"goflare.io/aegis/internal/notify"
	"goflare.io/aegis/internal/realtime"
)

type options struct {
	config       *config.Config
	loggerSet    bool
	store        kvstore.Store
	registerer   prometheus.Registerer
	singleFlight bool
	clock        clock.Clock
	httpClient   *http.Client
	notifier     notify.Notifier
	permission   notify.PermissionSource
	dialer       realtime.Dialer
	janitor      bool
}

// Option 定義初始化 Client 的選項
type Option func(*options) error

func configOption(opt config.Option) Option {
	return func(o *options) error {
		return opt(o.config)
	}
}

// WithConfig replaces the default configuration, e.g. one from config.Load.
// Options listed after it apply on top.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("aegis: nil config")
		}
		if cfg.Logger != nil {
			o.loggerSet = true
		}
		o.config = cfg
		return nil
	}
}

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) error {
		o.loggerSet = logger != nil
		return config.WithLogger(logger)(o.config)
	}
}

// WithMaxMemoryItems bounds the in-process cache tier.
func WithMaxMemoryItems(n int) Option {
	return configOption(config.WithMaxMemoryItems(n))
}

// WithNamespace sets the persistent keyspace prefix.
func WithNamespace(ns string) Option {
	return configOption(config.WithNamespace(ns))
}

// WithPartitionTTL overrides one partition's TTL.
func WithPartitionTTL(partition string, ttl time.Duration) Option {
	return configOption(config.WithPartitionTTL(partition, ttl))
}

// WithRetry sets the default retry policy for fetches.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return configOption(config.WithRetry(maxAttempts, baseDelay))
}

// WithAPI sets the API base URL, bearer token and tenant.
func WithAPI(baseURL, token, tenantID string) Option {
	return configOption(config.WithHTTP(baseURL, token, tenantID))
}

// WithRealtimeURL enables the realtime channel at url.
func WithRealtimeURL(url string) Option {
	return configOption(config.WithRealtimeURL(url))
}

// WithPreferences sets the initial notification preferences.
func WithPreferences(p Preferences) Option {
	return configOption(config.WithPreferences(p))
}

// WithStore uses store as the persistent tier. The caller keeps ownership,
// and the store is treated as shared with other clients.
func WithStore(store kvstore.Store) Option {
	return func(o *options) error {
		o.store = store
		return nil
	}
}

// WithRedis uses the Redis server at url as the persistent tier.
func WithRedis(url string) Option {
	return func(o *options) error {
		o.config.Cache.Store.Driver = "redis"
		o.config.Cache.Store.URL = url
		return nil
	}
}

// WithSQLite uses a SQLite file at path as the persistent tier.
func WithSQLite(path string) Option {
	return func(o *options) error {
		o.config.Cache.Store.Driver = "sqlite"
		o.config.Cache.Store.Path = path
		return nil
	}
}

// WithMetrics registers Prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithSingleFlight coalesces concurrent misses for the same key into one load.
func WithSingleFlight() Option {
	return func(o *options) error {
		o.singleFlight = true
		return nil
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		o.clock = c
		return nil
	}
}

// WithHTTPClient replaces the http.Client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) error {
		o.httpClient = hc
		return nil
	}
}

// WithNotifier sets where surfaced notifications are shown, and the source
// of the user's permission to show them.
func WithNotifier(n notify.Notifier, p notify.PermissionSource) Option {
	return func(o *options) error {
		o.notifier = n
		o.permission = p
		return nil
	}
}

// WithDialer replaces the websocket dialer of the realtime channel.
func WithDialer(d realtime.Dialer) Option {
	return func(o *options) error {
		o.dialer = d
		return nil
	}
}

// WithoutJanitor disables the background sweep of expired cache entries.
func WithoutJanitor() Option {
	return func(o *options) error {
		o.janitor = false
		return nil
	}
}

// Client ties the cache, retries, API transport and realtime notifications
// together. Construct one per tenant session.
type Client struct {
	cfg           *config.Config
	cache         *cache.Manager
	api           *httpapi.Client
	notifications *notify.Dispatcher
	channel       *realtime.Channel
	collector     *metrics.Metrics
	group         *singleflight.Group
	store         kvstore.Store
	ownsStore     bool
	clock         clock.Clock
	logger        *zap.Logger
	stopJanitor   context.CancelFunc
	janitorDone   chan struct{}
}

// New 初始化 Client，接受多個配置選項
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	o := &options{config: cfg, clock: clock.New(), janitor: true}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	cfg = o.config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !o.loggerSet {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		cfg.Logger = logger
	}
	logger := cfg.Logger

	c := &Client{
		cfg:    cfg,
		clock:  o.clock,
		logger: logger,
	}
	if o.registerer != nil {
		c.collector = metrics.New(o.registerer)
	}
	if o.singleFlight {
		c.group = &singleflight.Group{}
	}

	c.store = o.store
	if c.store == nil {
		store, err := kvstore.Open(ctx, cfg.Cache.Store, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent store: %w", err)
		}
		c.store = store
		c.ownsStore = true
	}

	cacheOpts := []cache.Option{
		cache.WithClock(o.clock),
		cache.WithMetrics(c.collector),
	}
	if c.ownsStore && inProcess(cfg.Cache.Store.Driver) {
		cacheOpts = append(cacheOpts, cache.WithExclusiveStore())
	}
	c.cache, err = cache.NewManager(ctx, cfg, c.store, cacheOpts...)
	if err != nil {
		c.closeStore()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	if cfg.HTTP.BaseURL != "" {
		c.api, err = httpapi.New(cfg.HTTP, logger, httpapi.WithHTTPClient(o.httpClient))
		if err != nil {
			c.closeStore()
			return nil, fmt.Errorf("failed to initialize api client: %w", err)
		}
	}

	c.notifications = notify.NewDispatcher(cfg,
		notify.WithNotifier(o.notifier),
		notify.WithPermission(o.permission),
		notify.WithClock(o.clock),
		notify.WithMetrics(c.collector),
	)

	if cfg.Realtime.URL != "" {
		url, err := realtime.Endpoint(cfg.Realtime.URL, cfg.HTTP.TenantID, cfg.HTTP.Token)
		if err != nil {
			c.closeStore()
			return nil, err
		}
		c.channel = realtime.NewChannel(url, o.dialer, c.notifications, cfg,
			realtime.WithClock(o.clock),
			realtime.WithMetrics(c.collector),
		)
	}

	if o.janitor && (cfg.Cache.CleanupInterval > 0 || cfg.Cache.Bloom.RebuildInterval > 0) {
		janitorCtx, cancel := context.WithCancel(context.Background())
		c.stopJanitor = cancel
		c.janitorDone = make(chan struct{})
		go func() {
			defer close(c.janitorDone)
			c.cache.Run(janitorCtx)
		}()
	}

	return c, nil
}

// Cache returns the response cache.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// Notifications returns the notification dispatcher.
func (c *Client) Notifications() *notify.Dispatcher {
	return c.notifications
}

// Realtime returns the realtime channel, or nil when no URL is configured.
func (c *Client) Realtime() *realtime.Channel {
	return c.channel
}

// Connect opens the realtime channel. Later failures are handled by the
// channel's reconnect loop and surface only through its state.
func (c *Client) Connect(ctx context.Context) error {
	if c.channel == nil {
		return ErrRealtimeDisabled
	}
	c.channel.Connect(ctx)
	return nil
}

// Disconnect closes the realtime channel cleanly.
func (c *Client) Disconnect() {
	if c.channel != nil {
		c.channel.Disconnect()
	}
}

// Close 關閉 Client，釋放資源
func (c *Client) Close() error {
	if c.stopJanitor != nil {
		c.stopJanitor()
		<-c.janitorDone
	}
	c.Disconnect()
	return c.closeStore()
}

// inProcess reports whether driver keeps its data inside this process, so
// no other client can write to it.
func inProcess(driver string) bool {
	switch driver {
	case "", "memory", "ristretto":
		return true
	}
	return false
}

func (c *Client) closeStore() error {
	if !c.ownsStore {
		return nil
	}
	if closer, ok := c.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close persistent store: %w", err)
		}
	}
	return nil
}

// Notification and Preferences are re-exported for callers of WithPreferences
// and the dispatcher.
type (
	Notification = models.Notification
	Preferences  = models.Preferences
)
