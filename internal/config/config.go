package config

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/aegis/internal/models"
	"goflare.io/aegis/internal/retrier"
)

// Config is the configuration for the resilience layer.
type Config struct {
	Cache         CacheConfig        `yaml:"cache"`
	Resilience    ResilienceConfig   `yaml:"resilience"`
	Retry         RetryConfig        `yaml:"retry"`
	Realtime      RealtimeConfig     `yaml:"realtime"`
	Notifications NotificationConfig `yaml:"notifications"`
	HTTP          HTTPConfig         `yaml:"http"`
	Logger        *zap.Logger        `yaml:"-"`
}

// CacheConfig 緩存相關配置
type CacheConfig struct {
	Namespace       string                   `yaml:"namespace"`
	MaxMemoryItems  int                      `yaml:"max_memory_items"`
	DefaultTTL      time.Duration            `yaml:"default_ttl"`
	Partitions      map[string]time.Duration `yaml:"partitions"`
	CleanupInterval time.Duration            `yaml:"cleanup_interval"`
	Bloom           BloomFilterConfig        `yaml:"bloom"`
	Store           StoreConfig              `yaml:"store"`
}

// BloomFilterConfig 用於布隆過濾器的配置
// RebuildInterval re-reads the store's keys into the filter; 0 disables it.
type BloomFilterConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ExpectedItems     uint          `yaml:"expected_items"`
	FalsePositiveRate float64       `yaml:"false_positive_rate"`
	RebuildInterval   time.Duration `yaml:"rebuild_interval"`
}

// StoreConfig selects the persistent tier backend.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // memory | redis | ristretto | sqlite
	URL      string `yaml:"url"`
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// ResilienceConfig 用於設置持久層熔斷器
type ResilienceConfig struct {
	BreakerFailures uint32             `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration      `yaml:"breaker_timeout"`
	StoreBreaker    gobreaker.Settings `yaml:"-"`
}

// RetryConfig configures the default retry policy for idempotent calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// RealtimeConfig configures the notification channel and its reconnect backoff.
type RealtimeConfig struct {
	URL         string        `yaml:"url"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// NotificationConfig configures dispatch.
type NotificationConfig struct {
	AutoDismiss time.Duration      `yaml:"auto_dismiss"`
	Preferences models.Preferences `yaml:"preferences"`
}

// HTTPConfig configures outbound API calls.
type HTTPConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"token"`
	TenantID     string        `yaml:"tenant_id"`
	TenantHeader string        `yaml:"tenant_header"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Option 函數類型
type Option func(*Config) error

var (
	ErrMaxMemoryItems = errors.New("max memory items must be at least 1")
	ErrRetryAttempts  = errors.New("retry max attempts must be at least 1")
	ErrNamespace      = errors.New("cache namespace must not be empty")
)

// DefaultPartitions is the TTL table for the dashboard's resource categories.
func DefaultPartitions() map[string]time.Duration {
	return map[string]time.Duration{
		"entities":      10 * time.Minute,
		"tenants":       30 * time.Minute,
		"notifications": 1 * time.Minute,
		"analytics":     5 * time.Minute,
		"users":         15 * time.Minute,
		"settings":      60 * time.Minute,
	}
}

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	cfg := &Config{
		Cache: CacheConfig{
			Namespace:       "aegis_cache",
			MaxMemoryItems:  100,
			DefaultTTL:      5 * time.Minute,
			Partitions:      DefaultPartitions(),
			CleanupInterval: 10 * time.Minute,
			Bloom: BloomFilterConfig{
				Enabled:           true,
				ExpectedItems:     10000,
				FalsePositiveRate: 0.01,
				RebuildInterval:   30 * time.Minute,
			},
			Store: StoreConfig{Driver: "memory"},
		},
		Resilience: ResilienceConfig{
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
		},
		Realtime: RealtimeConfig{
			BaseDelay:   1 * time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 5,
		},
		Notifications: NotificationConfig{
			AutoDismiss: 5 * time.Second,
			Preferences: models.DefaultPreferences(),
		},
		HTTP: HTTPConfig{
			TenantHeader: "X-Tenant-ID",
			Timeout:      30 * time.Second,
		},
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyBreaker()
	return cfg, nil
}

// Validate checks invariants the components rely on.
func (c *Config) Validate() error {
	if c.Cache.MaxMemoryItems < 1 {
		return ErrMaxMemoryItems
	}
	if c.Cache.Namespace == "" {
		return ErrNamespace
	}
	if c.Retry.MaxAttempts < 1 {
		return ErrRetryAttempts
	}
	return nil
}

func (c *Config) applyBreaker() {
	failures := c.Resilience.BreakerFailures
	c.Resilience.StoreBreaker = gobreaker.Settings{
		Name:        "PersistentStore",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     c.Resilience.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
	}
}

// RetryPolicy builds the default policy for idempotent calls.
func (c *Config) RetryPolicy() retrier.Policy {
	p := retrier.DefaultPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.BaseDelay = c.Retry.BaseDelay
	p.Logger = c.Logger
	return p
}

// ReconnectBackoff builds the realtime channel's reconnect schedule.
func (c *Config) ReconnectBackoff() retrier.Backoff {
	return retrier.Backoff{
		Strategy:  retrier.ExponentialBackoff,
		BaseDelay: c.Realtime.BaseDelay,
		MaxDelay:  c.Realtime.MaxDelay,
		Factor:    2,
	}
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithMaxMemoryItems bounds the in-process tier.
func WithMaxMemoryItems(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return ErrMaxMemoryItems
		}
		c.Cache.MaxMemoryItems = n
		return nil
	}
}

// WithNamespace sets the persistent keyspace prefix.
func WithNamespace(ns string) Option {
	return func(c *Config) error {
		if ns == "" {
			return ErrNamespace
		}
		c.Cache.Namespace = ns
		return nil
	}
}

// WithPartitionTTL overrides or adds one partition's TTL.
func WithPartitionTTL(partition string, ttl time.Duration) Option {
	return func(c *Config) error {
		if ttl <= 0 {
			return errors.New("partition ttl must be positive")
		}
		c.Cache.Partitions[partition] = ttl
		return nil
	}
}

// WithRetry sets the default retry policy parameters.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Config) error {
		if maxAttempts < 1 {
			return ErrRetryAttempts
		}
		c.Retry.MaxAttempts = maxAttempts
		c.Retry.BaseDelay = baseDelay
		return nil
	}
}

// WithHTTP sets the API endpoint and credentials.
func WithHTTP(baseURL, token, tenantID string) Option {
	return func(c *Config) error {
		c.HTTP.BaseURL = baseURL
		c.HTTP.Token = token
		c.HTTP.TenantID = tenantID
		return nil
	}
}

// WithRealtimeURL sets the realtime endpoint base URL.
func WithRealtimeURL(url string) Option {
	return func(c *Config) error {
		c.Realtime.URL = url
		return nil
	}
}

// WithPreferences sets the initial notification preferences.
func WithPreferences(p models.Preferences) Option {
	return func(c *Config) error {
		c.Notifications.Preferences = p
		return nil
	}
}
