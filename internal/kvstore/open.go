package kvstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"goflare.io/aegis/internal/config"
)

const defaultRistrettoBytes = 64 << 20

// Open builds the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(int(cfg.MaxBytes)), nil
	case "redis":
		if cfg.URL == "" {
			return nil, errors.New("kvstore: redis driver requires a url")
		}
		s, err := DialRedis(ctx, cfg.URL, "")
		if err != nil {
			return nil, err
		}
		return s, nil
	case "ristretto":
		maxBytes := cfg.MaxBytes
		if maxBytes <= 0 {
			maxBytes = defaultRistrettoBytes
		}
		s, err := NewRistretto(RistrettoOptions{MaxBytes: maxBytes}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, errors.New("kvstore: sqlite driver requires a path")
		}
		s, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("kvstore: unknown driver %q", cfg.Driver)
	}
}
