package models

import "go.uber.org/atomic"

// Metrics holds cache hit/miss statistics.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	// DroppedWrites counts persistent-tier writes discarded after a failure.
	DroppedWrites atomic.Int64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}
