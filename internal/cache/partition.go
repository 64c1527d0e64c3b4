package cache

import (
	"sort"
	"time"
)

// PartitionPolicy maps a resource category to the TTL of its cached responses.
type PartitionPolicy struct {
	ttls     map[string]time.Duration
	fallback time.Duration
}

// NewPartitionPolicy copies ttls; partitions not listed use fallback.
func NewPartitionPolicy(ttls map[string]time.Duration, fallback time.Duration) PartitionPolicy {
	copied := make(map[string]time.Duration, len(ttls))
	for k, v := range ttls {
		copied[k] = v
	}
	return PartitionPolicy{ttls: copied, fallback: fallback}
}

// TTL returns the time-to-live for partition.
func (p PartitionPolicy) TTL(partition string) time.Duration {
	if ttl, ok := p.ttls[partition]; ok {
		return ttl
	}
	return p.fallback
}

// Partitions lists the configured partitions in sorted order.
func (p PartitionPolicy) Partitions() []string {
	names := make([]string, 0, len(p.ttls))
	for name := range p.ttls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
