package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildKey(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		params   map[string]any
		want     string
	}{
		{"no params", "/entities", nil, "/entities"},
		{"empty params", "/entities", map[string]any{}, "/entities"},
		{"sorted", "/entities", map[string]any{"page": 1, "limit": 20}, "/entities?limit=20&page=1"},
		{"nil values omitted", "/entities", map[string]any{"page": 1, "q": nil}, "/entities?page=1"},
		{"escaped", "/search", map[string]any{"q": "a b&c"}, "/search?q=a+b%26c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildKey(tt.resource, tt.params))
		})
	}
}

func TestBuildKey_OrderIndependent(t *testing.T) {
	a := BuildKey("/x", map[string]any{"b": 2, "a": 1})
	b := BuildKey("/x", map[string]any{"a": 1, "b": 2})
	assert.Equal(t, a, b)
}

func TestPartitionPolicy(t *testing.T) {
	ttls := map[string]time.Duration{"entities": 10 * time.Minute, "settings": time.Hour}
	p := NewPartitionPolicy(ttls, 5*time.Minute)

	// Later changes to the source map do not leak in.
	ttls["entities"] = time.Second

	assert.Equal(t, 10*time.Minute, p.TTL("entities"))
	assert.Equal(t, time.Hour, p.TTL("settings"))
	assert.Equal(t, 5*time.Minute, p.TTL("unknown"))
	assert.Equal(t, []string{"entities", "settings"}, p.Partitions())
}
