package cache

import (
	"fmt"
	"net/url"
)

// BuildKey derives the canonical cache key for a resource and its query
// parameters. Parameters are sorted by name, so argument order never
// changes the key; nil values are omitted.
func BuildKey(resource string, params map[string]any) string {
	values := url.Values{}
	for name, v := range params {
		if v == nil {
			continue
		}
		values.Set(name, fmt.Sprint(v))
	}
	if len(values) == 0 {
		return resource
	}
	return resource + "?" + values.Encode()
}
