// Package lru implements the bounded in-process cache tier.
//
// Entries are kept on a doubly-linked list ordered by last access, so the
// tail is always the entry with the oldest LastAccessed. The Cache is not
// safe for concurrent use; the owning cache.Manager serializes access.
package lru

import "goflare.io/aegis/internal/models"

type node struct {
	entry *models.Entry

	// prev points to the node used more recently than this one.
	prev *node

	// next points to the node used less recently than this one.
	next *node
}

// Cache is a capacity-bounded LRU of cache entries.
type Cache struct {
	capacity int
	nodes    map[string]*node

	// head is the most recently used entry, tail the least.
	head *node
	tail *node
}

// New creates a Cache holding at most capacity entries. A capacity below 1
// is raised to 1.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		nodes:    make(map[string]*node, capacity),
	}
}

// Get returns the entry for key and marks it most recently used.
func (c *Cache) Get(key string) (*models.Entry, bool) {
	n, ok := c.nodes[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(n)
	return n.entry, true
}

// Peek returns the entry for key without changing its recency.
func (c *Cache) Peek(key string) (*models.Entry, bool) {
	n, ok := c.nodes[key]
	if !ok {
		return nil, false
	}
	return n.entry, true
}

// Put inserts or replaces an entry as most recently used. When the insert
// pushes the cache over capacity the least recently used entry is removed
// and returned.
func (c *Cache) Put(e *models.Entry) *models.Entry {
	if n, ok := c.nodes[e.Key]; ok {
		n.entry = e
		c.moveToFront(n)
		return nil
	}

	n := &node{entry: e}
	c.nodes[e.Key] = n
	c.addFront(n)

	if len(c.nodes) <= c.capacity {
		return nil
	}
	return c.evict()
}

// Delete removes key, reporting whether it was present.
func (c *Cache) Delete(key string) bool {
	n, ok := c.nodes[key]
	if !ok {
		return false
	}
	c.remove(n)
	delete(c.nodes, key)
	return true
}

// Keys returns all keys, most recently used first.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, len(c.nodes))
	for n := c.head; n != nil; n = n.next {
		keys = append(keys, n.entry.Key)
	}
	return keys
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(c.nodes)
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.nodes = make(map[string]*node, c.capacity)
	c.head = nil
	c.tail = nil
}

func (c *Cache) evict() *models.Entry {
	n := c.tail
	if n == nil {
		return nil
	}
	c.remove(n)
	delete(c.nodes, n.entry.Key)
	return n.entry
}

func (c *Cache) addFront(n *node) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *Cache) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}

func (c *Cache) moveToFront(n *node) {
	if c.head == n {
		return
	}
	c.remove(n)
	c.addFront(n)
}
