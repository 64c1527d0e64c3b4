package models

import (
	"encoding/json"
	"time"
)

// Entry represents a cache entry held in the in-process tier.
type Entry struct {
	Key          string
	Data         []byte
	CreatedAt    time.Time
	TTL          time.Duration
	LastAccessed time.Time
}

// NewEntry creates a new Entry created and last accessed at now.
func NewEntry(key string, data []byte, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		Key:          key,
		Data:         data,
		CreatedAt:    now,
		TTL:          ttl,
		LastAccessed: now,
	}
}

// ExpiresAt returns the instant after which the entry is stale.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// IsExpired checks if the entry has expired at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// Touch records a read at now.
func (e *Entry) Touch(now time.Time) {
	e.LastAccessed = now
}

// Record is the persistent-tier value shape, serialized as JSON text.
type Record struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Duration  int64           `json:"duration"`  // milliseconds
}

// NewRecord builds the persistent form of an entry.
func NewRecord(e *Entry) Record {
	return Record{
		Data:      json.RawMessage(e.Data),
		Timestamp: e.CreatedAt.UnixMilli(),
		Duration:  e.TTL.Milliseconds(),
	}
}

// IsExpired checks if the record has expired at now.
func (r Record) IsExpired(now time.Time) bool {
	return now.UnixMilli() > r.Timestamp+r.Duration
}

// Entry converts the record back into an in-process entry touched at now.
func (r Record) Entry(key string, now time.Time) *Entry {
	return &Entry{
		Key:          key,
		Data:         []byte(r.Data),
		CreatedAt:    time.UnixMilli(r.Timestamp),
		TTL:          time.Duration(r.Duration) * time.Millisecond,
		LastAccessed: now,
	}
}
