package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is a bounded in-process LRU with optional per-entry expiry. Safe
// for concurrent use.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory returns an LRU holding at most maxEntries values. maxEntries <= 0
// means unbounded and ttl <= 0 means entries never expire.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl)}
}

// Get returns a copy of the cached value and marks it recently used.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores a copy of value, evicting the least recently used entry when full.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.lru.Add(key, append([]byte(nil), value...))
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (m *Memory) Len() int {
	return m.lru.Len()
}

// Close drops all entries.
func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
