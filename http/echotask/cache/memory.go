// Package cache caches successful GET responses of an echo server.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is a cached response.
type Entry struct {
	ContentType string
	Body        []byte
}

// Memory is an in-memory LRU cache whose entries expire after a fixed TTL.
// It is safe for concurrent use.
type Memory struct {
	lru *expirable.LRU[string, Entry]
}

// NewMemory creates a Memory holding at most maxItems entries.
func NewMemory(maxItems int, ttl time.Duration) *Memory {
	return &Memory{lru: expirable.NewLRU[string, Entry](maxItems, nil, ttl)}
}

func (m *Memory) Get(key string) (Entry, bool) {
	return m.lru.Get(key)
}

func (m *Memory) Set(key string, entry Entry) {
	m.lru.Add(key, entry)
}

// Purge drops every entry.
func (m *Memory) Purge() {
	m.lru.Purge()
}
