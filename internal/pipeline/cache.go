// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/cantoria/cantoria/internal/engine"
	"github.com/cantoria/cantoria/internal/phrase"
)

// Cache is a content-addressed artifact cache tier. Entries are written
// only after a stage fully succeeds and are never evicted within a process;
// boundedness is the owner's concern, not part of the cache contract.
//
// Thread Safety: Cache is safe for concurrent use. Concurrent computes of
// the same key are collapsed through singleflight so two renders sharing a
// cache never duplicate an engine call.
type Cache[K ~string, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
	group   singleflight.Group
}

// NewCache creates an empty cache tier.
func NewCache[K ~string, V any]() *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]V)}
}

// Get returns the entry for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Has reports whether key is present.
func (c *Cache[K, V]) Has(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Set stores an entry.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the stored keys in unspecified order.
func (c *Cache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]K, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// GetOrCompute returns the cached entry for key, or runs compute and
// stores its result. A failed compute stores nothing.
func (c *Cache[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	result, err, _ := c.group.Do(string(key), func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// CacheSet bundles the four artifact cache tiers of the renderer.
type CacheSet struct {
	Queries *Cache[phrase.QueryKey, *engine.Query]
	Pitches *Cache[phrase.PitchKey, []float64]
	Volumes *Cache[phrase.VolumeKey, []float64]
	Voices  *Cache[phrase.VoiceKey, []byte]
}

// NewCacheSet creates the four empty tiers.
func NewCacheSet() *CacheSet {
	return &CacheSet{
		Queries: NewCache[phrase.QueryKey, *engine.Query](),
		Pitches: NewCache[phrase.PitchKey, []float64](),
		Volumes: NewCache[phrase.VolumeKey, []float64](),
		Voices:  NewCache[phrase.VoiceKey, []byte](),
	}
}
