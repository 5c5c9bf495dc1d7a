/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package cache implements the bounded, FIFO-evicted, path+vary-keyed
// response cache of spec §4.2. Each worker owns one process-local
// instance (spec §9: "avoid process-wide mutable singletons"), so there
// is no cross-process synchronization to reason about.
//
// Grounded on the teacher's cache/item package (an expiring, atomically
// guarded cached value) for the freshness-check shape, generalized here
// to a fixed-capacity slotted table instead of a map, since the FIFO
// cursor needs an ordered slot, not just a key lookup.
package cache

import (
	"sync"
	"time"
)

// Key composites the absolute path with the vary-key derived from the
// request's User-Agent and Accept-Encoding headers, per spec §4.2.
type Key struct {
	Path string
	Vary string
}

// VaryKey formats the vary-key exactly as spec §4.2 specifies:
// "UA:<User-Agent>:AE:<Accept-Encoding>", each substituted empty if
// absent.
func VaryKey(userAgent, acceptEncoding string) string {
	return "UA:" + userAgent + ":AE:" + acceptEncoding
}

// entry is one cache slot. Bytes holds the complete serialized response
// (status line, headers, blank line, body) without the per-connection
// Connection header, per spec §4.2's "stored bytes" contract.
type entry struct {
	key      Key
	bytes    []byte
	stored   time.Time
	occupied bool
}

// Cache is a fixed-capacity, FIFO-evicted lookup table. Capacity and
// TTL default to the spec's constants (10,000 slots, 3600s) but are
// configurable for tests and for the ambient config additions in
// SPEC_FULL.md.
type Cache struct {
	mu       sync.RWMutex
	slots    []entry
	index    map[Key]int
	cursor   int
	ttl      time.Duration
	maxEntry int64
}

// DefaultTTL and DefaultCapacity are the spec §4.2 constants.
const (
	DefaultTTL      = 3600 * time.Second
	DefaultCapacity = 10000
	// MaxEntryBytes is the spec §4.2 cacheability size threshold: files
	// of this size or larger are never cached. Strictly-less-than, per
	// spec §8's boundary behavior.
	MaxEntryBytes = 1 << 20
)

// New builds a Cache with the given capacity and TTL. A zero capacity
// or ttl falls back to the spec defaults.
func New(capacity int, ttl time.Duration, maxEntryBytes int64) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntryBytes <= 0 {
		maxEntryBytes = MaxEntryBytes
	}
	return &Cache{
		slots:    make([]entry, capacity),
		index:    make(map[Key]int, capacity),
		ttl:      ttl,
		maxEntry: maxEntryBytes,
	}
}

// Cacheable reports whether a response of the given size is eligible
// for insertion, per spec §4.2/§4.4 ("Files above 1 MiB are never
// cached") and spec §8's boundary law (strict less-than).
func (c *Cache) Cacheable(size int64) bool {
	return size < c.maxEntry
}

// Lookup returns the cached bytes for key if a fresh entry exists.
// Stale entries (now - stored >= TTL) are ignored but not proactively
// evicted, per spec §4.2.
func (c *Cache) Lookup(key Key) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, ok := c.index[key]
	if !ok {
		return nil, false
	}
	e := &c.slots[idx]
	if !e.occupied || e.key != key {
		return nil, false
	}
	if time.Since(e.stored) >= c.ttl {
		return nil, false
	}
	return e.bytes, true
}

// Insert stores bytes under key, evicting whatever currently occupies
// the FIFO cursor's slot. Per spec §9's Design Notes this repo treats
// FIFO-with-free as intended: the evicted slot's previous bytes become
// unreferenced (and thus collectible) rather than being reused in
// place, since any in-flight response may still hold a reference to
// the old slice.
func (c *Cache) Insert(key Key, bytes []byte) {
	if !c.Cacheable(int64(len(bytes))) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	slot := c.cursor
	c.cursor = (c.cursor + 1) % len(c.slots)

	if prev, ok := c.index[key]; ok {
		c.slots[prev].occupied = false
	}

	old := c.slots[slot]
	if old.occupied && c.index[old.key] == slot {
		delete(c.index, old.key)
	}

	c.slots[slot] = entry{key: key, bytes: bytes, stored: time.Now(), occupied: true}
	c.index[key] = slot
}

// Len reports the number of occupied slots, for tests and metrics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}
