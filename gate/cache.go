// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a cached plan/verdict pair stays valid.
const DefaultCacheTTL = 60 * time.Second

// CacheEntry is the unit stored in the plan cache: the structured plan and
// the verdict computed for it. Verdicts are a pure function of (plan, policy
// config), so caching them alongside the plan is sound — write-intent plans
// are never cached because their verdict also depends on the per-request
// approval flag.
type CacheEntry struct {
	Plan     *QueryPlan     `json:"plan"`
	Verdict  *PolicyVerdict `json:"verdict"`
	StoredAt time.Time      `json:"stored_at"`
}

// PlanCache maps a fingerprint to a cached plan/verdict pair. Entries expire
// after the cache's TTL; expired entries behave as absent. Implementations
// are safe for concurrent use and last-writer-wins on concurrent puts for
// the same fingerprint.
type PlanCache interface {
	Get(ctx context.Context, fingerprint string) (*CacheEntry, bool)
	Put(ctx context.Context, fingerprint string, entry *CacheEntry)
}

type memoryItem struct {
	entry     *CacheEntry
	expiresAt time.Time
}

// MemoryCache is the in-process PlanCache. Expiry is lazy: an expired entry
// is dropped on the lookup that finds it, plus an optional background sweep
// for memory bounding.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewMemoryCache builds a cache with the given TTL (DefaultCacheTTL when
// zero or negative).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		items:     make(map[string]memoryItem),
		ttl:       ttl,
		now:       time.Now,
		stopSweep: make(chan struct{}),
	}
}

// Get returns the cached entry for the fingerprint, or absent when missing
// or expired.
func (c *MemoryCache) Get(ctx context.Context, fingerprint string) (*CacheEntry, bool) {
	c.mu.RLock()
	item, ok := c.items[fingerprint]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(item.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a fresher put may have replaced it.
		if cur, ok := c.items[fingerprint]; ok && c.now().After(cur.expiresAt) {
			delete(c.items, fingerprint)
		}
		c.mu.Unlock()
		return nil, false
	}
	return item.entry, true
}

// Put stores the entry, overwriting any existing entry for the fingerprint.
func (c *MemoryCache) Put(ctx context.Context, fingerprint string, entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[fingerprint] = memoryItem{entry: entry, expiresAt: c.now().Add(c.ttl)}
}

// Len returns the current entry count, expired entries included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// StartSweeper launches a background goroutine that evicts expired entries
// every interval, bounding memory for long-running processes. Stop it with
// StopSweeper.
func (c *MemoryCache) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.stopSweep:
				return
			}
		}
	}()
}

// StopSweeper stops the background sweeper, if running.
func (c *MemoryCache) StopSweeper() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}

func (c *MemoryCache) sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, fp)
		}
	}
}
