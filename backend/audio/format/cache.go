package format

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("item not found")

// Cache remembers detection results per source URL or path so a track
// that is reloaded does not need its header sniffed again.
type Cache struct {
	MinSize    int
	MaxSize    int
	DefaultTTL time.Duration

	mu    sync.RWMutex
	cache map[string]CacheItem
}

type CacheItem struct {
	info       Info
	expiresAt  int64 // unix seconds
	lastAccess int64 // unix nanos
	ttl        time.Duration
}

// Init allocates the cache if needed and starts periodic eviction of expired items
// until ctx is cancelled.
func (c *Cache) Init(ctx context.Context, evictionInterval time.Duration) {
	c.mu.Lock()
	if c.cache == nil {
		c.cache = make(map[string]CacheItem)
	}
	c.mu.Unlock()

	go func() {
		t := time.NewTicker(evictionInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.EvictExpired()
			}
		}
	}()
}

func (c *Cache) Set(key string, info Info) {
	c.SetWithTTL(key, info, c.DefaultTTL)
}

func (c *Cache) SetWithTTL(key string, info Info, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		c.cache = make(map[string]CacheItem)
	}

	if _, ok := c.cache[key]; !ok && c.MaxSize > 0 && len(c.cache) >= c.MaxSize {
		c.evictLRU()
	}
	now := time.Now()
	c.cache[key] = CacheItem{
		info:       info,
		expiresAt:  now.Add(ttl).Unix(),
		lastAccess: now.UnixNano(),
		ttl:        ttl,
	}
}

// Get returns the cached info for key. Expired items that have not been
// evicted yet are still returned.
func (c *Cache) Get(key string) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.cache[key]
	if !ok {
		return Info{}, ErrNotFound
	}
	item.lastAccess = time.Now().UnixNano()
	c.cache[key] = item
	return item.info, nil
}

// GetResetTTL returns the cached info and, if resetTTL is set, pushes its
// expiry out by the TTL it was stored with.
func (c *Cache) GetResetTTL(key string, resetTTL bool) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.cache[key]
	if !ok {
		return Info{}, ErrNotFound
	}
	now := time.Now()
	item.lastAccess = now.UnixNano()
	if resetTTL {
		item.expiresAt = now.Add(item.ttl).Unix()
	}
	c.cache[key] = item
	return item.info, nil
}

func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.cache[key]
	return ok
}

// EvictExpired drops expired items, oldest expiry first, but never shrinks
// the cache below MinSize.
func (c *Cache) EvictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().Unix()
	var expired []string
	for k, v := range c.cache {
		if v.expiresAt <= now {
			expired = append(expired, k)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return c.cache[expired[i]].expiresAt < c.cache[expired[j]].expiresAt
	})
	for _, k := range expired {
		if len(c.cache) <= c.MinSize {
			break
		}
		delete(c.cache, k)
	}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]CacheItem)
}

// must be called with lock held
func (c *Cache) evictLRU() {
	var oldestKey string
	var oldest int64
	first := true
	for k, v := range c.cache {
		if first || v.lastAccess < oldest {
			oldestKey, oldest = k, v.lastAccess
			first = false
		}
	}
	if !first {
		delete(c.cache, oldestKey)
	}
}
