package overlayfs

import (
	"os"
	"strings"
	"sync"
	"time"
)

const defaultCacheEntries = 1000

// cache memoizes merged-view lookups: positive entries keep the resolved
// FileInfo and layer, negative entries record known-absent paths. Disabled
// by default; every mutation invalidates the affected path.
type cache struct {
	mu       sync.RWMutex
	stats    map[string]*statEntry
	negative map[string]time.Time

	statTTL     time.Duration
	negativeTTL time.Duration
	maxEntries  int
	enabled     bool
}

type statEntry struct {
	info    os.FileInfo
	layer   layerID
	expires time.Time
}

func disabledCache() *cache {
	return &cache{}
}

func newCache(statTTL, negativeTTL time.Duration, maxEntries int) *cache {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	return &cache{
		stats:       make(map[string]*statEntry),
		negative:    make(map[string]time.Time),
		statTTL:     statTTL,
		negativeTTL: negativeTTL,
		maxEntries:  maxEntries,
		enabled:     true,
	}
}

func (c *cache) getStat(name string) (os.FileInfo, layerID, bool) {
	if !c.enabled {
		return nil, layerNone, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.stats[name]
	if !ok || time.Now().After(entry.expires) {
		return nil, layerNone, false
	}
	return entry.info, entry.layer, true
}

func (c *cache) putStat(name string, info os.FileInfo, layer layerID) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.stats) >= c.maxEntries {
		c.evict()
	}
	c.stats[name] = &statEntry{
		info:    info,
		layer:   layer,
		expires: time.Now().Add(c.statTTL),
	}
}

func (c *cache) isNegative(name string) bool {
	if !c.enabled {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	expires, ok := c.negative[name]
	return ok && time.Now().Before(expires)
}

func (c *cache) putNegative(name string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.negative) >= c.maxEntries {
		c.evict()
	}
	c.negative[name] = time.Now().Add(c.negativeTTL)
}

func (c *cache) invalidate(name string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.stats, name)
	delete(c.negative, name)
}

// invalidateTree drops every entry at or under prefix. Used by rename,
// whose subtree walk touches paths the per-operation invalidation cannot
// enumerate cheaply.
func (c *cache) invalidateTree(prefix string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for name := range c.stats {
		if name == prefix || strings.HasPrefix(name, prefix+"/") {
			delete(c.stats, name)
		}
	}
	for name := range c.negative {
		if name == prefix || strings.HasPrefix(name, prefix+"/") {
			delete(c.negative, name)
		}
	}
}

// evict drops the entry closest to expiry from each map. Callers hold the
// write lock.
func (c *cache) evict() {
	var oldest string
	var oldestAt time.Time
	for name, entry := range c.stats {
		if oldest == "" || entry.expires.Before(oldestAt) {
			oldest, oldestAt = name, entry.expires
		}
	}
	if oldest != "" {
		delete(c.stats, oldest)
	}

	oldest, oldestAt = "", time.Time{}
	for name, expires := range c.negative {
		if oldest == "" || expires.Before(oldestAt) {
			oldest, oldestAt = name, expires
		}
	}
	if oldest != "" {
		delete(c.negative, oldest)
	}
}
