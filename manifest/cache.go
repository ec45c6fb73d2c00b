package manifest

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// ResultCache is a thread-safe, SHA-256-keyed cache of validation results
// with TTL expiration and LRU eviction, adapted from the reference cache
// layer's CacheLayer and specialized to Result instead of any.
type ResultCache struct {
	mu         sync.RWMutex
	items      map[string]*list.Element
	eviction   *list.List
	maxSize    int
	defaultTTL time.Duration

	hits   int64
	misses int64
}

type resultEntry struct {
	key       string
	value     Result
	expiresAt time.Time
}

// CacheConfig configures a ResultCache.
type CacheConfig struct {
	MaxSize    int
	DefaultTTL time.Duration
}

// DefaultCacheConfig matches the 1000-entry, 24h defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxSize: 1000, DefaultTTL: 24 * time.Hour}
}

// NewResultCache creates a ResultCache.
func NewResultCache(cfg CacheConfig) *ResultCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	return &ResultCache{
		items:      make(map[string]*list.Element, cfg.MaxSize),
		eviction:   list.New(),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
	}
}

// Digest returns the hex SHA-256 digest of raw manifest bytes. GetOrValidate
// keys its cache on this digest combined with the severity.
func Digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached Result for digest, if present and unexpired.
func (c *ResultCache) Get(digest string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[digest]
	if !ok {
		c.misses++
		return Result{}, false
	}
	entry := elem.Value.(*resultEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return Result{}, false
	}
	c.eviction.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Set stores a Result under digest with the cache's default TTL.
func (c *ResultCache) Set(digest string, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[digest]; ok {
		entry := elem.Value.(*resultEntry)
		entry.value = res
		entry.expiresAt = time.Now().Add(c.defaultTTL)
		c.eviction.MoveToFront(elem)
		return
	}

	for c.eviction.Len() >= c.maxSize {
		c.evictLocked()
	}

	entry := &resultEntry{key: digest, value: res, expiresAt: time.Now().Add(c.defaultTTL)}
	elem := c.eviction.PushFront(entry)
	c.items[digest] = elem
}

func (c *ResultCache) evictLocked() {
	back := c.eviction.Back()
	if back == nil {
		return
	}
	c.removeLocked(back)
}

func (c *ResultCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*resultEntry)
	delete(c.items, entry.key)
	c.eviction.Remove(elem)
}

// Len reports the number of cached entries, including expired-but-not-yet-
// evicted ones.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eviction.Len()
}

// Stats reports cache hit/miss counters.
type Stats struct {
	Size    int
	Hits    int64
	Misses  int64
	HitRate float64
}

func (c *ResultCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{Size: c.eviction.Len(), Hits: c.hits, Misses: c.misses, HitRate: rate}
}

// GetOrValidate returns the cached Result for raw's digest, or runs
// Validate(m, severity) on a miss and caches it. Equal raw bytes at the
// same severity always produce an equal Result whether served from cache
// or freshly computed.
func (c *ResultCache) GetOrValidate(raw []byte, m *Manifest, severity Severity) Result {
	digest := cacheKey(raw, severity)
	if res, ok := c.Get(digest); ok {
		return res
	}
	res := Validate(m, severity)
	c.Set(digest, res)
	return res
}

// cacheKey combines the manifest digest with severity, since the same
// bytes validated at different severities are not interchangeable.
func cacheKey(raw []byte, severity Severity) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]) + ":" + severityLabel(severity)
}

func severityLabel(s Severity) string {
	switch s {
	case Trusted:
		return "trusted"
	case Essential:
		return "essential"
	default:
		return "full"
	}
}
