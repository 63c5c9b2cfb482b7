package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Key identifies a cached result: the dataset version it was computed
// against and the fingerprint of the compiled expression.
type Key struct {
	Version     uint64
	Fingerprint string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.Version, k.Fingerprint)
}

// Entry is a cached, ordered result sequence. IDs is shared with every
// reader and must not be modified.
type Entry struct {
	Key       Key
	IDs       []string
	CreatedAt time.Time
	Cost      int64

	lastAccess time.Time
	elem       *list.Element
}

// Age returns how long ago the entry was created.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

const (
	entryOverhead = 128
	perIDOverhead = 16
)

// EstimateCost returns the accounted size of a result with the given ids.
// Cost grows linearly with the number of ids.
func EstimateCost(key Key, ids []string) int64 {
	cost := int64(entryOverhead + len(key.Fingerprint))
	for _, id := range ids {
		cost += int64(perIDOverhead + len(id))
	}
	return cost
}

// Options configures a ResultCache.
type Options struct {
	// BudgetBytes bounds the summed cost of all entries.
	BudgetBytes int64

	// TTL is the maximum age of an entry. Zero disables expiry.
	TTL time.Duration

	// CurrentVersion reports the live dataset version. Entries keyed to an
	// older version are stale. Nil treats every version as current.
	CurrentVersion func() uint64

	// Now is the clock used for creation times and expiry.
	Now func() time.Time
}

// DefaultOptions returns the documented defaults: 50 MiB and 300 seconds.
func DefaultOptions() Options {
	return Options{
		BudgetBytes: 50 << 20,
		TTL:         300 * time.Second,
		Now:         time.Now,
	}
}

// Option is a functional option for NewResultCache.
type Option func(*Options)

// WithBudget sets the memory budget in bytes.
func WithBudget(bytes int64) Option {
	return func(o *Options) { o.BudgetBytes = bytes }
}

// WithTTL sets the entry time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = ttl }
}

// WithVersionFunc sets the function reporting the live dataset version.
func WithVersionFunc(fn func() uint64) Option {
	return func(o *Options) { o.CurrentVersion = fn }
}

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

// ResultCache is a size-bounded LRU cache of evaluation results with TTL
// expiry and version-based invalidation.
//
// Thread Safety:
//
//	ResultCache is safe for concurrent use. A single mutex guards the entry
//	map, recency list and byte accounting.
type ResultCache struct {
	mu      sync.Mutex
	entries map[Key]*Entry
	lru     *list.List // front is most recently used
	latest  map[string]Key
	used    int64
	options Options

	hits      int64
	misses    int64
	stale     int64
	expired   int64
	evictions int64
	rejected  int64
}

// NewResultCache creates a cache with the given options applied over
// DefaultOptions.
func NewResultCache(opts ...Option) *ResultCache {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &ResultCache{
		entries: make(map[Key]*Entry),
		lru:     list.New(),
		latest:  make(map[string]Key),
		options: options,
	}
}

func (c *ResultCache) currentVersion() uint64 {
	if c.options.CurrentVersion == nil {
		return 0
	}
	return c.options.CurrentVersion()
}

// IsCurrent reports whether results for version may still be served.
func (c *ResultCache) IsCurrent(version uint64) bool {
	return version >= c.currentVersion()
}

func (c *ResultCache) isExpired(e *Entry, now time.Time) bool {
	return c.options.TTL > 0 && e.Age(now) > c.options.TTL
}

// Get returns the entry for key. Stale and expired entries are removed and
// reported as misses. A hit marks the entry most recently used.
func (c *ResultCache) Get(ctx context.Context, key Key) (*Entry, bool) {
	start := time.Now()
	ctx, span := startCacheSpan(ctx, "Get", key)
	defer span.End()

	entry, ok := c.get(ctx, key)
	setCacheSpanResult(span, ok)
	recordCacheGetLatency(ctx, time.Since(start), ok)
	return entry, ok
}

func (c *ResultCache) get(ctx context.Context, key Key) (*Entry, bool) {
	now := c.options.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		recordCacheMiss(ctx, "absent")
		return nil, false
	}
	if !c.IsCurrent(key.Version) {
		c.removeLocked(entry)
		atomic.AddInt64(&c.stale, 1)
		atomic.AddInt64(&c.misses, 1)
		recordCacheMiss(ctx, "stale")
		return nil, false
	}
	if c.isExpired(entry, now) {
		c.removeLocked(entry)
		atomic.AddInt64(&c.expired, 1)
		atomic.AddInt64(&c.misses, 1)
		recordCacheMiss(ctx, "expired")
		return nil, false
	}

	entry.lastAccess = now
	c.lru.MoveToFront(entry.elem)
	atomic.AddInt64(&c.hits, 1)
	recordCacheHit(ctx)
	return entry, true
}

// Put stores ids under key and evicts least recently used entries until
// the budget holds. It reports whether the entry was stored: results for a
// non-current version and results larger than the whole budget are
// rejected.
func (c *ResultCache) Put(ctx context.Context, key Key, ids []string) bool {
	if !c.IsCurrent(key.Version) {
		atomic.AddInt64(&c.rejected, 1)
		return false
	}
	cost := EstimateCost(key, ids)
	if cost > c.options.BudgetBytes {
		atomic.AddInt64(&c.rejected, 1)
		return false
	}

	now := c.options.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}
	entry := &Entry{
		Key:        key,
		IDs:        ids,
		CreatedAt:  now,
		Cost:       cost,
		lastAccess: now,
	}
	entry.elem = c.lru.PushFront(entry)
	c.entries[key] = entry
	c.used += cost
	if prev, ok := c.latest[key.Fingerprint]; !ok || prev.Version <= key.Version {
		c.latest[key.Fingerprint] = key
	}

	c.evictIfNeeded(ctx)
	return true
}

// evictIfNeeded removes entries from the back of the recency list until
// the budget holds. Caller must hold c.mu.
func (c *ResultCache) evictIfNeeded(ctx context.Context) {
	for c.used > c.options.BudgetBytes {
		back := c.lru.Back()
		if back == nil {
			return
		}
		c.removeLocked(back.Value.(*Entry))
		atomic.AddInt64(&c.evictions, 1)
		recordCacheEviction(ctx)
	}
}

// removeLocked unlinks entry. Caller must hold c.mu.
func (c *ResultCache) removeLocked(entry *Entry) {
	c.lru.Remove(entry.elem)
	delete(c.entries, entry.Key)
	c.used -= entry.Cost
	if k, ok := c.latest[entry.Key.Fingerprint]; ok && k == entry.Key {
		delete(c.latest, entry.Key.Fingerprint)
	}
}

// Latest returns the newest unexpired entry for fingerprint regardless of
// its version. It is meant for placeholders while a refresh is pending and
// does not affect recency or hit counters.
func (c *ResultCache) Latest(fingerprint string) (*Entry, bool) {
	now := c.options.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.latest[fingerprint]
	if !ok {
		return nil, false
	}
	entry, ok := c.entries[key]
	if !ok || c.isExpired(entry, now) {
		return nil, false
	}
	return entry, true
}

// DropBefore removes every entry computed for a version older than
// version, except the newest entry per fingerprint, which Latest may still
// serve as a placeholder. It returns the number of entries removed.
func (c *ResultCache) DropBefore(version uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if key.Version >= version {
			continue
		}
		if c.latest[key.Fingerprint] == key {
			continue
		}
		c.removeLocked(entry)
		removed++
	}
	return removed
}

// Len returns the number of entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Stale       int64 `json:"stale"`
	Expired     int64 `json:"expired"`
	Evictions   int64 `json:"evictions"`
	Rejected    int64 `json:"rejected"`
	Entries     int   `json:"entries"`
	UsedBytes   int64 `json:"used_bytes"`
	BudgetBytes int64 `json:"budget_bytes"`
}

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the current counters.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	entries, used := len(c.entries), c.used
	c.mu.Unlock()

	return Stats{
		Hits:        atomic.LoadInt64(&c.hits),
		Misses:      atomic.LoadInt64(&c.misses),
		Stale:       atomic.LoadInt64(&c.stale),
		Expired:     atomic.LoadInt64(&c.expired),
		Evictions:   atomic.LoadInt64(&c.evictions),
		Rejected:    atomic.LoadInt64(&c.rejected),
		Entries:     entries,
		UsedBytes:   used,
		BudgetBytes: c.options.BudgetBytes,
	}
}
