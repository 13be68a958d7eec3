package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// ResourceReader is the cache's view of the connection layer.
type ResourceReader interface {
	ReadResource(ctx context.Context, server, uri string) (*protocol.ReadResourceResult, error)
	SubscribeResource(ctx context.Context, server, uri string) error
}

type cacheKey struct {
	server string
	uri    string
}

type cacheEntry struct {
	data         *protocol.ReadResourceResult
	size         int64
	cachedAt     time.Time
	lastAccessed time.Time
	expiresAt    time.Time
	hitCount     int64
}

// CacheStats is a point-in-time snapshot of cache behavior.
type CacheStats struct {
	Entries      int
	TotalBytes   int64
	Hits         int64
	Misses       int64
	HitRate      float64
	AvgFetchTime time.Duration
	LastSweep    time.Time
}

// String renders the snapshot for logs and CLI output.
func (s CacheStats) String() string {
	return fmt.Sprintf("%d entries, %s, %.1f%% hit rate, avg fetch %s",
		s.Entries, humanize.Bytes(uint64(s.TotalBytes)), s.HitRate*100, s.AvgFetchTime)
}

// ResourceCache caches resource reads keyed by (server, uri) with TTL
// freshness, subscription-driven invalidation, and LRU eviction against a
// soft byte budget enforced by a periodic sweep.
type ResourceCache struct {
	reader ResourceReader
	opts   CacheOptions
	logger logx.Logger

	mu         sync.Mutex
	entries    map[cacheKey]*cacheEntry
	subscribed map[cacheKey]bool

	hits       int64
	misses     int64
	fetchTotal time.Duration
	fetchCount int64
	lastSweep  time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

// NewResourceCache creates a cache over the given reader.
func NewResourceCache(reader ResourceReader, opts CacheOptions, logger logx.Logger) *ResourceCache {
	if logger == nil {
		logger = logx.NewNilLogger()
	}
	return &ResourceCache{
		reader:     reader,
		opts:       opts.normalized(),
		logger:     logger,
		entries:    make(map[cacheKey]*cacheEntry),
		subscribed: make(map[cacheKey]bool),
		stop:       make(chan struct{}),
	}
}

// Start launches the periodic sweep.
func (c *ResourceCache) Start() {
	c.startOnce.Do(func() {
		go c.sweepLoop()
	})
}

// Stop halts the sweep loop.
func (c *ResourceCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *ResourceCache) sweepLoop() {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Get returns the cached resource when fresh, fetching through the reader on
// a miss. The first fill for a key also subscribes to change notifications,
// best-effort.
func (c *ResourceCache) Get(ctx context.Context, server, uri string) (*protocol.ReadResourceResult, error) {
	key := cacheKey{server: server, uri: uri}
	now := time.Now()

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && now.Before(entry.expiresAt) {
		entry.hitCount++
		entry.lastAccessed = now
		c.hits++
		data := entry.data
		c.mu.Unlock()
		return data, nil
	}
	c.misses++
	needSubscribe := !c.subscribed[key]
	c.mu.Unlock()

	fetchStart := time.Now()
	data, err := c.reader.ReadResource(ctx, server, uri)
	if err != nil {
		return nil, err
	}
	fetchTime := time.Since(fetchStart)

	c.mu.Lock()
	c.fetchTotal += fetchTime
	c.fetchCount++
	c.entries[key] = &cacheEntry{
		data:         data,
		size:         resultSize(data),
		cachedAt:     now,
		lastAccessed: now,
		expiresAt:    now.Add(c.opts.TTL),
	}
	c.mu.Unlock()

	if needSubscribe {
		// Servers without subscription support reject this; not an error.
		if err := c.reader.SubscribeResource(ctx, server, uri); err != nil {
			c.logger.Debug("subscribe %s on %s declined: %v", uri, server, err)
		}
		c.mu.Lock()
		c.subscribed[key] = true
		c.mu.Unlock()
	}
	return data, nil
}

// Invalidate drops one entry so the next Get re-fetches.
func (c *ResourceCache) Invalidate(server, uri string) {
	key := cacheKey{server: server, uri: uri}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// ClearServer drops every entry and subscription record for one server.
func (c *ResourceCache) ClearServer(server string) {
	c.mu.Lock()
	for key := range c.entries {
		if key.server == server {
			delete(c.entries, key)
		}
	}
	for key := range c.subscribed {
		if key.server == server {
			delete(c.subscribed, key)
		}
	}
	c.mu.Unlock()
}

// HandleResourceUpdated is the notification-driven invalidation path.
func (c *ResourceCache) HandleResourceUpdated(server, uri string) {
	c.logger.Debug("resource %s on %s updated, invalidating", uri, server)
	c.Invalidate(server, uri)
}

// Sweep removes expired entries, then evicts oldest-accessed entries until
// the total size fits the byte budget.
func (c *ResourceCache) Sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSweep = now

	var total int64
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			continue
		}
		total += entry.size
	}
	if total <= c.opts.MaxBytes {
		return
	}

	type aged struct {
		key   cacheKey
		entry *cacheEntry
	}
	byAge := make([]aged, 0, len(c.entries))
	for key, entry := range c.entries {
		byAge = append(byAge, aged{key: key, entry: entry})
	}
	sort.Slice(byAge, func(i, j int) bool {
		return byAge[i].entry.lastAccessed.Before(byAge[j].entry.lastAccessed)
	})

	evicted := 0
	for _, candidate := range byAge {
		if total <= c.opts.MaxBytes {
			break
		}
		delete(c.entries, candidate.key)
		total -= candidate.entry.size
		evicted++
	}
	if evicted > 0 {
		c.logger.Info("cache sweep evicted %d entries, %s cached", evicted, humanize.Bytes(uint64(total)))
	}
}

// Stats returns a snapshot of cache behavior.
func (c *ResourceCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		LastSweep: c.lastSweep,
	}
	for _, entry := range c.entries {
		stats.TotalBytes += entry.size
	}
	if lookups := c.hits + c.misses; lookups > 0 {
		stats.HitRate = float64(c.hits) / float64(lookups)
	}
	if c.fetchCount > 0 {
		stats.AvgFetchTime = c.fetchTotal / time.Duration(c.fetchCount)
	}
	return stats
}

// resultSize approximates the in-memory footprint of a resource read.
func resultSize(result *protocol.ReadResourceResult) int64 {
	var size int64
	for _, contents := range result.Contents {
		size += int64(len(contents.URI) + len(contents.MimeType) + len(contents.Text) + len(contents.Blob))
	}
	return size
}
