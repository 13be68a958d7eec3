package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduitproj/conduit/protocol"
)

// countingReader serves scripted resource bodies and counts fetches.
type countingReader struct {
	mu         sync.Mutex
	fetches    map[string]int
	subscribes map[string]int
	bodies     map[string]string
	fetchErr   error
	subErr     error
}

func newCountingReader() *countingReader {
	return &countingReader{
		fetches:    make(map[string]int),
		subscribes: make(map[string]int),
		bodies:     make(map[string]string),
	}
}

func (r *countingReader) key(server, uri string) string {
	return server + "|" + uri
}

func (r *countingReader) ReadResource(ctx context.Context, server, uri string) (*protocol.ReadResourceResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches[r.key(server, uri)]++
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	body, ok := r.bodies[r.key(server, uri)]
	if !ok {
		body = "content of " + uri
	}
	return &protocol.ReadResourceResult{
		Contents: []protocol.ResourceContents{{URI: uri, MimeType: "text/plain", Text: body}},
	}, nil
}

func (r *countingReader) SubscribeResource(ctx context.Context, server, uri string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribes[r.key(server, uri)]++
	return r.subErr
}

func (r *countingReader) fetchCount(server, uri string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[r.key(server, uri)]
}

func TestCacheGetHitsOnceWithinTTL(t *testing.T) {
	reader := newCountingReader()
	cache := NewResourceCache(reader, CacheOptions{TTL: time.Hour}, nil)

	first, err := cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, reader.fetchCount("data", "data://users"))

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCacheRefetchesAfterExpiry(t *testing.T) {
	reader := newCountingReader()
	cache := NewResourceCache(reader, CacheOptions{TTL: time.Hour}, nil)

	_, err := cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)

	// Age the entry past its deadline.
	cache.mu.Lock()
	cache.entries[cacheKey{server: "data", uri: "data://users"}].expiresAt = time.Now().Add(-time.Minute)
	cache.mu.Unlock()

	_, err = cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.fetchCount("data", "data://users"))
}

func TestCacheSubscribesOncePerKey(t *testing.T) {
	reader := newCountingReader()
	cache := NewResourceCache(reader, CacheOptions{}, nil)

	for i := 0; i < 3; i++ {
		_, err := cache.Get(context.Background(), "data", "data://users")
		require.NoError(t, err)
	}

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Equal(t, 1, reader.subscribes["data|data://users"])
}

func TestCacheSubscribeFailureIsNotAnError(t *testing.T) {
	reader := newCountingReader()
	reader.subErr = errors.New("subscriptions not supported")
	cache := NewResourceCache(reader, CacheOptions{}, nil)

	_, err := cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)
}

func TestCacheInvalidateForcesRefetch(t *testing.T) {
	reader := newCountingReader()
	cache := NewResourceCache(reader, CacheOptions{}, nil)

	_, err := cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)

	cache.Invalidate("data", "data://users")

	_, err = cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.fetchCount("data", "data://users"))
}

func TestCacheResourceUpdatedInvalidates(t *testing.T) {
	reader := newCountingReader()
	cache := NewResourceCache(reader, CacheOptions{}, nil)

	_, err := cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)

	cache.HandleResourceUpdated("data", "data://users")

	_, err = cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.fetchCount("data", "data://users"))
}

func TestCacheClearServer(t *testing.T) {
	reader := newCountingReader()
	cache := NewResourceCache(reader, CacheOptions{}, nil)

	_, err := cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "other", "data://users")
	require.NoError(t, err)

	cache.ClearServer("data")

	assert.Equal(t, 1, cache.Stats().Entries)

	// The subscription record is gone too, so the next fill re-subscribes.
	_, err = cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)
	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Equal(t, 2, reader.subscribes["data|data://users"])
	assert.Equal(t, 1, reader.subscribes["other|data://users"])
}

func TestCacheFetchErrorPropagates(t *testing.T) {
	reader := newCountingReader()
	reader.fetchErr = errors.New("server unreachable")
	cache := NewResourceCache(reader, CacheOptions{}, nil)

	_, err := cache.Get(context.Background(), "data", "data://users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server unreachable")
	assert.Equal(t, 0, cache.Stats().Entries)
}

func TestCacheSweepEvictsLRUOverBudget(t *testing.T) {
	reader := newCountingReader()
	// Each entry carries ~512 bytes of text; four of them blow a 1024-byte
	// budget.
	for i := 0; i < 4; i++ {
		uri := fmt.Sprintf("data://blob-%d", i)
		reader.bodies[reader.key("data", uri)] = strings.Repeat("x", 512)
	}
	cache := NewResourceCache(reader, CacheOptions{MaxBytes: 1024}, nil)

	for i := 0; i < 4; i++ {
		_, err := cache.Get(context.Background(), "data", fmt.Sprintf("data://blob-%d", i))
		require.NoError(t, err)
	}

	// Touch the oldest entries so recency differs from insertion order.
	cache.mu.Lock()
	for i := 0; i < 4; i++ {
		key := cacheKey{server: "data", uri: fmt.Sprintf("data://blob-%d", i)}
		cache.entries[key].lastAccessed = time.Now().Add(time.Duration(-4+i) * time.Minute)
	}
	cache.mu.Unlock()

	cache.Sweep()

	stats := cache.Stats()
	assert.LessOrEqual(t, stats.TotalBytes, int64(1024))

	// The least recently accessed entries went first.
	cache.mu.Lock()
	defer cache.mu.Unlock()
	_, oldest := cache.entries[cacheKey{server: "data", uri: "data://blob-0"}]
	_, newest := cache.entries[cacheKey{server: "data", uri: "data://blob-3"}]
	assert.False(t, oldest)
	assert.True(t, newest)
}

func TestCacheSweepDropsExpired(t *testing.T) {
	reader := newCountingReader()
	cache := NewResourceCache(reader, CacheOptions{}, nil)

	_, err := cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)

	cache.mu.Lock()
	cache.entries[cacheKey{server: "data", uri: "data://users"}].expiresAt = time.Now().Add(-time.Second)
	cache.mu.Unlock()

	cache.Sweep()
	stats := cache.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.False(t, stats.LastSweep.IsZero())
}

func TestCacheStatsString(t *testing.T) {
	reader := newCountingReader()
	cache := NewResourceCache(reader, CacheOptions{}, nil)

	_, err := cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "data", "data://users")
	require.NoError(t, err)

	rendered := cache.Stats().String()
	assert.Contains(t, rendered, "1 entries")
	assert.Contains(t, rendered, "50.0% hit rate")
}
