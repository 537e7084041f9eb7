package cache

import (
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-dispatch/logger"
	"github.com/saiset-co/sai-dispatch/metrics"
	"github.com/saiset-co/sai-dispatch/types"
)

func newMemory(t *testing.T, params map[string]interface{}) *MemoryCache {
	t.Helper()

	c, err := NewMemoryCache(logger.NewNop(), &types.CacheConfig{Enabled: true, Type: "memory", Config: params})
	require.NoError(t, err)
	return c
}

// TestBuildCacheKey verifies query argument order does not change the key.
func TestBuildCacheKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "GET /items", BuildCacheKey("GET", "/items", nil))
	assert.Equal(t,
		BuildCacheKey("GET", "/items", []byte("b=2&a=1")),
		BuildCacheKey("GET", "/items", []byte("a=1&b=2")))
	assert.Equal(t, "GET /items?a=1&b=2", BuildCacheKey("GET", "/items", []byte("b=2&a=1")))
	assert.NotEqual(t,
		BuildCacheKey("GET", "/items", []byte("a=1")),
		BuildCacheKey("GET", "/items", []byte("a=2")))
}

// TestMemoryCacheExpiry verifies entries stop being served after their TTL.
func TestMemoryCacheExpiry(t *testing.T) {
	t.Parallel()

	c := newMemory(t, nil)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set("k", []byte("v"), time.Minute))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)

	c.cleanup()
	assert.Zero(t, c.Len())
}

// TestMemoryCacheInvalidate verifies prefix invalidation leaves other keys alone.
func TestMemoryCacheInvalidate(t *testing.T) {
	t.Parallel()

	c := newMemory(t, nil)
	require.NoError(t, c.Set("GET /items?a=1", []byte("1"), 0))
	require.NoError(t, c.Set("GET /items/7", []byte("2"), 0))
	require.NoError(t, c.Set("GET /users", []byte("3"), 0))

	require.NoError(t, c.Invalidate("GET /items"))

	_, ok := c.Get("GET /items?a=1")
	assert.False(t, ok)
	_, ok = c.Get("GET /items/7")
	assert.False(t, ok)
	_, ok = c.Get("GET /users")
	assert.True(t, ok)

	require.NoError(t, c.Delete("GET /users"))
	assert.Zero(t, c.Len())
}

// TestMemoryCacheEviction verifies the oldest entry goes once the cap is hit.
func TestMemoryCacheEviction(t *testing.T) {
	t.Parallel()

	c := newMemory(t, map[string]interface{}{"max_entries": 2})
	now := time.Unix(1000, 0)
	c.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	require.NoError(t, c.Set("a", []byte("a"), 0))
	require.NoError(t, c.Set("b", []byte("b"), 0))
	require.NoError(t, c.Set("c", []byte("c"), 0))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.evictions.Load())

	assert.ErrorIs(t, c.Set("", []byte("x"), 0), types.ErrCacheKeyEmpty)
}

// TestMemoryCacheLifecycle verifies the janitor starts and stops once.
func TestMemoryCacheLifecycle(t *testing.T) {
	t.Parallel()

	c := newMemory(t, nil)
	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())
	assert.ErrorIs(t, c.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())
	assert.ErrorIs(t, c.Stop(), types.ErrServerNotRunning)
}

// TestNewCacheManager verifies backend selection and operation metrics.
func TestNewCacheManager(t *testing.T) {
	t.Parallel()

	_, err := NewCacheManager(&types.CacheConfig{Enabled: false}, logger.NewNop(), nil, nil)
	assert.ErrorIs(t, err, types.ErrCacheIsDisabled)

	_, err = NewCacheManager(&types.CacheConfig{Enabled: true, Type: "etcd"}, logger.NewNop(), nil, nil)
	assert.ErrorIs(t, err, types.ErrCacheTypeUnknown)

	m, err := metrics.NewManager(&types.MetricsConfig{
		Enabled: true,
		Type:    "prometheus",
		Config:  map[string]interface{}{"enable_go_metrics": false},
	}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	c, err := NewCacheManager(&types.CacheConfig{Enabled: true, Type: "memory"}, logger.NewNop(), m, nil)
	require.NoError(t, err)

	require.NoError(t, c.Set("k", []byte("v"), time.Minute))
	_, ok := c.Get("k")
	assert.True(t, ok)
	_, ok = c.Get("missing")
	assert.False(t, ok)

	hits := m.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"}).Get()
	misses := m.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "miss"}).Get()
	assert.Equal(t, float64(1), hits)
	assert.Equal(t, float64(1), misses)
}

// TestRegisterCacheManager verifies custom backends are picked up by type.
func TestRegisterCacheManager(t *testing.T) {
	t.Parallel()

	RegisterCacheManager("test-memory", func(config interface{}) (types.CacheManager, error) {
		return NewMemoryCache(logger.NewNop(), nil)
	})

	c, err := NewCacheManager(&types.CacheConfig{Enabled: true, Type: "test-memory"}, logger.NewNop(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Set("k", []byte("v"), 0))
	_, ok := c.Get("k")
	assert.True(t, ok)
}

// TestRedisCache runs against a live server named by SAI_DISPATCH_REDIS_ADDR.
func TestRedisCache(t *testing.T) {
	addr := os.Getenv("SAI_DISPATCH_REDIS_ADDR")
	if addr == "" {
		t.Skip("SAI_DISPATCH_REDIS_ADDR is not set")
	}

	host, portText, found := strings.Cut(addr, ":")
	require.True(t, found)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	c, err := NewRedisCache(logger.NewNop(), &types.CacheConfig{
		Enabled: true,
		Type:    "redis",
		Config: map[string]interface{}{
			"host":       host,
			"port":       port,
			"key_prefix": "sai-dispatch-test-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer func() { _ = c.Stop() }()

	require.NoError(t, c.Set("GET /items?a=1", []byte("1"), time.Minute))
	require.NoError(t, c.Set("GET /users", []byte("2"), time.Minute))

	got, ok := c.Get("GET /items?a=1")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), got)

	require.NoError(t, c.Invalidate("GET /items"))
	_, ok = c.Get("GET /items?a=1")
	assert.False(t, ok)
	_, ok = c.Get("GET /users")
	assert.True(t, ok)

	require.NoError(t, c.Delete("GET /users"))
	_, ok = c.Get("GET /users")
	assert.False(t, ok)
}
