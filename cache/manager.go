package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-dispatch/types"
)

var (
	creatorsMu          sync.RWMutex
	customCacheCreators = make(map[string]types.CacheManagerCreator)
)

func RegisterCacheManager(cacheManagerName string, creator types.CacheManagerCreator) {
	creatorsMu.Lock()
	defer creatorsMu.Unlock()
	customCacheCreators[cacheManagerName] = creator
}

// NewCacheManager builds the configured backend wrapped with metrics.
func NewCacheManager(cacheConfig *types.CacheConfig, logger types.Logger, metrics types.MetricsManager, health types.HealthManager) (types.CacheManager, error) {
	if cacheConfig == nil || !cacheConfig.Enabled {
		return nil, types.ErrCacheIsDisabled
	}

	var impl types.CacheManager
	var err error

	switch cacheConfig.Type {
	case "memory":
		impl, err = NewMemoryCache(logger, cacheConfig)
	case "redis":
		impl, err = NewRedisCache(logger, cacheConfig, health)
	default:
		creatorsMu.RLock()
		creator, exists := customCacheCreators[cacheConfig.Type]
		creatorsMu.RUnlock()
		if !exists {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", cacheConfig.Type)
		}
		impl, err = creator(cacheConfig.Config)
	}

	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedCacheManager(metrics, impl), nil
}

// BuildCacheKey renders method, path and the query with its arguments sorted,
// so equivalent requests share an entry.
func BuildCacheKey(method, path string, query []byte) string {
	var b strings.Builder
	b.Grow(len(method) + len(path) + len(query) + 2)
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)

	if len(query) == 0 {
		return b.String()
	}

	var args fasthttp.Args
	args.ParseBytes(query)

	pairs := make([]string, 0, args.Len())
	args.VisitAll(func(key, value []byte) {
		pairs = append(pairs, string(key)+"="+string(value))
	})
	if len(pairs) == 0 {
		return b.String()
	}
	sort.Strings(pairs)

	b.WriteByte('?')
	b.WriteString(strings.Join(pairs, "&"))
	return b.String()
}

type instrumentedCacheManager struct {
	impl    types.CacheManager
	metrics types.MetricsManager
}

func newInstrumentedCacheManager(metrics types.MetricsManager, impl types.CacheManager) types.CacheManager {
	return &instrumentedCacheManager{
		impl:    impl,
		metrics: metrics,
	}
}

func (icm *instrumentedCacheManager) Get(key string) ([]byte, bool) {
	start := time.Now()
	value, exists := icm.impl.Get(key)

	result := "miss"
	if exists {
		result = "hit"
	}

	icm.recordMetric("get", result, time.Since(start))
	return value, exists
}

func (icm *instrumentedCacheManager) Set(key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := icm.impl.Set(key, value, ttl)
	icm.recordMetric("set", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Delete(key string) error {
	start := time.Now()
	err := icm.impl.Delete(key)
	icm.recordMetric("delete", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Invalidate(prefix string) error {
	start := time.Now()
	err := icm.impl.Invalidate(prefix)
	icm.recordMetric("invalidate", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) BuildCacheKey(method, path string, query []byte) string {
	return icm.impl.BuildCacheKey(method, path, query)
}

func (icm *instrumentedCacheManager) Start() error {
	start := time.Now()
	err := icm.impl.Start()
	icm.recordMetric("start", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Stop() error {
	return icm.impl.Stop()
}

func (icm *instrumentedCacheManager) IsRunning() bool {
	return icm.impl.IsRunning()
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (icm *instrumentedCacheManager) recordMetric(operation, result string, duration time.Duration) {
	icm.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	icm.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	).Observe(duration.Seconds())
}
