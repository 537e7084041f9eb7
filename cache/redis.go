package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	OperationTimeout   time.Duration `json:"operation_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
	ScanCount          int64         `json:"scan_count"`
}

// RedisCache stores entries under KeyPrefix and relies on Redis TTLs for
// expiry.
type RedisCache struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	health     types.HealthManager
	config     *RedisConfig
	client     *redis.Client
	defaultTTL time.Duration
	started    atomic.Bool
}

func NewRedisCache(logger types.Logger, config *types.CacheConfig, health types.HealthManager) (*RedisCache, error) {
	var redisConfig = &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		OperationTimeout:   2 * time.Second,
		KeyPrefix:          "sai-dispatch",
		ScanCount:          100,
	}

	if config != nil && config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	defaultTTL := DefaultTTL
	if config != nil && config.DefaultTTL > 0 {
		defaultTTL = config.DefaultTTL
	}

	ctx, cancel := context.WithCancel(context.Background())

	cache := &RedisCache{
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
		health:     health,
		config:     redisConfig,
		defaultTTL: defaultTTL,
		client: redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
			Password:     redisConfig.Password,
			DB:           redisConfig.DB,
			PoolSize:     redisConfig.PoolSize,
			MinIdleConns: redisConfig.MinIdleConnections,
			DialTimeout:  redisConfig.DialTimeout,
			ReadTimeout:  redisConfig.ReadTimeout,
			WriteTimeout: redisConfig.WriteTimeout,
		}),
	}

	return cache, nil
}

func (r *RedisCache) Get(key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}

	ctx, cancel := r.opContext()
	defer cancel()

	value, err := r.client.Get(ctx, r.buildFullKey(key)).Bytes()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	return value, true
}

func (r *RedisCache) Set(key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	ctx, cancel := r.opContext()
	defer cancel()

	if err := r.client.Set(ctx, r.buildFullKey(key), value, ttl).Err(); err != nil {
		r.logger.Error("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return types.Errorf(types.ErrCacheOperationFailed, "set %s: %v", key, err)
	}

	return nil
}

func (r *RedisCache) Delete(key string) error {
	if key == "" {
		return nil
	}

	ctx, cancel := r.opContext()
	defer cancel()

	if err := r.client.Del(ctx, r.buildFullKey(key)).Err(); err != nil {
		r.logger.Error("Failed to delete cache key", zap.String("key", key), zap.Error(err))
		return types.Errorf(types.ErrCacheOperationFailed, "delete %s: %v", key, err)
	}

	return nil
}

// Invalidate scans for keys under prefix and deletes them in batches.
func (r *RedisCache) Invalidate(prefix string) error {
	pattern := r.buildFullKey(prefix) + "*"

	var cursor uint64
	removed := 0

	for {
		ctx, cancel := r.opContext()
		keys, next, err := r.client.Scan(ctx, cursor, pattern, r.config.ScanCount).Result()
		if err == nil && len(keys) > 0 {
			err = r.client.Del(ctx, keys...).Err()
		}
		cancel()

		if err != nil {
			r.logger.Error("Failed to invalidate cache prefix", zap.String("prefix", prefix), zap.Error(err))
			return types.Errorf(types.ErrCacheOperationFailed, "invalidate %s: %v", prefix, err)
		}

		removed += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	r.logger.Debug("Cache prefix invalidated", zap.String("prefix", prefix), zap.Int("removed", removed))
	return nil
}

func (r *RedisCache) BuildCacheKey(method, path string, query []byte) string {
	return BuildCacheKey(method, path, query)
}

func (r *RedisCache) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := r.ping(); err != nil {
		r.started.Store(false)
		return types.Errorf(types.ErrCacheConnectionFailed, "%v", err)
	}

	if r.health != nil {
		r.health.RegisterChecker("redis_cache", r.healthCheck)
	}

	r.logger.Info("Redis cache started", zap.String("addr", r.client.Options().Addr))
	return nil
}

func (r *RedisCache) Stop() error {
	if !r.started.CompareAndSwap(true, false) {
		return nil
	}

	r.cancel()

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis cache closed successfully")
	return nil
}

func (r *RedisCache) IsRunning() bool {
	return r.started.Load()
}

func (r *RedisCache) healthCheck(ctx context.Context) types.HealthCheck {
	start := time.Now()
	check := types.HealthCheck{
		Name:      "redis_cache",
		Status:    types.StatusHealthy,
		LastCheck: start,
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		check.Status = types.StatusUnhealthy
		check.Message = err.Error()
	}

	check.Duration = time.Since(start)
	return check
}

func (r *RedisCache) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.DialTimeout)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.ctx, r.config.OperationTimeout)
}

func (r *RedisCache) buildFullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":" + key
	}
	return key
}
