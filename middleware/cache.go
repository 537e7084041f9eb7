package middleware

import (
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

var uncachedHeaders = map[string]bool{
	fasthttp.HeaderContentLength: true,
	fasthttp.HeaderDate:          true,
	fasthttp.HeaderServer:        true,
	fasthttp.HeaderSetCookie:     true,
	fasthttp.HeaderContentType:   true,
	utils.RequestIDHeader:        true,
	"X-Cache":                    true,
}

// CacheMiddleware stores successful GET responses of routes that opted in.
// It runs inside the guards.
type CacheMiddleware struct {
	logger      types.Logger
	metrics     types.MetricsManager
	cache       types.CacheManager
	cacheConfig *CacheConfig
	weight      int
}

type CacheConfig struct {
	DefaultTTL time.Duration `json:"default_ttl"`
}

func NewCacheMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager, cache types.CacheManager) *CacheMiddleware {
	cacheConfig := &CacheConfig{
		DefaultTTL: 5 * time.Minute,
	}
	decodeParams(item, cacheConfig, logger, "cache")

	return &CacheMiddleware{
		weight:      weightOf(item),
		logger:      logger,
		metrics:     metrics,
		cache:       cache,
		cacheConfig: cacheConfig,
	}
}

func (c *CacheMiddleware) Name() string { return "cache" }
func (c *CacheMiddleware) Weight() int  { return c.weight }
func (c *CacheMiddleware) Inner() bool  { return true }

func (c *CacheMiddleware) Handle(ctx *types.RequestCtx, next func(*types.RequestCtx), config *types.RouteConfig) {
	if c.cache == nil || !ctx.IsGet() || config == nil || config.Cache == nil || !config.Cache.Enabled {
		next(ctx)
		return
	}

	cacheKey := c.buildCacheKey(ctx, config)

	if data, ok := c.cache.Get(cacheKey); ok {
		var cached types.CachedResponse
		err := utils.Unmarshal(data, &cached)
		if err == nil {
			c.restoreResponse(ctx, &cached)
			c.logger.Debug("Cache hit", zap.String("cache_key", cacheKey))
			return
		}
		c.logger.Warn("Dropping undecodable cache entry", zap.String("cache_key", cacheKey), zap.Error(err))
		_ = c.cache.Delete(cacheKey)
	}

	next(ctx)

	if !c.shouldCacheResponse(ctx) {
		return
	}

	data, err := utils.Marshal(c.snapshot(ctx))
	if err != nil {
		c.logger.Error("Failed to encode cached response", zap.String("cache_key", cacheKey), zap.Error(err))
		return
	}

	if err := c.cache.Set(cacheKey, data, c.getTTL(config.Cache)); err != nil {
		c.logger.Error("Failed to set cache", zap.String("cache_key", cacheKey), zap.Error(err))
		return
	}

	ctx.Response.Header.Set("X-Cache", "MISS")
}

func (c *CacheMiddleware) shouldCacheResponse(ctx *types.RequestCtx) bool {
	if ctx.Failure() != nil {
		return false
	}

	statusCode := ctx.Response.StatusCode()
	if statusCode < 200 || statusCode >= 300 {
		return false
	}

	cacheControl := strings.ToLower(string(ctx.Response.Header.Peek(fasthttp.HeaderCacheControl)))
	return !strings.Contains(cacheControl, "no-cache") && !strings.Contains(cacheControl, "no-store")
}

func (c *CacheMiddleware) buildCacheKey(ctx *types.RequestCtx, config *types.RouteConfig) string {
	if config.Cache.KeyBuilder != nil {
		if key := config.Cache.KeyBuilder(ctx); key != "" {
			return key
		}
	}
	return c.cache.BuildCacheKey(string(ctx.Method()), string(ctx.Path()), ctx.QueryArgs().QueryString())
}

func (c *CacheMiddleware) getTTL(config *types.CacheHandlerConfig) time.Duration {
	if config.TTL > 0 {
		return config.TTL
	}
	return c.cacheConfig.DefaultTTL
}

func (c *CacheMiddleware) snapshot(ctx *types.RequestCtx) *types.CachedResponse {
	cached := &types.CachedResponse{
		Status:      ctx.Response.StatusCode(),
		ContentType: string(ctx.Response.Header.ContentType()),
		Body:        append([]byte(nil), ctx.Response.Body()...),
		Headers:     make(map[string]string),
	}

	ctx.Response.Header.VisitAll(func(key, value []byte) {
		if !uncachedHeaders[string(key)] {
			cached.Headers[string(key)] = string(value)
		}
	})

	return cached
}

func (c *CacheMiddleware) restoreResponse(ctx *types.RequestCtx, cached *types.CachedResponse) {
	ctx.SetStatusCode(cached.Status)
	if cached.ContentType != "" {
		ctx.SetContentType(cached.ContentType)
	}
	for key, value := range cached.Headers {
		ctx.Response.Header.Set(key, value)
	}
	ctx.Response.Header.Set("X-Cache", "HIT")
	ctx.SetBody(cached.Body)
}
