package middleware

import (
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-dispatch/types"
)

const shardCount = 64

// RateLimitMiddleware is a fixed-window limiter keyed by client IP.
type RateLimitMiddleware struct {
	logger          types.Logger
	metrics         types.MetricsManager
	rateLimitConfig *RateLimitConfig
	weight          int
	shards          [shardCount]*rateLimitShard
	stopCleanup     chan struct{}
	workerGroup     sync.WaitGroup
	shutdown        atomic.Bool
	labels          map[string]string
	now             func() time.Time
}

type rateLimitShard struct {
	mu      sync.Mutex
	clients map[string]*window
}

type window struct {
	start time.Time
	count int64
}

type RateLimitConfig struct {
	RequestsPerMinute int64         `json:"requests_per_minute"`
	WindowSize        time.Duration `json:"window_size"`
}

func NewRateLimitMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *RateLimitMiddleware {
	rateLimitConfig := &RateLimitConfig{
		RequestsPerMinute: 100,
		WindowSize:        time.Minute,
	}
	decodeParams(item, rateLimitConfig, logger, "rate_limit")

	if rateLimitConfig.WindowSize <= 0 {
		rateLimitConfig.WindowSize = time.Minute
	}

	rl := &RateLimitMiddleware{
		weight:          weightOf(item),
		logger:          logger,
		metrics:         metrics,
		rateLimitConfig: rateLimitConfig,
		stopCleanup:     make(chan struct{}),
		labels:          map[string]string{"middleware": "rate_limit"},
		now:             time.Now,
	}

	for i := range rl.shards {
		rl.shards[i] = &rateLimitShard{clients: make(map[string]*window)}
	}

	rl.workerGroup.Add(1)
	go rl.cleanupWorker()

	return rl
}

func (rl *RateLimitMiddleware) Name() string { return "rate_limit" }
func (rl *RateLimitMiddleware) Weight() int  { return rl.weight }

func (rl *RateLimitMiddleware) Handle(ctx *types.RequestCtx, next func(*types.RequestCtx), _ *types.RouteConfig) {
	if !rl.allow(realIP(ctx)) {
		if rl.metrics != nil {
			rl.metrics.Counter("requests_rejected_total", rl.labels).Inc()
		}

		ctx.Response.Header.Set("Retry-After", strconv.Itoa(int(rl.rateLimitConfig.WindowSize.Seconds())))
		ctx.Response.Header.Set("X-RateLimit-Limit", strconv.FormatInt(rl.rateLimitConfig.RequestsPerMinute, 10))
		ctx.Fail(&types.Error{
			Kind:    types.KindGuardDenied,
			Status:  fasthttp.StatusTooManyRequests,
			Message: "too many requests",
			Err:     types.ErrRateLimitExceeded,
		})
		return
	}

	next(ctx)
}

func (rl *RateLimitMiddleware) allow(client string) bool {
	shard := rl.shard(client)
	now := rl.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, ok := shard.clients[client]
	if !ok || now.Sub(w.start) >= rl.rateLimitConfig.WindowSize {
		shard.clients[client] = &window{start: now, count: 1}
		return true
	}

	w.count++
	return w.count <= rl.rateLimitConfig.RequestsPerMinute
}

func (rl *RateLimitMiddleware) shard(client string) *rateLimitShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(client))
	return rl.shards[h.Sum32()%shardCount]
}

func (rl *RateLimitMiddleware) cleanupWorker() {
	defer rl.workerGroup.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimitMiddleware) cleanup() {
	cutoff := rl.now().Add(-rl.rateLimitConfig.WindowSize)

	for _, shard := range rl.shards {
		shard.mu.Lock()
		for client, w := range shard.clients {
			if w.start.Before(cutoff) {
				delete(shard.clients, client)
			}
		}
		shard.mu.Unlock()
	}
}

func (rl *RateLimitMiddleware) Stop() error {
	if !rl.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	close(rl.stopCleanup)
	rl.workerGroup.Wait()
	return nil
}
