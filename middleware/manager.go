package middleware

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

const MaxMiddlewares = 64

var _ types.MiddlewareManager = (*Manager)(nil)

// Manager holds the globally configured middleware. Per-scope middleware is
// supplied by the caller of Compose.
type Manager struct {
	config        types.ConfigManager
	logger        types.Logger
	metrics       types.MetricsManager
	cache         types.CacheManager
	mu            sync.RWMutex
	middlewareMap map[string]*types.MiddlewareEntry
	ordered       []types.MiddlewareEntry
	initialized   atomic.Bool
}

func NewManager(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, cache types.CacheManager) (*Manager, error) {
	if logger == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "logger is required")
	}

	return &Manager{
		config:        config,
		logger:        logger,
		metrics:       metrics,
		cache:         cache,
		middlewareMap: make(map[string]*types.MiddlewareEntry),
	}, nil
}

// RegisterMiddlewares registers the built-ins enabled in configuration and
// freezes the global order.
func (m *Manager) RegisterMiddlewares() error {
	if m.config == nil || m.config.GetConfig() == nil || m.config.GetConfig().Middlewares == nil || !m.config.GetConfig().Middlewares.Enabled {
		return m.finalizeConfiguration()
	}

	config := m.config.GetConfig().Middlewares

	builtins := []struct {
		item   *types.MiddlewareItemConfig
		create func(*types.MiddlewareItemConfig) types.Middleware
	}{
		{config.Recovery, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewRecoveryMiddleware(c, m.logger, m.metrics)
		}},
		{config.Metadata, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewMetadataMiddleware(c, m.logger, m.metrics)
		}},
		{config.Logging, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewLoggingMiddleware(c, m.logger, m.metrics)
		}},
		{config.CORS, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewCORSMiddleware(c, m.logger, m.metrics)
		}},
		{config.RateLimit, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewRateLimitMiddleware(c, m.logger, m.metrics)
		}},
		{config.BodyLimit, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewBodyLimitMiddleware(c, m.logger, m.metrics)
		}},
		{config.Compression, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewCompressionMiddleware(c, m.logger, m.metrics)
		}},
		{config.Cache, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewCacheMiddleware(c, m.logger, m.metrics, m.cache)
		}},
	}

	for _, b := range builtins {
		if b.item == nil || !b.item.Enabled {
			continue
		}
		mw := b.create(b.item)
		if err := m.Register(mw); err != nil {
			return err
		}
		m.logger.Debug("Middleware registered", zap.String("name", mw.Name()), zap.Int("weight", mw.Weight()))
	}

	return m.finalizeConfiguration()
}

func (m *Manager) Register(middleware types.Middleware) error {
	if middleware == nil {
		return types.ErrMiddlewareInvalidType
	}

	if m.initialized.Load() {
		return types.Errorf(types.ErrMiddlewareOrderInvalid, "cannot register %q after finalization", middleware.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.middlewareMap) >= MaxMiddlewares {
		return types.Errorf(types.ErrMiddlewareOrderInvalid, "maximum middleware count exceeded: %d", MaxMiddlewares)
	}

	name := middleware.Name()
	if _, exists := m.middlewareMap[name]; exists {
		return types.Errorf(types.ErrMiddlewareOrderInvalid, "middleware %q registered twice", name)
	}

	m.middlewareMap[name] = &types.MiddlewareEntry{
		Name:       name,
		Middleware: middleware,
		Weight:     middleware.Weight(),
	}
	return nil
}

func (m *Manager) finalizeConfiguration() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized.Load() {
		return types.Errorf(types.ErrMiddlewareOrderInvalid, "configuration already finalized")
	}

	weights := make(map[int]string)
	for name, entry := range m.middlewareMap {
		if existingName, exists := weights[entry.Weight]; exists {
			return types.Errorf(types.ErrMiddlewareOrderInvalid, "duplicate weight %d for middlewares '%s' and '%s'",
				entry.Weight, existingName, name)
		}
		weights[entry.Weight] = name
	}

	m.ordered = make([]types.MiddlewareEntry, 0, len(m.middlewareMap))
	for _, entry := range m.middlewareMap {
		m.ordered = append(m.ordered, *entry)
	}

	sort.Slice(m.ordered, func(i, j int) bool {
		return m.ordered[i].Weight < m.ordered[j].Weight
	})

	m.middlewareMap = nil
	m.initialized.Store(true)

	return nil
}

// Ordered returns the global middleware for a route, outermost first, minus
// the ones the route disabled.
func (m *Manager) Ordered(config *types.RouteConfig) []types.Middleware {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Middleware, 0, len(m.ordered))
	for _, entry := range m.ordered {
		if config.MiddlewareDisabled(entry.Name) {
			continue
		}
		out = append(out, entry.Middleware)
	}
	return out
}

// Compose nests links, then guards, around final. Inner middleware is moved
// inside the guards. The closures are built once per route, so dispatch does
// no chain assembly.
func (m *Manager) Compose(links []types.Middleware, guards []types.Guard, final func(*types.RequestCtx), config *types.RouteConfig) func(*types.RequestCtx) {
	var outer, inner []types.Middleware
	for _, mw := range links {
		if in, ok := mw.(types.InnerMiddleware); ok && in.Inner() {
			inner = append(inner, mw)
		} else {
			outer = append(outer, mw)
		}
	}

	handler := wrap(inner, final, config)

	for i := len(guards) - 1; i >= 0; i-- {
		handler = m.guardLink(guards[i], handler, config)
	}

	return wrap(outer, handler, config)
}

func wrap(links []types.Middleware, handler func(*types.RequestCtx), config *types.RouteConfig) func(*types.RequestCtx) {
	for i := len(links) - 1; i >= 0; i-- {
		mw, next := links[i], handler
		handler = func(ctx *types.RequestCtx) {
			mw.Handle(ctx, next, config)
		}
	}
	return handler
}

func (m *Manager) guardLink(guard types.Guard, next func(*types.RequestCtx), config *types.RouteConfig) func(*types.RequestCtx) {
	labels := map[string]string{"guard": guard.Name()}

	return func(ctx *types.RequestCtx) {
		err := guard.Authorize(ctx, config)
		if err == nil {
			next(ctx)
			return
		}

		denied, ok := types.AsError(err)
		if !ok {
			denied = types.NewGuardDeniedError(0, err.Error())
		}

		if m.metrics != nil {
			m.metrics.Counter("guard_denied_total", labels).Inc()
		}

		m.logger.Debug("Request denied by guard",
			zap.String("guard", guard.Name()),
			zap.String("path", utils.BytesToString(ctx.Path())),
			zap.Int("status", denied.Status))

		ctx.Fail(denied)
	}
}

// Clear stops middleware that own background workers and resets the manager.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.ordered {
		if stopper, ok := entry.Middleware.(interface{ Stop() error }); ok {
			if err := stopper.Stop(); err != nil {
				m.logger.Warn("Failed to stop middleware", zap.String("name", entry.Name), zap.Error(err))
			}
		}
	}

	m.ordered = nil
	m.middlewareMap = make(map[string]*types.MiddlewareEntry)
	m.initialized.Store(false)
}

func decodeParams[T any](item *types.MiddlewareItemConfig, target *T, logger types.Logger, name string) {
	if item == nil || item.Params == nil {
		return
	}
	if err := utils.UnmarshalConfig(item.Params, target); err != nil {
		logger.Error("Failed to unmarshal middleware config", zap.String("middleware", name), zap.Error(err))
	}
}

func weightOf(item *types.MiddlewareItemConfig) int {
	if item == nil {
		return 0
	}
	return item.Weight
}
