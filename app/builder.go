package app

import (
	"context"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/auth_providers"
	"github.com/saiset-co/sai-dispatch/cache"
	"github.com/saiset-co/sai-dispatch/codec"
	"github.com/saiset-co/sai-dispatch/config"
	"github.com/saiset-co/sai-dispatch/di"
	"github.com/saiset-co/sai-dispatch/dispatch"
	"github.com/saiset-co/sai-dispatch/documentations"
	"github.com/saiset-co/sai-dispatch/health"
	"github.com/saiset-co/sai-dispatch/logger"
	"github.com/saiset-co/sai-dispatch/metrics"
	"github.com/saiset-co/sai-dispatch/middleware"
	"github.com/saiset-co/sai-dispatch/server"
	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

const (
	defaultName    = "sai-dispatch"
	defaultVersion = "dev"
	versionPath    = "/version"
)

type Option func(*Builder)

func WithConfig(cm types.ConfigManager) Option {
	return func(b *Builder) { b.config = cm }
}

func WithLogger(l types.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

func WithMetrics(mm types.MetricsManager) Option {
	return func(b *Builder) { b.metrics = mm }
}

func WithCache(cm types.CacheManager) Option {
	return func(b *Builder) { b.cache = cm }
}

func WithHealth(hm *health.Manager) Option {
	return func(b *Builder) { b.health = hm }
}

func WithAuthProviders(pm types.AuthProviderManager) Option {
	return func(b *Builder) { b.auth = pm }
}

func WithCodecs(registry *codec.Registry) Option {
	return func(b *Builder) { b.codecs = registry }
}

// WithMiddleware registers named, weight-ordered middleware next to the
// configured built-ins. Routes can opt out of it by name.
func WithMiddleware(middlewares ...types.Middleware) Option {
	return func(b *Builder) { b.named = append(b.named, middlewares...) }
}

// Builder is the explicit build context. Routes, scopes and providers are
// declared on it, then Build turns them into one immutable Application.
type Builder struct {
	*Scope

	config  types.ConfigManager
	logger  types.Logger
	metrics types.MetricsManager
	cache   types.CacheManager
	health  *health.Manager
	auth    types.AuthProviderManager
	codecs  *codec.Registry
	named   []types.Middleware

	routes []*RouteBuilder
	errs   error
	built  atomic.Bool
}

func New(opts ...Option) *Builder {
	b := &Builder{}
	b.Scope = &Scope{builder: b, layer: newLayer(kindApplication, "")}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load builds a Builder from a YAML configuration file.
func Load(configPath string, opts ...Option) (*Builder, error) {
	cm, err := config.NewConfigurationManager(configPath)
	if err != nil {
		return nil, err
	}
	return New(append([]Option{WithConfig(cm)}, opts...)...), nil
}

func (b *Builder) fail(err error) {
	b.errs = multierr.Append(b.errs, err)
}

// Build validates every registration and compiles the routing tree. All
// misconfigured routes are reported together as one configuration error.
// A Builder can be built once.
func (b *Builder) Build() (*Application, error) {
	if !b.built.CompareAndSwap(false, true) {
		return nil, types.ErrAlreadyBuilt
	}
	if b.errs != nil {
		return nil, types.NewConfigurationError(multierr.Combine(types.ErrBuildFailed, b.errs), "invalid registration")
	}

	a := &Application{}
	if err := b.prepare(a); err != nil {
		return nil, types.NewConfigurationError(multierr.Combine(types.ErrBuildFailed, err), "failed to prepare components")
	}
	cfg := b.config.GetConfig()

	dispatcher, err := dispatch.NewDispatcher(cfg.Dispatch, b.logger, b.metrics, b.codecs)
	if err != nil {
		return nil, types.NewConfigurationError(multierr.Combine(types.ErrBuildFailed, err), "failed to create dispatcher")
	}

	mgr, err := b.middlewareManager()
	if err != nil {
		return nil, types.NewConfigurationError(multierr.Combine(types.ErrBuildFailed, err), "failed to register middleware")
	}

	b.registerInternalRoutes(a, cfg)

	tree := server.NewTree()
	var errs error
	for _, rb := range b.routes {
		node, err := b.compile(rb, dispatcher, mgr)
		if err == nil {
			err = tree.Register(node)
		}
		if err != nil {
			errs = multierr.Append(errs, types.WrapError(err, rb.method+" "+rb.path))
		}
	}
	if errs != nil {
		return nil, types.NewConfigurationError(multierr.Combine(types.ErrBuildFailed, errs),
			"%d route(s) rejected", len(multierr.Errors(errs)))
	}
	tree.Freeze()

	global := &types.RouteConfig{}
	unmatched := mgr.Compose(mgr.Ordered(global), nil, dispatcher.Unmatched, global)
	if err := dispatcher.Mount(tree, unmatched, b.Scope.layer.errorHandlers); err != nil {
		return nil, types.NewConfigurationError(multierr.Combine(types.ErrBuildFailed, err), "failed to mount routes")
	}

	a.config = b.config
	a.logger = b.logger
	a.dispatcher = dispatcher
	a.tree = tree
	if cfg.Server != nil {
		a.httpConfig = cfg.Server.HTTP
	}

	b.logger.Info("Application built",
		zap.String("name", cfg.Name),
		zap.Int("routes", len(tree.Routes())),
		zap.Int("components", len(a.components)))

	return a, nil
}

// prepare creates the collaborators that were not supplied as options and
// are enabled in configuration.
func (b *Builder) prepare(a *Application) error {
	if b.config == nil {
		cfg := config.Defaults()
		cfg.Name = defaultName
		cfg.Version = defaultVersion
		cm, err := config.NewFromConfig(cfg)
		if err != nil {
			return err
		}
		b.config = cm
	}

	cfg := b.config.GetConfig()
	if cfg == nil {
		return types.ErrConfigIsNil
	}
	a.own("config", b.config)

	if b.logger == nil {
		if cfg.Logger == nil {
			cfg.Logger = &types.LoggerConfig{Level: "info"}
		}
		lm, err := logger.NewManager(cfg.Logger)
		if err != nil {
			return err
		}
		b.logger = lm
	}
	a.own("logger", b.logger)

	if b.metrics == nil && cfg.Metrics != nil && cfg.Metrics.Enabled {
		mm, err := metrics.NewManager(cfg.Metrics, b.logger)
		if err != nil {
			return err
		}
		b.metrics = mm
	}
	a.own("metrics", b.metrics)

	if b.health == nil && cfg.Health != nil && cfg.Health.Enabled {
		hm, err := health.NewManager(context.Background(), b.config, b.logger)
		if err != nil {
			return err
		}
		b.health = hm
	}
	if b.health != nil {
		b.health.RegisterChecker("dispatch", a.check)
		a.own("health", b.health)
	}

	if b.cache == nil && cfg.Cache != nil && cfg.Cache.Enabled {
		var hm types.HealthManager
		if b.health != nil {
			hm = b.health
		}
		cm, err := cache.NewCacheManager(cfg.Cache, b.logger, b.metrics, hm)
		if err != nil {
			return err
		}
		b.cache = cm
	}
	a.own("cache", b.cache)

	if b.auth == nil {
		pm, err := auth_providers.NewAuthProviderManager(b.config, b.logger)
		if err != nil {
			return err
		}
		b.auth = pm
	}
	a.own("auth_providers", b.auth)

	if cfg.Docs != nil && cfg.Docs.Enabled {
		dm, err := documentations.NewDocumentationManager(b.config, b.logger, a.Routes)
		if err != nil {
			return err
		}
		a.docs = dm
		a.own("documentation", dm)
	}

	return nil
}

func (b *Builder) middlewareManager() (*middleware.Manager, error) {
	mgr, err := middleware.NewManager(b.config, b.logger, b.metrics, b.cache)
	if err != nil {
		return nil, err
	}
	for _, mw := range b.named {
		if err := mgr.Register(mw); err != nil {
			return nil, err
		}
	}
	if err := mgr.RegisterMiddlewares(); err != nil {
		return nil, err
	}
	return mgr, nil
}

// registerInternalRoutes exposes metrics, health, version and documentation
// as ordinary routes outside the application scope.
func (b *Builder) registerInternalRoutes(a *Application, cfg *types.ServiceConfig) {
	internal := &Scope{builder: b, layer: newLayer(kindApplication, "")}

	if b.metrics != nil && cfg.Metrics != nil && cfg.Metrics.Enabled {
		handler := b.metrics.Handler()
		internal.GET(pathOr(cfg.Metrics.Path, "/metrics"), func(_ context.Context, call *signature.BoundCall) (interface{}, error) {
			handler(signature.Get[*types.RequestCtx](call, "request").RequestCtx)
			return nil, nil
		}, signature.Request("request")).
			Name("metrics").
			Hidden()
	}

	if b.health != nil {
		healthPath := "/health"
		if cfg.Health != nil {
			healthPath = pathOr(cfg.Health.Path, healthPath)
		}
		internal.GET(healthPath, b.health.Report).Name("health").Hidden()
		internal.GET(versionPath, b.health.Version).Name("version").Hidden()
	}

	if a.docs != nil {
		internal.GET(pathOr(cfg.Docs.Path, "/docs"), a.docs.Handler).Name("docs").Hidden()
	}
}

// compile flattens the scopes of one route into its RouteNode.
func (b *Builder) compile(rb *RouteBuilder, d *dispatch.Dispatcher, mgr *middleware.Manager) (*server.RouteNode, error) {
	layers := rb.layers()

	prefixes := make([]string, 0, len(layers))
	providers := make([]map[string]*di.Provider, 0, len(layers))
	for _, l := range layers {
		prefixes = append(prefixes, l.prefix)
		providers = append(providers, l.providers)
	}

	tpl, err := server.ParseTemplate(server.JoinPaths(prefixes...))
	if err != nil {
		return nil, err
	}

	flat := di.Flatten(providers...)
	rc := signature.Context{
		Callable:   rb.method + " " + tpl.String(),
		Role:       signature.RoleHandler,
		Method:     rb.method,
		PathParams: tpl.Params(),
		Providers: func(name string) bool {
			_, ok := flat[name]
			return ok
		},
	}

	declared, err := signature.New(rb.params...)
	if err != nil {
		return nil, err
	}
	sig, err := declared.Resolve(rc)
	if err != nil {
		return nil, err
	}

	graph, err := di.NewGraph(flat, sig.Dependencies(), rc)
	if err != nil {
		return nil, err
	}

	guards, err := b.guards(layers)
	if err != nil {
		return nil, err
	}

	routeConfig := rb.routeConfig(tpl, layers)

	var scoped []types.Middleware
	for _, l := range layers {
		scoped = append(scoped, l.middlewares...)
	}
	links := append(mgr.Ordered(routeConfig), scoped...)

	def := &server.RouteDefinition{
		Method:        rb.method,
		Template:      tpl,
		Handler:       rb.handler,
		Signature:     sig,
		Graph:         graph,
		Config:        routeConfig,
		Middlewares:   links,
		Guards:        guards,
		ErrorHandlers: errorHandlers(layers),
	}
	def.BeforeRequest, def.AfterRequest, def.AfterResponse = hooks(layers)

	endpoint, err := d.Endpoint(def)
	if err != nil {
		return nil, err
	}
	def.Chain = mgr.Compose(links, guards, endpoint, routeConfig)

	return server.NewRouteNode(*def)
}

func (b *Builder) guards(layers []*layer) ([]types.Guard, error) {
	var out []types.Guard
	for _, l := range layers {
		for _, spec := range l.guards {
			if spec.guard != nil {
				out = append(out, spec.guard)
				continue
			}
			g, err := b.auth.Guard(spec.auth...)
			if err != nil {
				return nil, err
			}
			out = append(out, g)
		}
	}
	return out, nil
}

// routeConfig merges the scope settings outer to inner. Maps are merged key
// by key, scalars are taken from the innermost scope that sets them.
func (rb *RouteBuilder) routeConfig(tpl *server.Template, layers []*layer) *types.RouteConfig {
	rc := &types.RouteConfig{
		Name:       rb.name,
		Method:     rb.method,
		Path:       tpl.String(),
		StatusCode: rb.status,
		Doc:        rb.doc,
	}

	var cacheConfig *types.CacheHandlerConfig
	for _, l := range layers {
		for k, v := range l.headers {
			if rc.ResponseHeaders == nil {
				rc.ResponseHeaders = make(map[string]string)
			}
			rc.ResponseHeaders[k] = v
		}
		for k, v := range l.opt {
			if rc.Opt == nil {
				rc.Opt = make(map[string]interface{})
			}
			rc.Opt[k] = v
		}
		rc.DisabledMiddlewares = append(rc.DisabledMiddlewares, l.disabled...)
		rc.Tags = appendUnique(rc.Tags, l.tags...)
		if l.timeout > 0 {
			rc.Timeout = l.timeout
		}
		if l.mediaType != "" {
			rc.MediaType = l.mediaType
		}
		if l.cache != nil {
			cacheConfig = l.cache
		}
	}
	if rb.doc != nil {
		rc.Tags = appendUnique(rc.Tags, rb.doc.Tags...)
	}

	if cacheConfig != nil {
		rc.Cache = &types.CacheHandlerConfig{
			Enabled:    cacheConfig.Enabled,
			TTL:        cacheConfig.TTL,
			KeyBuilder: rb.cacheKey,
		}
	}

	return rc
}

// errorHandlers lists the handlers innermost scope first.
func errorHandlers(layers []*layer) []types.ErrorHandler {
	var out []types.ErrorHandler
	for i := len(layers) - 1; i >= 0; i-- {
		out = append(out, layers[i].errorHandlers...)
	}
	return out
}

// hooks picks each hook from the closest scope that declares it.
func hooks(layers []*layer) (types.BeforeRequestHook, types.AfterRequestHook, types.AfterResponseHook) {
	var (
		before        types.BeforeRequestHook
		after         types.AfterRequestHook
		afterResponse types.AfterResponseHook
	)
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		if before == nil {
			before = l.before
		}
		if after == nil {
			after = l.after
		}
		if afterResponse == nil {
			afterResponse = l.afterResponse
		}
	}
	return before, after, afterResponse
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

func pathOr(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return path
}
