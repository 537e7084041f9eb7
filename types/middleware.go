package types

type MiddlewareManager interface {
	RegisterMiddlewares() error
	Register(middleware Middleware) error
	Ordered(config *RouteConfig) []Middleware
	Compose(links []Middleware, guards []Guard, final func(*RequestCtx), config *RouteConfig) func(*RequestCtx)
	Clear()
}

type Middleware interface {
	Handle(ctx *RequestCtx, next func(*RequestCtx), config *RouteConfig)
	Name() string
	Weight() int
}

// InnerMiddleware is implemented by middleware that must only run once the
// guards allowed the request, such as the response cache.
type InnerMiddleware interface {
	Middleware
	Inner() bool
}

type MiddlewareEntry struct {
	Name       string
	Middleware Middleware
	Weight     int
}

// Guard allows or denies a request before any dependency is resolved.
// A non-nil error denies the request.
type Guard interface {
	Name() string
	Authorize(ctx *RequestCtx, config *RouteConfig) error
}

type MiddlewareFunc func(ctx *RequestCtx, next func(*RequestCtx), config *RouteConfig)

type funcMiddleware struct {
	name string
	fn   MiddlewareFunc
}

func NewMiddleware(name string, fn MiddlewareFunc) Middleware {
	return &funcMiddleware{name: name, fn: fn}
}

func (m *funcMiddleware) Name() string { return m.name }
func (m *funcMiddleware) Weight() int  { return 0 }

func (m *funcMiddleware) Handle(ctx *RequestCtx, next func(*RequestCtx), config *RouteConfig) {
	m.fn(ctx, next, config)
}

type GuardFunc func(ctx *RequestCtx, config *RouteConfig) error

type funcGuard struct {
	name string
	fn   GuardFunc
}

func NewGuard(name string, fn GuardFunc) Guard {
	return &funcGuard{name: name, fn: fn}
}

func (g *funcGuard) Name() string { return g.name }

func (g *funcGuard) Authorize(ctx *RequestCtx, config *RouteConfig) error {
	return g.fn(ctx, config)
}
