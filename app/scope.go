package app

import (
	"net/http"
	"time"

	"github.com/saiset-co/sai-dispatch/di"
	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

type scopeKind string

const (
	kindApplication scopeKind = "application"
	kindRouter      scopeKind = "router"
	kindController  scopeKind = "controller"
	kindHandler     scopeKind = "handler"
)

// guardSpec keeps guards and auth requirements in declaration order. Auth
// requirements are turned into guards at build time.
type guardSpec struct {
	guard types.Guard
	auth  []string
}

// layer is what one scope contributes to the routes below it.
type layer struct {
	kind          scopeKind
	prefix        string
	middlewares   []types.Middleware
	guards        []guardSpec
	providers     map[string]*di.Provider
	errorHandlers []types.ErrorHandler
	before        types.BeforeRequestHook
	after         types.AfterRequestHook
	afterResponse types.AfterResponseHook
	headers       map[string]string
	opt           map[string]interface{}
	disabled      []string
	tags          []string
	timeout       time.Duration
	mediaType     string
	cache         *types.CacheHandlerConfig
}

func newLayer(kind scopeKind, prefix string) layer {
	return layer{
		kind:      kind,
		prefix:    prefix,
		providers: make(map[string]*di.Provider),
	}
}

// Scope is one level of the registration tree: the application itself, a
// router or a controller. Everything declared on a scope applies to the
// routes registered below it.
type Scope struct {
	builder *Builder
	parent  *Scope
	layer   layer
}

func (s *Scope) Use(middlewares ...types.Middleware) *Scope {
	for _, mw := range middlewares {
		if mw == nil {
			s.builder.fail(types.Errorf(types.ErrMiddlewareInvalidType, "nil middleware on %s %q", s.layer.kind, s.layer.prefix))
			continue
		}
		s.layer.middlewares = append(s.layer.middlewares, mw)
	}
	return s
}

func (s *Scope) Guard(guards ...types.Guard) *Scope {
	for _, g := range guards {
		if g == nil {
			s.builder.fail(types.Errorf(types.ErrGuardIsNil, "%s %q", s.layer.kind, s.layer.prefix))
			continue
		}
		s.layer.guards = append(s.layer.guards, guardSpec{guard: g})
	}
	return s
}

// Authenticate requires one of the named auth providers to accept the request.
func (s *Scope) Authenticate(providers ...string) *Scope {
	s.layer.guards = append(s.layer.guards, guardSpec{auth: providers})
	return s
}

// Provide declares dependency providers visible to every route below the
// scope. A provider shadows a same-named one from an enclosing scope.
func (s *Scope) Provide(providers ...*di.Provider) *Scope {
	for _, p := range providers {
		if p == nil {
			s.builder.fail(types.Errorf(types.ErrProviderIsNil, "%s %q", s.layer.kind, s.layer.prefix))
			continue
		}
		s.layer.providers[p.Name()] = p
	}
	return s
}

func (s *Scope) OnError(handlers ...types.ErrorHandler) *Scope {
	s.layer.errorHandlers = append(s.layer.errorHandlers, handlers...)
	return s
}

func (s *Scope) BeforeRequest(hook types.BeforeRequestHook) *Scope {
	s.layer.before = hook
	return s
}

func (s *Scope) AfterRequest(hook types.AfterRequestHook) *Scope {
	s.layer.after = hook
	return s
}

func (s *Scope) AfterResponse(hook types.AfterResponseHook) *Scope {
	s.layer.afterResponse = hook
	return s
}

func (s *Scope) Header(key, value string) *Scope {
	if s.layer.headers == nil {
		s.layer.headers = make(map[string]string)
	}
	s.layer.headers[key] = value
	return s
}

// Opt sets a route option handed to guards and middleware through
// types.RouteConfig.Opt.
func (s *Scope) Opt(key string, value interface{}) *Scope {
	if s.layer.opt == nil {
		s.layer.opt = make(map[string]interface{})
	}
	s.layer.opt[key] = value
	return s
}

func (s *Scope) WithoutMiddlewares(names ...string) *Scope {
	s.layer.disabled = append(s.layer.disabled, names...)
	return s
}

func (s *Scope) WithTimeout(timeout time.Duration) *Scope {
	s.layer.timeout = timeout
	return s
}

func (s *Scope) WithMediaType(mediaType string) *Scope {
	s.layer.mediaType = mediaType
	return s
}

func (s *Scope) WithCache(ttl time.Duration) *Scope {
	s.layer.cache = &types.CacheHandlerConfig{Enabled: true, TTL: ttl}
	return s
}

func (s *Scope) Tags(tags ...string) *Scope {
	s.layer.tags = append(s.layer.tags, tags...)
	return s
}

// Router opens a nested scope mounted under prefix.
func (s *Scope) Router(prefix string) *Scope {
	return s.child(kindRouter, prefix)
}

// Controller opens a nested scope under prefix and hands it to register.
func (s *Scope) Controller(prefix string, register func(c *Scope)) *Scope {
	c := s.child(kindController, prefix)
	if register != nil {
		register(c)
	}
	return c
}

func (s *Scope) child(kind scopeKind, prefix string) *Scope {
	return &Scope{
		builder: s.builder,
		parent:  s,
		layer:   newLayer(kind, prefix),
	}
}

// Route registers handler for method and path below the scope. params
// declare the handler signature in call order.
func (s *Scope) Route(method, path string, handler signature.Func, params ...signature.Param) *RouteBuilder {
	rb := &RouteBuilder{
		scope:   s,
		method:  method,
		path:    path,
		handler: handler,
		params:  params,
		layer:   newLayer(kindHandler, path),
	}
	s.builder.routes = append(s.builder.routes, rb)
	return rb
}

func (s *Scope) GET(path string, handler signature.Func, params ...signature.Param) *RouteBuilder {
	return s.Route(http.MethodGet, path, handler, params...)
}

func (s *Scope) POST(path string, handler signature.Func, params ...signature.Param) *RouteBuilder {
	return s.Route(http.MethodPost, path, handler, params...)
}

func (s *Scope) PUT(path string, handler signature.Func, params ...signature.Param) *RouteBuilder {
	return s.Route(http.MethodPut, path, handler, params...)
}

func (s *Scope) PATCH(path string, handler signature.Func, params ...signature.Param) *RouteBuilder {
	return s.Route(http.MethodPatch, path, handler, params...)
}

func (s *Scope) DELETE(path string, handler signature.Func, params ...signature.Param) *RouteBuilder {
	return s.Route(http.MethodDelete, path, handler, params...)
}

func (s *Scope) HEAD(path string, handler signature.Func, params ...signature.Param) *RouteBuilder {
	return s.Route(http.MethodHead, path, handler, params...)
}

func (s *Scope) OPTIONS(path string, handler signature.Func, params ...signature.Param) *RouteBuilder {
	return s.Route(http.MethodOptions, path, handler, params...)
}

// layers returns the scope chain outermost first.
func (s *Scope) layers() []*layer {
	var chain []*layer
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, &cur.layer)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
