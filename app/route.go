package app

import (
	"reflect"
	"time"

	"github.com/saiset-co/sai-dispatch/di"
	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

// RouteBuilder is the handler level of the registration tree. Its settings
// override those of the enclosing scopes.
type RouteBuilder struct {
	scope    *Scope
	method   string
	path     string
	handler  signature.Func
	params   []signature.Param
	layer    layer
	name     string
	status   int
	doc      *types.DocConfig
	cacheKey func(ctx *types.RequestCtx) string
}

func (rb *RouteBuilder) Name(name string) *RouteBuilder {
	rb.name = name
	return rb
}

// Status overrides the default success status of the method.
func (rb *RouteBuilder) Status(status int) *RouteBuilder {
	rb.status = status
	return rb
}

func (rb *RouteBuilder) Use(middlewares ...types.Middleware) *RouteBuilder {
	for _, mw := range middlewares {
		if mw == nil {
			rb.scope.builder.fail(types.Errorf(types.ErrMiddlewareInvalidType, "nil middleware on %s %s", rb.method, rb.path))
			continue
		}
		rb.layer.middlewares = append(rb.layer.middlewares, mw)
	}
	return rb
}

func (rb *RouteBuilder) Guard(guards ...types.Guard) *RouteBuilder {
	for _, g := range guards {
		if g == nil {
			rb.scope.builder.fail(types.Errorf(types.ErrGuardIsNil, "%s %s", rb.method, rb.path))
			continue
		}
		rb.layer.guards = append(rb.layer.guards, guardSpec{guard: g})
	}
	return rb
}

func (rb *RouteBuilder) Authenticate(providers ...string) *RouteBuilder {
	rb.layer.guards = append(rb.layer.guards, guardSpec{auth: providers})
	return rb
}

func (rb *RouteBuilder) Provide(providers ...*di.Provider) *RouteBuilder {
	for _, p := range providers {
		if p == nil {
			rb.scope.builder.fail(types.Errorf(types.ErrProviderIsNil, "%s %s", rb.method, rb.path))
			continue
		}
		rb.layer.providers[p.Name()] = p
	}
	return rb
}

func (rb *RouteBuilder) OnError(handlers ...types.ErrorHandler) *RouteBuilder {
	rb.layer.errorHandlers = append(rb.layer.errorHandlers, handlers...)
	return rb
}

func (rb *RouteBuilder) BeforeRequest(hook types.BeforeRequestHook) *RouteBuilder {
	rb.layer.before = hook
	return rb
}

func (rb *RouteBuilder) AfterRequest(hook types.AfterRequestHook) *RouteBuilder {
	rb.layer.after = hook
	return rb
}

func (rb *RouteBuilder) AfterResponse(hook types.AfterResponseHook) *RouteBuilder {
	rb.layer.afterResponse = hook
	return rb
}

func (rb *RouteBuilder) Header(key, value string) *RouteBuilder {
	if rb.layer.headers == nil {
		rb.layer.headers = make(map[string]string)
	}
	rb.layer.headers[key] = value
	return rb
}

func (rb *RouteBuilder) Opt(key string, value interface{}) *RouteBuilder {
	if rb.layer.opt == nil {
		rb.layer.opt = make(map[string]interface{})
	}
	rb.layer.opt[key] = value
	return rb
}

func (rb *RouteBuilder) WithoutMiddlewares(names ...string) *RouteBuilder {
	rb.layer.disabled = append(rb.layer.disabled, names...)
	return rb
}

func (rb *RouteBuilder) WithTimeout(timeout time.Duration) *RouteBuilder {
	rb.layer.timeout = timeout
	return rb
}

func (rb *RouteBuilder) WithMediaType(mediaType string) *RouteBuilder {
	rb.layer.mediaType = mediaType
	return rb
}

// WithCache stores successful GET responses for ttl. A zero ttl uses the
// cache middleware default.
func (rb *RouteBuilder) WithCache(ttl time.Duration) *RouteBuilder {
	rb.layer.cache = &types.CacheHandlerConfig{Enabled: true, TTL: ttl}
	return rb
}

// WithCacheKey replaces the default path and sorted query cache key.
func (rb *RouteBuilder) WithCacheKey(build func(ctx *types.RequestCtx) string) *RouteBuilder {
	rb.cacheKey = build
	return rb
}

func (rb *RouteBuilder) Tags(tags ...string) *RouteBuilder {
	rb.layer.tags = append(rb.layer.tags, tags...)
	return rb
}

func (rb *RouteBuilder) WithDoc(summary, description string, tags ...string) *RouteBuilder {
	doc := rb.docConfig()
	doc.Summary = summary
	doc.Description = description
	doc.Tags = append(doc.Tags, tags...)
	return rb
}

// WithTypes records example request and response values for documentation.
func (rb *RouteBuilder) WithTypes(request, response interface{}) *RouteBuilder {
	doc := rb.docConfig()
	if request != nil {
		doc.RequestType = reflect.TypeOf(request)
	}
	if response != nil {
		doc.ResponseType = reflect.TypeOf(response)
	}
	return rb
}

func (rb *RouteBuilder) Deprecated() *RouteBuilder {
	rb.docConfig().Deprecated = true
	return rb
}

// Hidden keeps the route out of the generated documentation.
func (rb *RouteBuilder) Hidden() *RouteBuilder {
	rb.docConfig().Hidden = true
	return rb
}

func (rb *RouteBuilder) docConfig() *types.DocConfig {
	if rb.doc == nil {
		rb.doc = &types.DocConfig{}
	}
	return rb.doc
}

// layers returns the enclosing scopes outermost first, then the route itself.
func (rb *RouteBuilder) layers() []*layer {
	return append(rb.scope.layers(), &rb.layer)
}
