package types

import (
	"context"

	"github.com/valyala/fasthttp"
)

type FastHTTPHandler func(ctx *fasthttp.RequestCtx)

// State is the request-scoped bag shared between middleware, guards and
// providers. It is owned by the request goroutine.
type State map[string]interface{}

type RequestCtx struct {
	*fasthttp.RequestCtx
	ctx     context.Context
	route   *RouteConfig
	params  map[string]interface{}
	state   State
	failure error
	onError func(*RequestCtx, error)
}

func NewRequestCtx(ctx context.Context, fctx *fasthttp.RequestCtx, route *RouteConfig, params map[string]interface{}) *RequestCtx {
	if ctx == nil {
		ctx = context.Background()
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return &RequestCtx{
		RequestCtx: fctx,
		ctx:        ctx,
		route:      route,
		params:     params,
		state:      State{},
	}
}

func (c *RequestCtx) Context() context.Context {
	return c.ctx
}

func (c *RequestCtx) SetContext(ctx context.Context) {
	c.ctx = ctx
}

func (c *RequestCtx) Route() *RouteConfig {
	return c.route
}

func (c *RequestCtx) PathParams() map[string]interface{} {
	return c.params
}

func (c *RequestCtx) PathParam(name string) (interface{}, bool) {
	v, ok := c.params[name]
	return v, ok
}

func (c *RequestCtx) State() State {
	return c.state
}

func (c *RequestCtx) RequestID() string {
	if id, ok := c.state["request_id"].(string); ok && id != "" {
		return id
	}
	return string(c.Request.Header.Peek("X-Request-ID"))
}

// OnError installs the renderer used by Fail.
func (c *RequestCtx) OnError(fn func(*RequestCtx, error)) {
	c.onError = fn
}

// Fail records err as the outcome of the request and renders it into the
// response immediately, so outer middleware observe the final status.
func (c *RequestCtx) Fail(err error) {
	if err == nil {
		return
	}
	c.failure = err
	if c.onError != nil {
		c.onError(c, err)
		return
	}
	status := fasthttp.StatusInternalServerError
	if te, ok := AsError(err); ok {
		status = te.Status
	}
	c.Error(fasthttp.StatusMessage(status), status)
}

func (c *RequestCtx) Failure() error {
	return c.failure
}
