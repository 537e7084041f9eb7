package dispatch

import (
	"context"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-dispatch/codec"
	"github.com/saiset-co/sai-dispatch/di"
	"github.com/saiset-co/sai-dispatch/server"
	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

// Endpoint compiles the innermost link of a route chain: hooks, argument
// binding, the handler call and response writing. Everything that can be
// decided at build time is decided here.
func (d *Dispatcher) Endpoint(def *server.RouteDefinition) (func(*types.RequestCtx), error) {
	if def == nil || def.Handler == nil {
		return nil, types.ErrHandlerIsNil
	}
	if def.Signature == nil || !def.Signature.Resolved() {
		return nil, types.Errorf(types.ErrSignatureInvalid, "%s: signature is not resolved", def.Method)
	}

	mediaType := ""
	if def.Config != nil {
		mediaType = def.Config.MediaType
	}
	c, err := d.codecs.Get(mediaType)
	if err != nil {
		return nil, types.NewConfigurationError(err, "route %s media type", def.Method)
	}

	graph := def.Graph
	if graph == nil {
		graph, err = di.NewGraph(nil, nil, signature.Context{Method: def.Method})
		if err != nil {
			return nil, err
		}
	}

	e := &endpoint{
		dispatcher: d,
		handler:    def.Handler,
		signature:  def.Signature,
		graph:      graph,
		codec:      c,
		status:     defaultStatus(def.Method, def.Config),
		headers:    routeHeaders(def.Config),
		before:     def.BeforeRequest,
		after:      def.AfterRequest,
	}
	return e.serve, nil
}

type endpoint struct {
	dispatcher *Dispatcher
	handler    signature.Func
	signature  *signature.Signature
	graph      *di.Graph
	codec      codec.Codec
	status     int
	headers    map[string]string
	before     types.BeforeRequestHook
	after      types.AfterRequestHook
}

func (e *endpoint) serve(ctx *types.RequestCtx) {
	d := e.dispatcher

	if e.before != nil {
		resp, err := e.before(ctx)
		if err != nil {
			ctx.Fail(types.NewHandlerError(err))
			return
		}
		if resp != nil {
			e.finish(ctx, resp)
			return
		}
	}

	resolver := di.NewResolver(e.graph, &binder{ctx: ctx, codecs: d.codecs, validate: d.validate}, d.singletons)
	resolver.Observe(d.observeProvider)

	call, err := resolver.Bind(ctx.Context(), e.signature)
	if err != nil {
		ctx.Fail(err)
		return
	}

	if err := ctx.Context().Err(); err != nil {
		ctx.Fail(contextFailure(err))
		return
	}

	result, err := e.handler(ctx.Context(), call)
	if err != nil {
		ctx.Fail(types.NewHandlerError(err))
		return
	}

	e.finish(ctx, e.normalize(result))
}

// finish runs the after-request hook and writes resp.
func (e *endpoint) finish(ctx *types.RequestCtx, resp *types.Response) {
	if e.after != nil {
		next, err := e.after(ctx, resp)
		if err != nil {
			ctx.Fail(types.NewHandlerError(err))
			return
		}
		if next != nil {
			resp = next
		}
	}

	if err := e.dispatcher.write(ctx, resp, e); err != nil {
		ctx.Fail(types.NewHandlerError(err))
	}
}

func (e *endpoint) normalize(result interface{}) *types.Response {
	switch v := result.(type) {
	case *types.Response:
		if v == nil {
			return &types.Response{Status: e.status}
		}
		return v
	case types.Response:
		return &v
	default:
		return &types.Response{Status: e.status, Body: result}
	}
}

// write puts resp on the wire. Route-level headers go first so the
// response's own headers override them.
func (d *Dispatcher) write(ctx *types.RequestCtx, resp *types.Response, e *endpoint) error {
	status := resp.Status
	c := d.codecs.Default()
	if e != nil {
		c = e.codec
		if status == 0 {
			status = e.status
		}
		for k, v := range e.headers {
			ctx.Response.Header.Set(k, v)
		}
	}
	if status == 0 {
		status = fasthttp.StatusOK
	}

	if resp.Body != nil && !(&types.Response{Status: status}).BodyAllowed() {
		return types.Errorf(types.ErrResponseBodyForbidden, "status %d must not carry a body", status)
	}

	var body []byte
	contentType := resp.ContentType

	switch v := resp.Body.(type) {
	case nil:
	case []byte:
		body = v
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	case string:
		body = []byte(v)
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
	default:
		encoded, err := c.Encode(v)
		if err != nil {
			return types.Errorf(types.ErrCodecEncodeFailed, "%v", err)
		}
		body = encoded
		if contentType == "" {
			contentType = c.ContentType()
		}
	}

	for k, v := range resp.Headers {
		ctx.Response.Header.Set(k, v)
	}
	for _, cookie := range resp.Cookies {
		ctx.Response.Header.SetCookie(cookie)
	}

	ctx.SetStatusCode(status)
	if body != nil {
		ctx.SetContentType(contentType)
		ctx.SetBody(body)
	} else if contentType != "" {
		ctx.SetContentType(contentType)
	}

	return nil
}

func defaultStatus(method string, config *types.RouteConfig) int {
	if config != nil && config.StatusCode != 0 {
		return config.StatusCode
	}
	switch method {
	case fasthttp.MethodPost:
		return fasthttp.StatusCreated
	case fasthttp.MethodDelete:
		return fasthttp.StatusNoContent
	default:
		return fasthttp.StatusOK
	}
}

func routeHeaders(config *types.RouteConfig) map[string]string {
	if config == nil {
		return nil
	}
	return config.ResponseHeaders
}

func contextFailure(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewTimeoutError(err)
	}
	return types.NewCancelledError(err)
}
