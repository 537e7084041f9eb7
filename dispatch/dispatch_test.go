package dispatch

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/saiset-co/sai-dispatch/di"
	"github.com/saiset-co/sai-dispatch/logger"
	"github.com/saiset-co/sai-dispatch/metrics"
	"github.com/saiset-co/sai-dispatch/server"
	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type route struct {
	method        string
	path          string
	params        []signature.Param
	providers     []*di.Provider
	handler       signature.Func
	config        *types.RouteConfig
	errorHandlers []types.ErrorHandler
	before        types.BeforeRequestHook
	after         types.AfterRequestHook
	afterResponse types.AfterResponseHook
}

func newDispatcher(t *testing.T, config *types.DispatchConfig, mm types.MetricsManager) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(config, logger.NewNop(), mm, nil)
	require.NoError(t, err)
	return d
}

func mount(t *testing.T, d *Dispatcher, routes ...route) {
	t.Helper()

	tree := server.NewTree()
	for _, r := range routes {
		tpl := server.MustParseTemplate(r.path)

		flat := make(map[string]*di.Provider, len(r.providers))
		for _, p := range r.providers {
			flat[p.Name()] = p
		}

		rc := signature.Context{
			Callable:   r.method + " " + r.path,
			Role:       signature.RoleHandler,
			Method:     r.method,
			PathParams: tpl.Params(),
			Providers: func(name string) bool {
				_, ok := flat[name]
				return ok
			},
		}
		sig, err := signature.MustNew(r.params...).Resolve(rc)
		require.NoError(t, err)

		graph, err := di.NewGraph(flat, sig.Dependencies(), rc)
		require.NoError(t, err)

		def := &server.RouteDefinition{
			Method:        r.method,
			Template:      tpl,
			Handler:       r.handler,
			Signature:     sig,
			Graph:         graph,
			Config:        r.config,
			ErrorHandlers: r.errorHandlers,
			BeforeRequest: r.before,
			AfterRequest:  r.after,
			AfterResponse: r.afterResponse,
		}
		def.Chain, err = d.Endpoint(def)
		require.NoError(t, err)

		node, err := server.NewRouteNode(*def)
		require.NoError(t, err)
		require.NoError(t, tree.Register(node))
	}
	tree.Freeze()
	require.NoError(t, d.Mount(tree, nil, nil))
}

func request(d *Dispatcher, method, uri string, prepare ...func(*fasthttp.Request)) *fasthttp.RequestCtx {
	fctx := &fasthttp.RequestCtx{}
	fctx.Request.Header.SetMethod(method)
	fctx.Request.SetRequestURI(uri)
	for _, fn := range prepare {
		fn(&fctx.Request)
	}
	d.Handle(fctx)
	return fctx
}

func jsonBody(body string, contentType string) func(*fasthttp.Request) {
	return func(req *fasthttp.Request) {
		req.Header.SetContentType(contentType)
		req.SetBodyString(body)
	}
}

// inMemoryClient serves d on an in-memory listener. Timeout responses are
// only delivered by a running fasthttp server.
func inMemoryClient(t *testing.T, d *Dispatcher) *fasthttp.Client {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: d.Handle}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
}

func decode(t *testing.T, fctx *fasthttp.RequestCtx) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, utils.Unmarshal(fctx.Response.Body(), &out))
	return out
}

// TestTypedPathParameter verifies a template kind reaches the handler as a typed value.
func TestTypedPathParameter(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil, nil)
	mount(t, d, route{
		method:  "GET",
		path:    "/users/{user_id:int}",
		params:  []signature.Param{signature.Path("user_id")},
		handler: func(_ context.Context, call *signature.BoundCall) (interface{}, error) {
			return map[string]int{"id": signature.Get[int](call, "user_id") * 2}, nil
		},
	})

	fctx := request(d, "GET", "/users/21")
	assert.Equal(t, fasthttp.StatusOK, fctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(fctx.Response.Header.ContentType()))
	assert.JSONEq(t, `{"id":42}`, string(fctx.Response.Body()))

	fctx = request(d, "GET", "/users/abc")
	assert.Equal(t, fasthttp.StatusBadRequest, fctx.Response.StatusCode())
	body := decode(t, fctx)
	assert.Equal(t, []interface{}{"user_id"}, body["fields"])
	assert.Equal(t, "Bad Request", body["error"])
}

// TestRoutingFailures verifies 404 and 405 bodies and the Allow header.
func TestRoutingFailures(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil, nil)
	noop := func(context.Context, *signature.BoundCall) (interface{}, error) { return "ok", nil }
	mount(t, d,
		route{method: "GET", path: "/items", handler: noop},
		route{method: "POST", path: "/items", handler: noop},
	)

	fctx := request(d, "GET", "/missing")
	assert.Equal(t, fasthttp.StatusNotFound, fctx.Response.StatusCode())
	assert.Equal(t, "Not Found", decode(t, fctx)["error"])

	fctx = request(d, "DELETE", "/items")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, fctx.Response.StatusCode())
	assert.Equal(t, "GET, POST", string(fctx.Response.Header.Peek("Allow")))
	assert.Equal(t, []interface{}{"GET", "POST"}, decode(t, fctx)["allowed"])

	fctx = request(d, "OPTIONS", "/items")
	assert.Equal(t, fasthttp.StatusNoContent, fctx.Response.StatusCode())
	assert.Equal(t, "GET, POST, OPTIONS", string(fctx.Response.Header.Peek("Allow")))
}

// TestDefaultStatusByMethod verifies POST answers 201, DELETE 204 and an explicit status wins.
func TestDefaultStatusByMethod(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil, nil)
	mount(t, d,
		route{method: "POST", path: "/things", handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			return map[string]string{"id": "1"}, nil
		}},
		route{method: "DELETE", path: "/things", handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			return nil, nil
		}},
		route{method: "PUT", path: "/things", config: &types.RouteConfig{StatusCode: fasthttp.StatusAccepted}, handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			return "queued", nil
		}},
	)

	assert.Equal(t, fasthttp.StatusCreated, request(d, "POST", "/things").Response.StatusCode())

	fctx := request(d, "DELETE", "/things")
	assert.Equal(t, fasthttp.StatusNoContent, fctx.Response.StatusCode())
	assert.Empty(t, fctx.Response.Body())

	fctx = request(d, "PUT", "/things")
	assert.Equal(t, fasthttp.StatusAccepted, fctx.Response.StatusCode())
	assert.Equal(t, "queued", string(fctx.Response.Body()))
	assert.Equal(t, "text/plain; charset=utf-8", string(fctx.Response.Header.ContentType()))
}

// TestQueryBinding verifies defaults, coercion and that every invalid field is reported together.
func TestQueryBinding(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil, nil)
	mount(t, d, route{
		method: "GET",
		path:   "/search",
		params: []signature.Param{
			signature.Query("q", signature.KindString),
			signature.Query("limit", signature.KindInt, signature.Optional(10)),
			signature.Query("exact", signature.KindBool, signature.Optional(false)),
		},
		handler: func(_ context.Context, call *signature.BoundCall) (interface{}, error) {
			return map[string]interface{}{
				"q":     signature.Get[string](call, "q"),
				"limit": signature.Get[int](call, "limit"),
				"exact": signature.Get[bool](call, "exact"),
			}, nil
		},
	})

	fctx := request(d, "GET", "/search?q=go")
	require.Equal(t, fasthttp.StatusOK, fctx.Response.StatusCode())
	assert.JSONEq(t, `{"q":"go","limit":10,"exact":false}`, string(fctx.Response.Body()))

	fctx = request(d, "GET", "/search?q=go&limit=5&exact=TRUE")
	assert.JSONEq(t, `{"q":"go","limit":5,"exact":true}`, string(fctx.Response.Body()))

	fctx = request(d, "GET", "/search?limit=many&exact=maybe")
	assert.Equal(t, fasthttp.StatusBadRequest, fctx.Response.StatusCode())
	assert.ElementsMatch(t, []interface{}{"q", "limit", "exact"}, decode(t, fctx)["fields"])
}

// TestHeaderCookieAndSpecialParams verifies single values and the request-wide maps.
func TestHeaderCookieAndSpecialParams(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil, nil)
	mount(t, d, route{
		method: "GET",
		path:   "/whoami",
		params: []signature.Param{
			signature.Header("tenant", signature.KindString, signature.Key("X-Tenant")),
			signature.Cookie("session", signature.KindString, signature.Optional("none")),
			signature.Auto("query", signature.KindAny),
			signature.Auto("request", signature.KindAny),
		},
		handler: func(_ context.Context, call *signature.BoundCall) (interface{}, error) {
			query := signature.Get[map[string][]string](call, "query")
			req := signature.Get[*types.RequestCtx](call, "request")
			return map[string]interface{}{
				"tenant":  signature.Get[string](call, "tenant"),
				"session": signature.Get[string](call, "session"),
				"tags":    query["tag"],
				"path":    string(req.Path()),
			}, nil
		},
	})

	fctx := request(d, "GET", "/whoami?tag=a&tag=b", func(req *fasthttp.Request) {
		req.Header.Set("X-Tenant", "acme")
		req.Header.SetCookie("session", "s1")
	})
	require.Equal(t, fasthttp.StatusOK, fctx.Response.StatusCode())
	assert.JSONEq(t, `{"tenant":"acme","session":"s1","tags":["a","b"],"path":"/whoami"}`, string(fctx.Response.Body()))

	fctx = request(d, "GET", "/whoami")
	assert.Equal(t, fasthttp.StatusBadRequest, fctx.Response.StatusCode())
	assert.Equal(t, []interface{}{"X-Tenant"}, decode(t, fctx)["fields"])
}

type createOrder struct {
	Item     string `json:"item" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1"`
}

// TestBodyDecodingAndValidation verifies codec selection, struct validation and 415.
func TestBodyDecodingAndValidation(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil, nil)
	mount(t, d, route{
		method: "POST",
		path:   "/orders",
		params: []signature.Param{signature.Body[createOrder]("data")},
		handler: func(_ context.Context, call *signature.BoundCall) (interface{}, error) {
			order := signature.Get[*createOrder](call, "data")
			return map[string]interface{}{"item": order.Item, "quantity": order.Quantity}, nil
		},
	})

	fctx := request(d, "POST", "/orders", jsonBody(`{"item":"book","quantity":2}`, "application/json; charset=utf-8"))
	assert.Equal(t, fasthttp.StatusCreated, fctx.Response.StatusCode())
	assert.JSONEq(t, `{"item":"book","quantity":2}`, string(fctx.Response.Body()))

	fctx = request(d, "POST", "/orders", jsonBody("item: pen\nquantity: 3\n", "application/x-yaml"))
	assert.Equal(t, fasthttp.StatusCreated, fctx.Response.StatusCode())
	assert.JSONEq(t, `{"item":"pen","quantity":3}`, string(fctx.Response.Body()))

	fctx = request(d, "POST", "/orders", jsonBody(`{"quantity":0}`, "application/json"))
	assert.Equal(t, fasthttp.StatusBadRequest, fctx.Response.StatusCode())
	assert.ElementsMatch(t, []interface{}{"data.item", "data.quantity"}, decode(t, fctx)["fields"])

	fctx = request(d, "POST", "/orders", jsonBody(`<order/>`, "text/xml"))
	assert.Equal(t, fasthttp.StatusUnsupportedMediaType, fctx.Response.StatusCode())

	fctx = request(d, "POST", "/orders")
	assert.Equal(t, fasthttp.StatusBadRequest, fctx.Response.StatusCode())
	assert.Equal(t, []interface{}{"data"}, decode(t, fctx)["fields"])
}

// TestHandlerFailures verifies internal errors are masked unless debug is on.
func TestHandlerFailures(t *testing.T) {
	t.Parallel()

	routes := []route{
		{method: "GET", path: "/boom", handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			return nil, errors.New("database exploded")
		}},
		{method: "GET", path: "/teapot", handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			return nil, types.NewHTTPError(fasthttp.StatusTeapot, "short and stout")
		}},
		{method: "GET", path: "/panic", handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			panic("unreachable state")
		}},
	}

	d := newDispatcher(t, nil, nil)
	mount(t, d, routes...)

	fctx := request(d, "GET", "/boom", func(req *fasthttp.Request) { req.Header.Set("X-Request-ID", "req-1") })
	assert.Equal(t, fasthttp.StatusInternalServerError, fctx.Response.StatusCode())
	body := decode(t, fctx)
	assert.Equal(t, genericErrorMessage, body["message"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "req-1", string(fctx.Response.Header.Peek("X-Request-ID")))

	fctx = request(d, "GET", "/teapot")
	assert.Equal(t, fasthttp.StatusTeapot, fctx.Response.StatusCode())
	assert.Equal(t, "short and stout", decode(t, fctx)["message"])

	fctx = request(d, "GET", "/panic")
	assert.Equal(t, fasthttp.StatusInternalServerError, fctx.Response.StatusCode())

	debug := newDispatcher(t, &types.DispatchConfig{Debug: true}, nil)
	mount(t, debug, routes...)
	fctx = request(debug, "GET", "/boom")
	assert.Contains(t, decode(t, fctx)["message"], "database exploded")
}

// TestErrorHandlersFirstMatchWins verifies the innermost matching handler renders the failure.
func TestErrorHandlersFirstMatchWins(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil, nil)
	mount(t, d, route{
		method: "GET",
		path:   "/strict",
		params: []signature.Param{signature.Query("n", signature.KindInt)},
		handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			return "ok", nil
		},
		errorHandlers: []types.ErrorHandler{
			{Kind: types.KindNotFound, Handle: func(*types.RequestCtx, *types.Error) *types.Response {
				return types.NewResponse(fasthttp.StatusGone, "gone")
			}},
			{Kind: types.KindValidation, Handle: func(_ *types.RequestCtx, e *types.Error) *types.Response {
				return types.NewResponse(fasthttp.StatusUnprocessableEntity, map[string]interface{}{"invalid": e.Fields})
			}},
			{Handle: func(*types.RequestCtx, *types.Error) *types.Response {
				return types.NewResponse(fasthttp.StatusInternalServerError, "catch-all")
			}},
		},
	})

	fctx := request(d, "GET", "/strict?n=x")
	assert.Equal(t, fasthttp.StatusUnprocessableEntity, fctx.Response.StatusCode())
	assert.JSONEq(t, `{"invalid":["n"]}`, string(fctx.Response.Body()))
}

// TestHooks verifies short-circuiting, response transformation and the after-response callback.
func TestHooks(t *testing.T) {
	t.Parallel()

	var handled, completed atomic.Int32
	d := newDispatcher(t, nil, nil)
	mount(t, d, route{
		method: "GET",
		path:   "/hooked",
		params: []signature.Param{signature.Header("stop", signature.KindBool, signature.Key("X-Stop"), signature.Optional(false))},
		handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			handled.Add(1)
			return map[string]string{"from": "handler"}, nil
		},
		before: func(ctx *types.RequestCtx) (*types.Response, error) {
			if len(ctx.Request.Header.Peek("X-Stop")) > 0 {
				return types.NewResponse(fasthttp.StatusOK, "stopped early"), nil
			}
			return nil, nil
		},
		after: func(_ *types.RequestCtx, resp *types.Response) (*types.Response, error) {
			return resp.WithHeader("X-After", "1"), nil
		},
		afterResponse: func(*types.RequestCtx) {
			completed.Add(1)
		},
	})

	fctx := request(d, "GET", "/hooked", func(req *fasthttp.Request) { req.Header.Set("X-Stop", "true") })
	assert.Equal(t, "stopped early", string(fctx.Response.Body()))
	assert.Equal(t, "1", string(fctx.Response.Header.Peek("X-After")))
	assert.Equal(t, int32(0), handled.Load())

	fctx = request(d, "GET", "/hooked")
	assert.JSONEq(t, `{"from":"handler"}`, string(fctx.Response.Body()))
	assert.Equal(t, int32(1), handled.Load())
	assert.Equal(t, int32(2), completed.Load())
}

// TestResponseHeadersAndCookies verifies route headers are overridden by the response's own.
func TestResponseHeadersAndCookies(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil, nil)
	mount(t, d, route{
		method: "GET",
		path:   "/styled",
		config: &types.RouteConfig{ResponseHeaders: map[string]string{"X-Layer": "route", "X-Static": "yes"}},
		handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			cookie := fasthttp.AcquireCookie()
			cookie.SetKey("theme")
			cookie.SetValue("dark")
			return types.NewResponse(fasthttp.StatusOK, []byte("raw")).
				WithHeader("X-Layer", "response").
				WithCookie(cookie), nil
		},
	})

	fctx := request(d, "GET", "/styled")
	assert.Equal(t, "response", string(fctx.Response.Header.Peek("X-Layer")))
	assert.Equal(t, "yes", string(fctx.Response.Header.Peek("X-Static")))
	assert.Equal(t, "application/octet-stream", string(fctx.Response.Header.ContentType()))
	assert.Contains(t, string(fctx.Response.Header.PeekCookie("theme")), "theme=dark")
}

// TestBodyOnNoContentStatus verifies a 204 response with a body is a server error.
func TestBodyOnNoContentStatus(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil, nil)
	mount(t, d, route{
		method: "GET",
		path:   "/empty",
		config: &types.RouteConfig{StatusCode: fasthttp.StatusNoContent},
		handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			return map[string]string{"oops": "body"}, nil
		},
	})

	fctx := request(d, "GET", "/empty")
	assert.Equal(t, fasthttp.StatusInternalServerError, fctx.Response.StatusCode())
}

// TestProvidersEvaluatedOncePerRequest verifies a shared provider runs once and is counted in metrics.
func TestProvidersEvaluatedOncePerRequest(t *testing.T) {
	t.Parallel()

	mm, err := metrics.NewManager(&types.MetricsConfig{
		Enabled: true,
		Type:    "prometheus",
		Config:  map[string]interface{}{"enable_go_metrics": false},
	}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, mm.Start())
	t.Cleanup(func() { _ = mm.Stop() })

	var calls atomic.Int32
	d := newDispatcher(t, nil, mm)
	mount(t, d, route{
		method: "GET",
		path:   "/accounts/{id:int}",
		params: []signature.Param{signature.Path("id"), signature.Dep("owner"), signature.Dep("session")},
		providers: []*di.Provider{
			di.MustProvider("session", func(_ context.Context, call *signature.BoundCall) (interface{}, error) {
				calls.Add(1)
				return "session-" + signature.Get[string](call, "token"), nil
			}, signature.Header("token", signature.KindString, signature.Key("X-Token"))),
			di.MustProvider("owner", func(_ context.Context, call *signature.BoundCall) (interface{}, error) {
				return signature.Get[string](call, "session") + "-owner", nil
			}, signature.Dep("session")),
		},
		handler: func(_ context.Context, call *signature.BoundCall) (interface{}, error) {
			return map[string]interface{}{
				"id":      call.Value("id"),
				"owner":   call.Value("owner"),
				"session": call.Value("session"),
			}, nil
		},
	})

	fctx := request(d, "GET", "/accounts/7", func(req *fasthttp.Request) { req.Header.Set("X-Token", "abc") })
	require.Equal(t, fasthttp.StatusOK, fctx.Response.StatusCode())
	assert.JSONEq(t, `{"id":7,"owner":"session-abc-owner","session":"session-abc"}`, string(fctx.Response.Body()))
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, float64(1), mm.Counter("provider_evaluations_total", map[string]string{"provider": "session", "result": "success"}).Get())
	assert.Equal(t, float64(1), mm.Counter("requests_total", map[string]string{"route": "/accounts/{id:int}", "method": "GET", "status": "200"}).Get())

	fctx = request(d, "GET", "/accounts/7")
	assert.Equal(t, fasthttp.StatusBadRequest, fctx.Response.StatusCode())
	assert.Equal(t, []interface{}{"X-Token"}, decode(t, fctx)["fields"])
	assert.Equal(t, int32(1), calls.Load())
}

// TestRequestTimeout verifies a slow chain is answered with 408 once the deadline passes.
func TestRequestTimeout(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, &types.DispatchConfig{Timeout: 50 * time.Millisecond}, nil)
	mount(t, d, route{
		method: "GET",
		path:   "/slow",
		handler: func(ctx context.Context, _ *signature.BoundCall) (interface{}, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
				return "late", nil
			}
		},
	}, route{
		method: "GET",
		path:   "/fast",
		config: &types.RouteConfig{Timeout: time.Second},
		handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			return "fast", nil
		},
	})

	client := inMemoryClient(t, d)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://dispatch.test/slow")
	require.NoError(t, client.Do(req, resp))
	assert.Equal(t, fasthttp.StatusRequestTimeout, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), "Request Timeout")

	req.SetRequestURI("http://dispatch.test/fast")
	require.NoError(t, client.Do(req, resp))
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Equal(t, "fast", string(resp.Body()))
}

// TestMountRequiresFrozenTree verifies an open tree cannot be served.
func TestMountRequiresFrozenTree(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil, nil)
	err := d.Mount(server.NewTree(), nil, nil)
	assert.True(t, types.IsError(err, types.ErrInvalidState))

	fctx := &fasthttp.RequestCtx{}
	fctx.Request.SetRequestURI("/anything")
	d.Handle(fctx)
	assert.Equal(t, fasthttp.StatusInternalServerError, fctx.Response.StatusCode())
}

// TestUnknownDefaultMediaType verifies the dispatcher refuses a default it cannot encode.
func TestUnknownDefaultMediaType(t *testing.T) {
	t.Parallel()

	_, err := NewDispatcher(&types.DispatchConfig{DefaultMediaType: "application/msgpack"}, logger.NewNop(), nil, nil)
	assert.True(t, types.IsError(err, types.ErrCodecNotFound))
}

// TestTimeoutLeavesRequestStateToChain verifies the timeout response is built
// without touching state the still-running handler keeps writing.
func TestTimeoutLeavesRequestStateToChain(t *testing.T) {
	t.Parallel()

	finished := make(chan struct{})
	d := newDispatcher(t, nil, nil)
	mount(t, d, route{
		method: "GET",
		path:   "/busy",
		params: []signature.Param{signature.State("state")},
		config: &types.RouteConfig{Timeout: 20 * time.Millisecond},
		handler: func(_ context.Context, call *signature.BoundCall) (interface{}, error) {
			defer close(finished)
			state := signature.Get[types.State](call, "state")
			deadline := time.Now().Add(80 * time.Millisecond)
			for i := 0; time.Now().Before(deadline); i++ {
				state["progress"] = i
			}
			return "done", nil
		},
	})

	client := inMemoryClient(t, d)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://dispatch.test/busy")
	req.Header.Set(utils.RequestIDHeader, "busy-1")
	require.NoError(t, client.Do(req, resp))

	assert.Equal(t, fasthttp.StatusRequestTimeout, resp.StatusCode())
	assert.Equal(t, "busy-1", string(resp.Header.Peek(utils.RequestIDHeader)))

	var body map[string]interface{}
	require.NoError(t, utils.Unmarshal(resp.Body(), &body))
	assert.Equal(t, "busy-1", body["request_id"])

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish")
	}
}

var errOutOfStock = errors.New("out of stock")

// TestProviderErrorReachesErrorHandler verifies a sentinel raised by a
// provider is matched by error handlers the same way as one from the handler.
func TestProviderErrorReachesErrorHandler(t *testing.T) {
	t.Parallel()

	outOfStock := []types.ErrorHandler{{
		Target: errOutOfStock,
		Handle: func(*types.RequestCtx, *types.Error) *types.Response {
			return types.NewResponse(fasthttp.StatusConflict, "sold out")
		},
	}}
	inventory := di.MustProvider("inventory", func(context.Context, *signature.BoundCall) (interface{}, error) {
		return nil, errOutOfStock
	})

	d := newDispatcher(t, nil, nil)
	mount(t, d, route{
		method:        "GET",
		path:          "/reserve",
		params:        []signature.Param{signature.Dep("inventory")},
		providers:     []*di.Provider{inventory},
		errorHandlers: outOfStock,
		handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			return "reserved", nil
		},
	}, route{
		method:        "GET",
		path:          "/checkout",
		errorHandlers: outOfStock,
		handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			return nil, errOutOfStock
		},
	})

	for _, path := range []string{"/reserve", "/checkout"} {
		fctx := request(d, "GET", path)
		assert.Equal(t, fasthttp.StatusConflict, fctx.Response.StatusCode(), path)
		assert.Equal(t, "sold out", string(fctx.Response.Body()), path)
	}

	wrapped := types.NewDependencyError("inventory", errOutOfStock)
	assert.ErrorIs(t, wrapped, errOutOfStock)
	assert.ErrorIs(t, wrapped, types.ErrDependencyFailed)
	assert.ErrorIs(t, types.NewTimeoutError(context.DeadlineExceeded), context.DeadlineExceeded)
}

// TestPathCoercionUsesRouteErrorHandlers verifies a path value that fails its
// declared kind is rendered by the matched route's error handlers.
func TestPathCoercionUsesRouteErrorHandlers(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil, nil)
	mount(t, d, route{
		method: "GET",
		path:   "/items/{id:int}",
		params: []signature.Param{signature.Path("id")},
		handler: func(context.Context, *signature.BoundCall) (interface{}, error) {
			return "item", nil
		},
		errorHandlers: []types.ErrorHandler{{
			Kind: types.KindValidation,
			Handle: func(_ *types.RequestCtx, e *types.Error) *types.Response {
				return types.NewResponse(fasthttp.StatusUnprocessableEntity, map[string]interface{}{"invalid": e.Fields})
			},
		}},
	})

	fctx := request(d, "GET", "/items/abc")
	assert.Equal(t, fasthttp.StatusUnprocessableEntity, fctx.Response.StatusCode())
	assert.JSONEq(t, `{"invalid":["id"]}`, string(fctx.Response.Body()))

	fctx = request(d, "GET", "/items/7")
	assert.Equal(t, fasthttp.StatusOK, fctx.Response.StatusCode())
}
