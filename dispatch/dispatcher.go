package dispatch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/codec"
	"github.com/saiset-co/sai-dispatch/di"
	"github.com/saiset-co/sai-dispatch/server"
	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

const (
	routingErrorKey = "dispatch.routing_error"
	unmatchedRoute  = "unmatched"
)

var durationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// Dispatcher turns raw fasthttp requests into responses: it matches the
// route, runs the compiled chain and converts every failure into an error
// response.
type Dispatcher struct {
	config     *types.DispatchConfig
	logger     types.Logger
	metrics    types.MetricsManager
	codecs     *codec.Registry
	validate   *validator.Validate
	singletons *di.Singletons

	tree      *server.Tree
	unmatched func(*types.RequestCtx)
	fallback  []types.ErrorHandler
}

func NewDispatcher(config *types.DispatchConfig, logger types.Logger, metrics types.MetricsManager, codecs *codec.Registry) (*Dispatcher, error) {
	if logger == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "logger is required")
	}
	if config == nil {
		config = &types.DispatchConfig{}
	}
	if codecs == nil {
		codecs = codec.NewRegistry()
	}
	if config.DefaultMediaType != "" {
		if err := codecs.SetDefault(config.DefaultMediaType); err != nil {
			return nil, types.WrapError(err, "dispatch.default_media_type")
		}
	}

	return &Dispatcher{
		config:     config,
		logger:     logger,
		metrics:    metrics,
		codecs:     codecs,
		validate:   newValidator(),
		singletons: di.NewSingletons(),
	}, nil
}

func (d *Dispatcher) Codecs() *codec.Registry {
	return d.codecs
}

// Mount hands the frozen tree to the dispatcher. unmatched is the global
// chain run for requests that never reach a route; fallback holds the
// application level error handlers used for them.
func (d *Dispatcher) Mount(tree *server.Tree, unmatched func(*types.RequestCtx), fallback []types.ErrorHandler) error {
	if tree == nil || !tree.Frozen() {
		return types.Errorf(types.ErrInvalidState, "routing tree must be frozen before it is mounted")
	}
	d.tree = tree
	d.unmatched = unmatched
	d.fallback = fallback
	return nil
}

// Unmatched is the innermost link of the global chain for requests that
// failed routing. A CORS preflight for a path without an OPTIONS route is
// answered with 204 and the allowed methods.
func (d *Dispatcher) Unmatched(ctx *types.RequestCtx) {
	err, _ := ctx.UserValue(routingErrorKey).(error)
	if err == nil {
		ctx.Fail(types.NewNotFoundError(string(ctx.Path())))
		return
	}

	if te, ok := types.AsError(err); ok && te.Kind == types.KindMethodNotAllowed && ctx.IsOptions() {
		allowed := append(append([]string(nil), te.Allowed...), fasthttp.MethodOptions)
		ctx.Response.Header.Set(fasthttp.HeaderAllow, strings.Join(allowed, ", "))
		ctx.SetStatusCode(fasthttp.StatusNoContent)
		return
	}

	ctx.Fail(err)
}

// Handle is the fasthttp entry point.
func (d *Dispatcher) Handle(fctx *fasthttp.RequestCtx) {
	start := time.Now()
	method := utils.Intern(fctx.Method())

	if d.tree == nil {
		d.logger.Error("Request received before the routing tree was mounted")
		utils.CreateErrorResponse(fctx)
		return
	}

	match, err := d.tree.Match(method, string(fctx.Path()))
	var params map[string]interface{}
	if err == nil {
		params, err = match.Typed()
	}

	if err != nil {
		// A path parameter that fails coercion after a structural match is
		// rendered by the matched route's error handlers.
		config, handlers, label := &types.RouteConfig{Name: unmatchedRoute, Method: method}, d.fallback, unmatchedRoute
		if match != nil {
			config, handlers, label = match.Route.Config(), match.Route.ErrorHandlers(), match.Route.Path()
		}
		ctx := types.NewRequestCtx(context.Background(), fctx, config, nil)
		ctx.OnError(d.renderer(handlers))
		fctx.SetUserValue(routingErrorKey, err)
		d.protect(ctx, d.serveUnmatched)
		d.observe(label, method, fctx.Response.StatusCode(), start)
		return
	}

	route := match.Route
	config := route.Config()

	reqCtx, cancel := d.requestContext(config)
	defer cancel()

	ctx := types.NewRequestCtx(reqCtx, fctx, config, params)
	ctx.OnError(d.renderer(route.ErrorHandlers()))

	d.logger.Debug("Route matched",
		zap.String("method", method),
		zap.String("route", route.Path()),
		zap.ByteString("path", fctx.Path()))

	if !d.run(ctx, route.Serve, cancel) {
		d.observe(route.Path(), method, fasthttp.StatusRequestTimeout, start)
		return
	}

	if hook := route.AfterResponse(); hook != nil {
		d.protect(ctx, hook)
	}

	d.observe(route.Path(), method, fctx.Response.StatusCode(), start)
}

func (d *Dispatcher) serveUnmatched(ctx *types.RequestCtx) {
	if d.unmatched != nil {
		d.unmatched(ctx)
		return
	}
	d.Unmatched(ctx)
}

func (d *Dispatcher) requestContext(config *types.RouteConfig) (context.Context, context.CancelFunc) {
	timeout := d.config.Timeout
	if config.Timeout > 0 {
		timeout = config.Timeout
	}
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

// run serves ctx and reports whether the chain finished before the request
// deadline. On expiry the 408 response is handed to fasthttp and everything
// the chain does afterwards is discarded. Once the chain goroutine starts,
// its RequestCtx belongs to it: the timeout path only uses values captured
// beforehand.
func (d *Dispatcher) run(ctx *types.RequestCtx, serve func(*types.RequestCtx), cancel context.CancelFunc) bool {
	reqCtx := ctx.Context()
	if _, ok := reqCtx.Deadline(); !ok {
		d.protect(ctx, serve)
		return true
	}

	requestID := ctx.RequestID()
	fields := requestFields(ctx.Method(), ctx.Path(), requestID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.protect(ctx, serve)
	}()

	select {
	case <-done:
		return true
	case <-reqCtx.Done():
	}

	select {
	case <-done:
		return true
	default:
	}

	cancel()

	timeoutErr := types.NewTimeoutError(reqCtx.Err())
	d.logError(timeoutErr, fields)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)
	d.writeError(resp, timeoutErr, requestID)
	ctx.TimeoutErrorWithResponse(resp)

	return false
}

// protect turns a panic anywhere in fn into a rendered handler failure.
func (d *Dispatcher) protect(ctx *types.RequestCtx, fn func(*types.RequestCtx)) {
	defer func() {
		if rec := recover(); rec != nil {
			ctx.Fail(types.NewHandlerError(errors.WithStack(types.Errorf(types.ErrHandlerPanic, "%v", rec))))
		}
	}()
	fn(ctx)
}

func (d *Dispatcher) observe(route, method string, status int, start time.Time) {
	if d.metrics == nil {
		return
	}

	d.metrics.Counter("requests_total", map[string]string{
		"route":  route,
		"method": method,
		"status": strconv.Itoa(status),
	}).Inc()

	d.metrics.Histogram("request_duration_seconds", durationBuckets, map[string]string{
		"route":  route,
		"method": method,
	}).ObserveDuration(start)
}

func (d *Dispatcher) observeProvider(name string, duration time.Duration, err error) {
	if d.metrics == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	d.metrics.Counter("provider_evaluations_total", map[string]string{
		"provider": name,
		"result":   result,
	}).Inc()
}
