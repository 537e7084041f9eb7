package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-dispatch/config"
	"github.com/saiset-co/sai-dispatch/logger"
	"github.com/saiset-co/sai-dispatch/metrics"
	"github.com/saiset-co/sai-dispatch/types"
)

type recorder struct {
	name   string
	weight int
	inner  bool
	trail  *[]string
}

func (r *recorder) Name() string { return r.name }
func (r *recorder) Weight() int  { return r.weight }
func (r *recorder) Inner() bool  { return r.inner }

func (r *recorder) Handle(ctx *types.RequestCtx, next func(*types.RequestCtx), _ *types.RouteConfig) {
	*r.trail = append(*r.trail, r.name+":in")
	next(ctx)
	*r.trail = append(*r.trail, r.name+":out")
}

func newRequest(method, path string) (*types.RequestCtx, *fasthttp.RequestCtx) {
	var fctx fasthttp.RequestCtx
	fctx.Request.Header.SetMethod(method)
	fctx.Request.SetRequestURI(path)
	return types.NewRequestCtx(context.Background(), &fctx, &types.RouteConfig{Method: method, Path: path}, nil), &fctx
}

func newRunningMetrics(t *testing.T) *metrics.Manager {
	t.Helper()

	m, err := metrics.NewManager(&types.MetricsConfig{
		Enabled: true,
		Type:    "prometheus",
		Config:  map[string]interface{}{"enable_go_metrics": false},
	}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

// TestManagerOrdersByWeight verifies global middleware runs lightest first.
func TestManagerOrdersByWeight(t *testing.T) {
	t.Parallel()

	var trail []string
	m, err := NewManager(nil, logger.NewNop(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.Register(&recorder{name: "b", weight: 20, trail: &trail}))
	require.NoError(t, m.Register(&recorder{name: "a", weight: 10, trail: &trail}))
	require.NoError(t, m.RegisterMiddlewares())

	cfg := &types.RouteConfig{}
	chain := m.Compose(m.Ordered(cfg), nil, func(*types.RequestCtx) { trail = append(trail, "handler") }, cfg)

	ctx, _ := newRequest("GET", "/")
	chain(ctx)

	assert.Equal(t, []string{"a:in", "b:in", "handler", "b:out", "a:out"}, trail)
}

// TestManagerRejectsDuplicates verifies names and weights must be unique.
func TestManagerRejectsDuplicates(t *testing.T) {
	t.Parallel()

	var trail []string
	m, err := NewManager(nil, logger.NewNop(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.Register(&recorder{name: "a", weight: 10, trail: &trail}))
	assert.ErrorIs(t, m.Register(&recorder{name: "a", weight: 11, trail: &trail}), types.ErrMiddlewareOrderInvalid)
	assert.ErrorIs(t, m.Register(nil), types.ErrMiddlewareInvalidType)

	require.NoError(t, m.Register(&recorder{name: "b", weight: 10, trail: &trail}))
	assert.ErrorIs(t, m.RegisterMiddlewares(), types.ErrMiddlewareOrderInvalid)
}

// TestManagerFrozenAfterFinalize verifies late registration fails.
func TestManagerFrozenAfterFinalize(t *testing.T) {
	t.Parallel()

	var trail []string
	m, err := NewManager(nil, logger.NewNop(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.RegisterMiddlewares())

	assert.ErrorIs(t, m.Register(&recorder{name: "late", trail: &trail}), types.ErrMiddlewareOrderInvalid)

	m.Clear()
	assert.NoError(t, m.Register(&recorder{name: "late", trail: &trail}))
}

// TestManagerRegistersConfiguredBuiltins verifies enabled built-ins and route opt-outs.
func TestManagerRegistersConfiguredBuiltins(t *testing.T) {
	t.Parallel()

	cm, err := config.NewFromBytes([]byte("name: svc\nversion: 1.0.0\n"))
	require.NoError(t, err)

	m, err := NewManager(cm, logger.NewNop(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.RegisterMiddlewares())
	defer m.Clear()

	names := func(list []types.Middleware) []string {
		out := make([]string, 0, len(list))
		for _, mw := range list {
			out = append(out, mw.Name())
		}
		return out
	}

	assert.Equal(t, []string{"recovery", "metadata", "logging"}, names(m.Ordered(&types.RouteConfig{})))
	assert.Equal(t, []string{"recovery", "metadata"}, names(m.Ordered(&types.RouteConfig{DisabledMiddlewares: []string{"logging"}})))
}

// TestComposeGuardsAndInner verifies guards sit between outer and inner middleware.
func TestComposeGuardsAndInner(t *testing.T) {
	t.Parallel()

	var trail []string
	m, err := NewManager(nil, logger.NewNop(), nil, nil)
	require.NoError(t, err)

	links := []types.Middleware{
		&recorder{name: "cache", inner: true, trail: &trail},
		&recorder{name: "outer", trail: &trail},
	}
	guard := types.NewGuard("check", func(*types.RequestCtx, *types.RouteConfig) error {
		trail = append(trail, "guard")
		return nil
	})

	cfg := &types.RouteConfig{}
	chain := m.Compose(links, []types.Guard{guard}, func(*types.RequestCtx) { trail = append(trail, "handler") }, cfg)

	ctx, _ := newRequest("GET", "/")
	chain(ctx)

	assert.Equal(t, []string{"outer:in", "guard", "cache:in", "handler", "cache:out", "outer:out"}, trail)
}

// TestComposeGuardDenied verifies a denial stops the chain and is counted.
func TestComposeGuardDenied(t *testing.T) {
	t.Parallel()

	mm := newRunningMetrics(t)
	m, err := NewManager(nil, logger.NewNop(), mm, nil)
	require.NoError(t, err)

	var reached bool
	guards := []types.Guard{
		types.NewGuard("plain", func(*types.RequestCtx, *types.RouteConfig) error { return nil }),
		types.NewGuard("admin", func(*types.RequestCtx, *types.RouteConfig) error { return errors.New("admins only") }),
	}

	cfg := &types.RouteConfig{}
	chain := m.Compose(nil, guards, func(*types.RequestCtx) { reached = true }, cfg)

	ctx, fctx := newRequest("GET", "/admin")
	chain(ctx)

	assert.False(t, reached)
	assert.Equal(t, fasthttp.StatusForbidden, fctx.Response.StatusCode())

	failure, ok := types.AsError(ctx.Failure())
	require.True(t, ok)
	assert.Equal(t, types.KindGuardDenied, failure.Kind)
	assert.Equal(t, "admins only", failure.Message)

	assert.Equal(t, float64(1), mm.Counter("guard_denied_total", map[string]string{"guard": "admin"}).Get())
}

// TestComposeGuardKeepsStatus verifies typed guard errors keep their status.
func TestComposeGuardKeepsStatus(t *testing.T) {
	t.Parallel()

	m, err := NewManager(nil, logger.NewNop(), nil, nil)
	require.NoError(t, err)

	guard := types.NewGuard("auth", func(*types.RequestCtx, *types.RouteConfig) error {
		return types.NewUnauthorizedError("token required", "Bearer")
	})

	cfg := &types.RouteConfig{}
	chain := m.Compose(nil, []types.Guard{guard}, func(*types.RequestCtx) {}, cfg)

	ctx, fctx := newRequest("GET", "/")
	chain(ctx)

	assert.Equal(t, fasthttp.StatusUnauthorized, fctx.Response.StatusCode())
	assert.ErrorIs(t, ctx.Failure(), types.ErrAuthRequired)
}
