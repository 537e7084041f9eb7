package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-dispatch/config"
	"github.com/saiset-co/sai-dispatch/logger"
	"github.com/saiset-co/sai-dispatch/types"
)

func newManager(t *testing.T) *Manager {
	t.Helper()

	cfg := config.Defaults()
	cfg.Name = "orders"
	cfg.Version = "1.2.3"
	cm, err := config.NewFromConfig(cfg)
	require.NoError(t, err)

	m, err := NewManager(context.Background(), cm, logger.NewNop())
	require.NoError(t, err)
	return m
}

// TestCheckAggregatesStatus verifies one failing checker marks the report unhealthy.
func TestCheckAggregatesStatus(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.RegisterChecker("db", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	m.RegisterChecker("queue", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "down"}
	})
	m.RegisterChecker("flaky", func(context.Context) types.HealthCheck {
		panic("checker bug")
	})

	report := m.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Healthy)
	assert.Equal(t, 2, report.Summary.Unhealthy)
	assert.Equal(t, "db", report.Checks["db"].Name)
	assert.Contains(t, report.Checks["flaky"].Message, "panicked")
	assert.Equal(t, "orders", report.Service.Name)
}

// TestCheckTimeout verifies a slow checker is reported unhealthy instead of blocking.
func TestCheckTimeout(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.checkTimeout = 20 * time.Millisecond
	m.RegisterChecker("slow", func(context.Context) types.HealthCheck {
		<-time.After(time.Second)
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := m.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Checks["slow"].Status)
	assert.Equal(t, types.ErrHealthCheckTimeout.Error(), report.Checks["slow"].Message)
}

// TestReport verifies the route handler status follows the overall health.
func TestReport(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	_, err := m.Report(context.Background(), nil)
	te, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, te.Status)

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)

	result, err := m.Report(context.Background(), nil)
	require.NoError(t, err)
	resp := result.(*types.Response)
	assert.Equal(t, fasthttp.StatusOK, resp.Status)

	m.RegisterChecker("disk", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy}
	})
	result, err = m.Report(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, result.(*types.Response).Status)
}

// TestVersion verifies the version route reports the configured service.
func TestVersion(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	result, err := m.Version(context.Background(), nil)
	require.NoError(t, err)

	info := result.(VersionInfo)
	assert.Equal(t, "orders", info.Service)
	assert.Equal(t, "1.2.3", info.Version)
	assert.NotEmpty(t, info.Build.GoVersion)
}
