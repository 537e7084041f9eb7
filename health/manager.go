package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const defaultCheckTimeout = 5 * time.Second

var _ types.HealthManager = (*Manager)(nil)

// Manager runs the registered health checkers and serves their report as
// an ordinary engine route.
type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	service      types.ServiceInfo
	logger       types.Logger
	checkers     map[string]types.HealthChecker
	startTime    time.Time
	mu           sync.RWMutex
	state        atomic.Int32
	checkTimeout time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (*Manager, error) {
	if logger == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "logger is required")
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		logger:       logger,
		checkers:     make(map[string]types.HealthChecker),
		checkTimeout: defaultCheckTimeout,
	}

	if config != nil && config.GetConfig() != nil {
		cfg := config.GetConfig()
		manager.service = types.ServiceInfo{Name: cfg.Name, Version: cfg.Version}
		if cfg.Server != nil && cfg.Server.HTTP != nil {
			manager.service.Host = cfg.Server.HTTP.Host
			manager.service.Port = cfg.Server.HTTP.Port
		}
	}

	return manager, nil
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

// Check runs every checker concurrently, each bounded by the check timeout.
func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	g, gCtx := errgroup.WithContext(ctx)
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		g.Go(func() error {
			result := hm.executeCheck(gCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		hm.logger.Error("Error during health checks", zap.Error(err))
	}

	return hm.buildReport(results)
}

// Report is the handler of the health route: 200 when healthy, 503 otherwise.
func (hm *Manager) Report(ctx context.Context, _ *signature.BoundCall) (interface{}, error) {
	if !hm.IsRunning() {
		return nil, types.NewHTTPError(fasthttp.StatusServiceUnavailable, "health manager is not running")
	}

	report := hm.Check(ctx)

	status := fasthttp.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = fasthttp.StatusServiceUnavailable
	}

	return types.NewResponse(status, report).WithHeader("Cache-Control", "no-cache"), nil
}

// Version is the handler of the version route.
func (hm *Manager) Version(context.Context, *signature.BoundCall) (interface{}, error) {
	return VersionInfo{
		Service: hm.service.Name,
		Version: hm.service.Version,
		Build:   readBuildInfo(),
	}, nil
}

func (hm *Manager) Start() error {
	if !hm.transitionState(StateStopped, StateStarting) {
		hm.logger.Warn("Health manager is already running")
		return types.ErrServerAlreadyRunning
	}

	hm.startTime = time.Now()
	hm.setState(StateRunning)

	hm.logger.Info("Health manager started", zap.Int("checkers", hm.checkerCount()))
	return nil
}

func (hm *Manager) Stop() error {
	if !hm.transitionState(StateRunning, StateStopping) {
		hm.logger.Warn("Health manager is not running")
		return types.ErrServerNotRunning
	}

	hm.cancel()
	hm.setState(StateStopped)

	hm.logger.Info("Health manager stopped gracefully")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.getState() == StateRunning
}

func (hm *Manager) checkerCount() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.checkers)
}

func (hm *Manager) getState() State {
	return State(hm.state.Load())
}

func (hm *Manager) setState(newState State) {
	hm.state.Store(int32(newState))
}

func (hm *Manager) transitionState(from, to State) bool {
	return hm.state.CompareAndSwap(int32(from), int32(to))
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: fmt.Sprintf("Health check panicked: %v", r),
				}
			}
		}()

		resultChan <- checker(checkCtx)
	}()

	var result types.HealthCheck
	select {
	case result = <-resultChan:
	case <-hm.ctx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "Health manager shutting down"}
	case <-checkCtx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: types.ErrHealthCheckTimeout.Error()}
	}

	result.Name = name
	result.LastCheck = time.Now()
	result.Duration = time.Since(start)
	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	summary := types.HealthSummary{
		Total: len(results),
	}

	overallStatus := types.StatusHealthy
	for _, result := range results {
		switch result.Status {
		case types.StatusHealthy:
			summary.Healthy++
		case types.StatusUnhealthy:
			summary.Unhealthy++
			overallStatus = types.StatusUnhealthy
		default:
			summary.Unknown++
			if overallStatus == types.StatusHealthy {
				overallStatus = types.StatusUnknown
			}
		}
	}

	return types.HealthReport{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		Service:   hm.service,
		Checks:    results,
		Summary:   summary,
	}
}
