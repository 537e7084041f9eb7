package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-dispatch/types"
)

type ManagerState int32

const (
	ManagerStateStopped ManagerState = iota
	ManagerStateStarting
	ManagerStateRunning
	ManagerStateStopping
)

// Manager fronts the configured backend and hands out no-op instruments
// while it is not running.
type Manager struct {
	logger          types.Logger
	manager         types.MetricsManager
	state           atomic.Int32
	shutdownTimeout time.Duration
}

var customMetricsCreators = sync.Map{}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	customMetricsCreators.Store(metricsManagerName, creator)
}

func NewManager(metricsConfig *types.MetricsConfig, logger types.Logger) (*Manager, error) {
	if metricsConfig == nil || !metricsConfig.Enabled {
		return nil, types.ErrMetricsIsDisabled
	}

	wrapper := &Manager{
		logger:          logger,
		shutdownTimeout: 10 * time.Second,
	}

	if err := wrapper.initializeManager(metricsConfig); err != nil {
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	return wrapper, nil
}

func (w *Manager) initializeManager(metricsConfig *types.MetricsConfig) error {
	metricsManagerName := metricsConfig.Type

	var manager types.MetricsManager
	var err error

	switch metricsManagerName {
	case "prometheus":
		manager, err = NewPrometheusMetrics(w.logger, metricsConfig)
	default:
		creator, exists := customMetricsCreators.Load(metricsManagerName)
		if !exists {
			return types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", metricsManagerName)
		}
		manager, err = creator.(types.MetricsManagerCreator)(metricsConfig)
	}

	if err != nil {
		return err
	}

	w.manager = manager
	w.logger.Info("Metrics manager initialized", zap.String("type", metricsManagerName))
	return nil
}

func (w *Manager) Start() error {
	if !w.transitionState(ManagerStateStopped, ManagerStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := w.manager.Start(); err != nil {
		w.setState(ManagerStateStopped)
		return types.Errorf(types.ErrMetricsStartFailed, "%v", err)
	}

	w.setState(ManagerStateRunning)
	w.logger.Info("Metrics manager started successfully")
	return nil
}

func (w *Manager) Stop() error {
	if !w.transitionState(ManagerStateRunning, ManagerStateStopping) {
		return types.ErrServerNotRunning
	}
	defer w.setState(ManagerStateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		default:
			return w.manager.Stop()
		}
	})

	if err := g.Wait(); err != nil {
		w.logger.Error("Error during metrics manager shutdown", zap.Error(err))
		return nil
	}

	w.logger.Info("Metrics manager stopped gracefully")
	return nil
}

func (w *Manager) IsRunning() bool {
	return ManagerState(w.state.Load()) == ManagerStateRunning
}

func (w *Manager) setState(newState ManagerState) {
	w.state.Store(int32(newState))
}

func (w *Manager) transitionState(from, to ManagerState) bool {
	return w.state.CompareAndSwap(int32(from), int32(to))
}

func (w *Manager) Counter(name string, labels map[string]string) types.Counter {
	if w.IsRunning() {
		return w.manager.Counter(name, labels)
	}
	return emptyCounter{}
}

func (w *Manager) Gauge(name string, labels map[string]string) types.Gauge {
	if w.IsRunning() {
		return w.manager.Gauge(name, labels)
	}
	return emptyGauge{}
}

func (w *Manager) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if w.IsRunning() {
		return w.manager.Histogram(name, buckets, labels)
	}
	return emptyHistogram{}
}

func (w *Manager) Handler() types.FastHTTPHandler {
	return w.manager.Handler()
}

func (w *Manager) GetStats() ([]byte, error) {
	return w.manager.GetStats()
}

type emptyCounter struct{}

func (emptyCounter) Inc()          {}
func (emptyCounter) Add(_ float64) {}
func (emptyCounter) Get() float64  { return 0 }

type emptyGauge struct{}

func (emptyGauge) Set(_ float64) {}
func (emptyGauge) Inc()          {}
func (emptyGauge) Dec()          {}
func (emptyGauge) Add(_ float64) {}
func (emptyGauge) Sub(_ float64) {}
func (emptyGauge) Get() float64  { return 0 }

type emptyHistogram struct{}

func (emptyHistogram) Observe(_ float64)           {}
func (emptyHistogram) ObserveDuration(_ time.Time) {}
func (emptyHistogram) GetCount() uint64            { return 0 }
func (emptyHistogram) GetSum() float64             { return 0 }
