package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-dispatch/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager owns the process logger and flushes it on stop.
type Manager struct {
	logger          types.Logger
	state           atomic.Int32
	shutdownTimeout time.Duration
}

var (
	creatorsMu           sync.RWMutex
	customLoggerCreators = make(map[string]types.LoggerCreator)
)

func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	creatorsMu.Lock()
	defer creatorsMu.Unlock()
	customLoggerCreators[loggerName] = creator
}

func NewManager(loggerConfig *types.LoggerConfig) (types.LoggerManager, error) {
	if loggerConfig == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	logger, err := createLogger(loggerConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	return &Manager{
		logger:          logger,
		shutdownTimeout: 10 * time.Second,
	}, nil
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}
	m.setState(StateRunning)
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}
	defer m.setState(StateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		default:
			if syncer, hasSyncer := m.logger.(interface{ Sync() error }); hasSyncer {
				_ = syncer.Sync()
			}
			return nil
		}
	})

	return g.Wait()
}

func (m *Manager) IsRunning() bool {
	return State(m.state.Load()) == StateRunning
}

func (m *Manager) Error(msg string, fields ...zap.Field) {
	m.logger.Error(msg, fields...)
}

func (m *Manager) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	m.logger.ErrorWithErrStack(msg, err, fields...)
}

func (m *Manager) ErrorWithStack(msg string, stack string, fields ...zap.Field) {
	m.logger.ErrorWithStack(msg, stack, fields...)
}

func (m *Manager) Warn(msg string, fields ...zap.Field) {
	m.logger.Warn(msg, fields...)
}

func (m *Manager) Info(msg string, fields ...zap.Field) {
	m.logger.Info(msg, fields...)
}

func (m *Manager) Debug(msg string, fields ...zap.Field) {
	m.logger.Debug(msg, fields...)
}

func (m *Manager) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	m.logger.Log(lvl, msg, fields...)
}

func (m *Manager) setState(newState State) {
	m.state.Store(int32(newState))
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(int32(from), int32(to))
}

func createLogger(loggerConfig *types.LoggerConfig) (types.Logger, error) {
	loggerName := "default"
	if loggerConfig.Type != "" {
		loggerName = loggerConfig.Type
	}

	switch loggerName {
	case "default":
		return NewDefaultLogger(loggerConfig)
	case "nop":
		return NewNop(), nil
	default:
		creatorsMu.RLock()
		creator, exists := customLoggerCreators[loggerName]
		creatorsMu.RUnlock()
		if !exists {
			return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", loggerName)
		}
		return creator(loggerConfig.Config)
	}
}
