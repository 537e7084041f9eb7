package auth_providers

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
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

type challenger interface {
	Challenge() string
}

var _ types.AuthProviderManager = (*AuthProviderManager)(nil)

type AuthProviderManager struct {
	config          types.ConfigManager
	logger          types.Logger
	mu              sync.RWMutex
	providers       map[string]types.AuthProvider
	state           atomic.Int32
	shutdownTimeout time.Duration
}

func NewAuthProviderManager(config types.ConfigManager, logger types.Logger) (*AuthProviderManager, error) {
	manager := &AuthProviderManager{
		config:          config,
		logger:          logger,
		providers:       make(map[string]types.AuthProvider),
		shutdownTimeout: 10 * time.Second,
	}

	if err := manager.initializeDefaultProviders(); err != nil {
		return nil, types.WrapError(err, "failed to initialize auth providers")
	}

	return manager, nil
}

func (pm *AuthProviderManager) Start() error {
	if !pm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	g := new(errgroup.Group)

	pm.mu.RLock()
	for name, provider := range pm.providers {
		startable, ok := provider.(interface{ Start() error })
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := startable.Start(); err != nil {
				pm.logger.Error("Failed to start auth provider", zap.String("provider", name), zap.Error(err))
				return types.WrapError(err, "failed to start provider "+name)
			}
			return nil
		})
	}
	pm.mu.RUnlock()

	if err := g.Wait(); err != nil {
		pm.setState(StateStopped)
		return err
	}

	pm.setState(StateRunning)
	pm.logger.Debug("Auth provider manager started", zap.Strings("providers", pm.Names()))
	return nil
}

func (pm *AuthProviderManager) Stop() error {
	if !pm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}
	defer pm.setState(StateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), pm.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	pm.mu.RLock()
	for name, provider := range pm.providers {
		stoppable, ok := provider.(interface{ Stop() error })
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := stoppable.Stop(); err != nil {
				pm.logger.Error("Failed to stop auth provider", zap.String("provider", name), zap.Error(err))
				return err
			}
			return nil
		})
	}
	pm.mu.RUnlock()

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			pm.logger.Warn("Auth provider manager stop timeout, some providers may not have stopped gracefully")
		default:
			pm.logger.Error("Error during auth provider manager shutdown", zap.Error(err))
		}
	}

	return nil
}

func (pm *AuthProviderManager) IsRunning() bool {
	return State(pm.state.Load()) == StateRunning
}

func (pm *AuthProviderManager) GetProvider(name string) (types.AuthProvider, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if provider, ok := pm.providers[name]; ok {
		return provider, nil
	}
	return nil, types.Errorf(types.ErrAuthProviderNotFound, "provider %s", name)
}

func (pm *AuthProviderManager) Register(name string, provider types.AuthProvider) error {
	if provider == nil {
		return types.Errorf(types.ErrInvalidParameter, "provider %s is nil", name)
	}
	if pm.IsRunning() {
		return types.ErrServerAlreadyRunning
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, ok := pm.providers[name]; ok {
		return types.Errorf(types.ErrAuthProviderExists, "provider %s", name)
	}

	pm.providers[name] = provider
	return nil
}

func (pm *AuthProviderManager) Names() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	names := make([]string, 0, len(pm.providers))
	for name := range pm.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Guard admits a request when any of the named providers accepts it. The
// providers are resolved now, so a typo fails at build time.
func (pm *AuthProviderManager) Guard(names ...string) (types.Guard, error) {
	if len(names) == 0 {
		return nil, types.Errorf(types.ErrInvalidParameter, "at least one auth provider is required")
	}

	providers := make([]types.AuthProvider, 0, len(names))
	for _, name := range names {
		provider, err := pm.GetProvider(name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}

	guardName := "auth:" + names[0]
	for _, name := range names[1:] {
		guardName += "," + name
	}

	return types.NewGuard(guardName, func(ctx *types.RequestCtx, _ *types.RouteConfig) error {
		var first error
		for _, provider := range providers {
			err := provider.ApplyToIncomingRequest(ctx)
			if err == nil {
				return nil
			}
			if first == nil {
				first = err
			}
		}

		if _, ok := types.AsError(first); ok {
			return first
		}

		challenge := ""
		if c, ok := providers[0].(challenger); ok {
			challenge = c.Challenge()
		}
		return types.NewUnauthorizedError(first.Error(), challenge)
	}), nil
}

func (pm *AuthProviderManager) setState(newState State) {
	pm.state.Store(int32(newState))
}

func (pm *AuthProviderManager) transitionState(from, to State) bool {
	return pm.state.CompareAndSwap(int32(from), int32(to))
}

func (pm *AuthProviderManager) initializeDefaultProviders() error {
	if pm.config == nil || pm.config.GetConfig() == nil || pm.config.GetConfig().AuthProviders == nil {
		return nil
	}

	providersConfig := pm.config.GetConfig().AuthProviders

	if token := providersConfig.Token; token != nil && token.Enabled {
		if err := pm.Register("token", NewTokenAuthProvider(token.Header, token.Tokens...)); err != nil {
			return err
		}
	}

	if basic := providersConfig.Basic; basic != nil && basic.Enabled {
		if err := pm.Register("basic", NewBasicAuthProvider(basic.Realm, basic.Users)); err != nil {
			return err
		}
	}

	return nil
}
