package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-dispatch/dispatch"
	"github.com/saiset-co/sai-dispatch/documentations"
	"github.com/saiset-co/sai-dispatch/server"
	"github.com/saiset-co/sai-dispatch/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type component struct {
	name    string
	manager types.LifecycleManager
}

// Application is the built, immutable engine. Handle is safe for concurrent
// use and takes no locks.
type Application struct {
	config     types.ConfigManager
	logger     types.Logger
	dispatcher *dispatch.Dispatcher
	tree       *server.Tree
	docs       *documentations.DocumentationManager
	httpConfig *types.HTTPConfig

	components []component
	started    []component
	http       *server.FastHTTPServer
	mu         sync.Mutex
	state      atomic.Int32
}

// Handle serves one request. It is a fasthttp.RequestHandler.
func (a *Application) Handle(ctx *fasthttp.RequestCtx) {
	a.dispatcher.Handle(ctx)
}

// Routes lists the registered routes in registration order. The nodes are
// read-only.
func (a *Application) Routes() []*server.RouteNode {
	if a.tree == nil {
		return nil
	}
	return a.tree.Routes()
}

func (a *Application) Match(method, path string) (*server.Match, error) {
	return a.tree.Match(method, path)
}

func (a *Application) Config() types.ConfigManager {
	return a.config
}

// Addr reports the HTTP listener address while the application is running.
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// Start starts the components the application owns, then the HTTP server
// when server.http is configured.
func (a *Application) Start() error {
	if !a.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range a.components {
		if c.manager.IsRunning() {
			continue
		}
		if err := c.manager.Start(); err != nil {
			a.logger.Error("Failed to start component", zap.String("component", c.name), zap.Error(err))
			a.stopComponents()
			a.setState(StateStopped)
			return types.WrapError(err, "failed to start "+c.name)
		}
		a.started = append(a.started, c)
	}

	if a.httpConfig != nil {
		srv, err := server.NewHTTPServer(a.httpConfig, a.logger, a.Handle)
		if err == nil {
			err = srv.Start()
		}
		if err != nil {
			a.stopComponents()
			a.setState(StateStopped)
			return types.WrapError(err, "failed to start http server")
		}
		a.http = srv
	}

	a.setState(StateRunning)
	a.logger.Info("Application started", zap.Int("components", len(a.started)), zap.Int("routes", len(a.Routes())))
	return nil
}

// Stop stops the HTTP server first, then every component Start started.
func (a *Application) Stop() error {
	if !a.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}
	defer a.setState(StateStopped)

	a.mu.Lock()
	defer a.mu.Unlock()

	var httpErr error
	if a.http != nil {
		httpErr = a.http.Stop()
		a.http = nil
	}

	if err := a.stopComponents(); err != nil {
		return err
	}
	if httpErr != nil {
		return types.WrapError(httpErr, "failed to stop http server")
	}

	a.logger.Info("Application stopped")
	return nil
}

func (a *Application) IsRunning() bool {
	return State(a.state.Load()) == StateRunning
}

// stopComponents stops the started components concurrently. The logger is
// stopped last so the others can still log.
func (a *Application) stopComponents() error {
	var loggerComponent *component

	g := new(errgroup.Group)
	for i := range a.started {
		c := a.started[i]
		if c.name == "logger" {
			loggerComponent = &c
			continue
		}
		g.Go(func() error {
			if err := c.manager.Stop(); err != nil {
				a.logger.Error("Failed to stop component", zap.String("component", c.name), zap.Error(err))
				return types.WrapError(err, "failed to stop "+c.name)
			}
			return nil
		})
	}
	err := g.Wait()

	if loggerComponent != nil {
		_ = loggerComponent.manager.Stop()
	}
	a.started = nil
	return err
}

// own records a collaborator whose lifecycle follows the application.
func (a *Application) own(name string, v interface{}) {
	if v == nil {
		return
	}
	if lm, ok := v.(types.LifecycleManager); ok {
		a.components = append(a.components, component{name: name, manager: lm})
	}
}

// check reports the dispatch engine in the health report.
func (a *Application) check(context.Context) types.HealthCheck {
	status := types.StatusHealthy
	if a.tree == nil {
		status = types.StatusUnhealthy
	}
	return types.HealthCheck{
		Name:      "dispatch",
		Status:    status,
		LastCheck: time.Now(),
		Details: map[string]interface{}{
			"routes": len(a.Routes()),
		},
	}
}

func (a *Application) setState(newState State) {
	a.state.Store(int32(newState))
}

func (a *Application) transitionState(from, to State) bool {
	return a.state.CompareAndSwap(int32(from), int32(to))
}
