package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
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

// FastHTTPServer is the transport in front of a built application. It owns
// the listener only; routing and dispatch live behind handler.
type FastHTTPServer struct {
	logger          types.Logger
	httpConfig      *types.HTTPConfig
	handler         fasthttp.RequestHandler
	server          *fasthttp.Server
	listener        net.Listener
	state           atomic.Int32
	shutdownTimeout time.Duration
}

func NewHTTPServer(httpConfig *types.HTTPConfig, logger types.Logger, handler fasthttp.RequestHandler) (*FastHTTPServer, error) {
	if handler == nil {
		return nil, types.ErrHandlerIsNil
	}
	if httpConfig == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "server.http")
	}

	shutdown := 5 * time.Second
	if httpConfig.ShutdownTimeout > 0 {
		shutdown = time.Duration(httpConfig.ShutdownTimeout) * time.Second
	}

	return &FastHTTPServer{
		logger:          logger,
		httpConfig:      httpConfig,
		handler:         handler,
		shutdownTimeout: shutdown,
	}, nil
}

func (h *FastHTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	h.server = &fasthttp.Server{
		Handler:                      h.handler,
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		MaxRequestBodySize:           h.httpConfig.MaxRequestBody,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		h.setState(StateStopped)
		return types.WrapError(types.Errorf(types.ErrServerStartFailed, "%v", err), "failed to listen")
	}
	h.listener = listener

	go func() {
		err := h.server.Serve(listener)
		if err != nil && h.getState() == StateRunning {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.setState(StateStopped)
		}
	}()

	h.setState(StateRunning)

	h.logger.Info("HTTP server started successfully", zap.String("address", listener.Addr().String()))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer h.setState(StateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := h.server.ShutdownWithContext(gCtx); err != nil {
			return types.Errorf(types.ErrServerStopFailed, "%v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			h.logger.Warn("Server stop timeout, some connections may not have closed gracefully")
		default:
			h.logger.Error("Error during server shutdown", zap.Error(err))
		}
		return err
	}

	h.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

// Addr reports the bound listener address, useful when the port is 0.
func (h *FastHTTPServer) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *FastHTTPServer) getState() State {
	return State(h.state.Load())
}

func (h *FastHTTPServer) setState(newState State) {
	h.state.Store(int32(newState))
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(int32(from), int32(to))
}
