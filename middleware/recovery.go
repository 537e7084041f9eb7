package middleware

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type RecoveryMiddleware struct {
	logger         types.Logger
	metrics        types.MetricsManager
	recoveryConfig *RecoveryConfig
	weight         int
	panicLabels    map[string]string
}

type RecoveryConfig struct {
	StackTrace bool `json:"stack_trace"`
}

func NewRecoveryMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *RecoveryMiddleware {
	recoveryConfig := &RecoveryConfig{
		StackTrace: true,
	}
	decodeParams(item, recoveryConfig, logger, "recovery")

	return &RecoveryMiddleware{
		weight:         weightOf(item),
		logger:         logger,
		metrics:        metrics,
		recoveryConfig: recoveryConfig,
		panicLabels: map[string]string{
			"middleware": "recovery",
		},
	}
}

func (r *RecoveryMiddleware) Name() string { return "recovery" }
func (r *RecoveryMiddleware) Weight() int  { return r.weight }

func (r *RecoveryMiddleware) Handle(ctx *types.RequestCtx, next func(*types.RequestCtx), _ *types.RouteConfig) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logPanic(rec, ctx)

			if r.metrics != nil {
				r.metrics.Counter("panics_total", r.panicLabels).Inc()
			}

			ctx.Fail(types.NewHandlerError(types.Errorf(types.ErrHandlerPanic, "%v", rec)))
		}
	}()

	next(ctx)
}

func (r *RecoveryMiddleware) logPanic(rec interface{}, ctx *types.RequestCtx) {
	fields := []zap.Field{
		zap.Any("panic", rec),
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.String("remote_addr", ctx.RemoteIP().String()),
	}

	if requestID := ctx.RequestID(); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if r.recoveryConfig.StackTrace {
		r.logger.ErrorWithStack("Recovered from panic", stackTrace(), fields...)
		return
	}

	r.logger.Error("Recovered from panic", fields...)
}

func stackTrace() string {
	buf := make([]byte, 4096)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) || len(buf) >= 64*1024 {
			return utils.BytesToString(buf[:n])
		}
		buf = make([]byte, len(buf)*4)
	}
}
