package middleware

import (
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-dispatch/types"
)

type BodyLimitMiddleware struct {
	logger          types.Logger
	metrics         types.MetricsManager
	bodyLimitConfig *BodyLimitConfig
	weight          int
	labels          map[string]string
}

type BodyLimitConfig struct {
	MaxBodySize int64 `json:"max_body_size"`
}

func NewBodyLimitMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *BodyLimitMiddleware {
	bodyLimitConfig := &BodyLimitConfig{
		MaxBodySize: 1024 * 1024,
	}
	decodeParams(item, bodyLimitConfig, logger, "body_limit")

	return &BodyLimitMiddleware{
		logger:          logger,
		metrics:         metrics,
		bodyLimitConfig: bodyLimitConfig,
		weight:          weightOf(item),
		labels:          map[string]string{"middleware": "body_limit"},
	}
}

func (bl *BodyLimitMiddleware) Name() string { return "body_limit" }
func (bl *BodyLimitMiddleware) Weight() int  { return bl.weight }

func (bl *BodyLimitMiddleware) Handle(ctx *types.RequestCtx, next func(*types.RequestCtx), _ *types.RouteConfig) {
	size := int64(ctx.Request.Header.ContentLength())
	if size <= 0 {
		size = int64(len(ctx.PostBody()))
	}

	if size > bl.bodyLimitConfig.MaxBodySize {
		if bl.metrics != nil {
			bl.metrics.Counter("requests_rejected_total", bl.labels).Inc()
		}
		ctx.SetConnectionClose()
		ctx.Fail(&types.Error{
			Kind:    types.KindValidation,
			Status:  fasthttp.StatusRequestEntityTooLarge,
			Message: "request body exceeds the allowed size",
			Err:     types.Errorf(types.ErrBodyTooLarge, "%d > %d", size, bl.bodyLimitConfig.MaxBodySize),
		})
		return
	}

	next(ctx)
}
