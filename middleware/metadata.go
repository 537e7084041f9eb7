package middleware

import (
	"strings"

	"github.com/google/uuid"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

// MetadataMiddleware lifts well-known headers into request state and makes
// sure every request carries an ID.
type MetadataMiddleware struct {
	logger         types.Logger
	metrics        types.MetricsManager
	metadataConfig *MetadataConfig
	weight         int
}

type MetadataConfig struct {
	GenerateRequestID bool              `json:"generate_request_id"`
	Headers           map[string]string `json:"headers"`
}

var defaultMetadataHeaders = map[string]string{
	"X-User-ID":   "user_id",
	"X-Trace-ID":  "trace_id",
	"X-Client-ID": "client_id",
}

func NewMetadataMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *MetadataMiddleware {
	metadataConfig := &MetadataConfig{
		GenerateRequestID: true,
	}
	decodeParams(item, metadataConfig, logger, "metadata")

	if len(metadataConfig.Headers) == 0 {
		metadataConfig.Headers = defaultMetadataHeaders
	}

	return &MetadataMiddleware{
		logger:         logger,
		metrics:        metrics,
		metadataConfig: metadataConfig,
		weight:         weightOf(item),
	}
}

func (m *MetadataMiddleware) Name() string { return "metadata" }
func (m *MetadataMiddleware) Weight() int  { return m.weight }

func (m *MetadataMiddleware) Handle(ctx *types.RequestCtx, next func(*types.RequestCtx), _ *types.RouteConfig) {
	state := ctx.State()

	requestID := string(ctx.Request.Header.Peek(utils.RequestIDHeader))
	if requestID == "" && m.metadataConfig.GenerateRequestID {
		requestID = uuid.NewString()
		ctx.Request.Header.Set(utils.RequestIDHeader, requestID)
	}
	if requestID != "" {
		state["request_id"] = requestID
	}

	for header, key := range m.metadataConfig.Headers {
		if value := ctx.Request.Header.Peek(header); len(value) > 0 {
			state[key] = string(value)
		}
	}

	state["real_ip"] = realIP(ctx)

	next(ctx)

	if requestID != "" {
		ctx.Response.Header.Set(utils.RequestIDHeader, requestID)
	}
}

func realIP(ctx *types.RequestCtx) string {
	if realIP := string(ctx.Request.Header.Peek("X-Real-IP")); realIP != "" {
		return realIP
	}

	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-For")); forwarded != "" {
		if comma := strings.Index(forwarded, ","); comma > 0 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return strings.TrimSpace(forwarded)
	}

	return ctx.RemoteIP().String()
}
