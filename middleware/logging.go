package middleware

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
)

type LoggingMiddleware struct {
	logger        types.Logger
	metrics       types.MetricsManager
	loggingConfig *LoggingConfig
	weight        int
}

type LoggingConfig struct {
	LogLevel   string `json:"log_level"`
	LogHeaders bool   `json:"log_headers"`
	LogBody    bool   `json:"log_body"`
}

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
	"set-cookie":    true,
}

func NewLoggingMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *LoggingMiddleware {
	loggingConfig := &LoggingConfig{
		LogLevel: "info",
	}
	decodeParams(item, loggingConfig, logger, "logging")

	return &LoggingMiddleware{
		logger:        logger,
		metrics:       metrics,
		loggingConfig: loggingConfig,
		weight:        weightOf(item),
	}
}

func (l *LoggingMiddleware) Name() string { return "logging" }
func (l *LoggingMiddleware) Weight() int  { return l.weight }

func (l *LoggingMiddleware) Handle(ctx *types.RequestCtx, next func(*types.RequestCtx), config *types.RouteConfig) {
	start := time.Now()

	l.logRequest(ctx)

	next(ctx)

	l.logResponse(ctx, config, time.Since(start))
}

func (l *LoggingMiddleware) logRequest(ctx *types.RequestCtx) {
	fields := []zap.Field{
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.String("remote_addr", remoteAddr(ctx)),
		zap.ByteString("user_agent", ctx.UserAgent()),
	}

	if query := ctx.QueryArgs().QueryString(); len(query) > 0 {
		fields = append(fields, zap.ByteString("query", query))
	}

	if requestID := ctx.RequestID(); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if l.loggingConfig.LogHeaders {
		fields = append(fields, zap.Any("headers", sanitizeHeaders(ctx)))
	}

	l.logWithLevel("Request started", fields...)
}

func (l *LoggingMiddleware) logResponse(ctx *types.RequestCtx, config *types.RouteConfig, duration time.Duration) {
	status := ctx.Response.StatusCode()

	fields := []zap.Field{
		zap.Duration("duration", duration),
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.Int("status", status),
	}

	if config != nil {
		fields = append(fields, zap.String("route", config.Path))
	}

	if requestID := ctx.RequestID(); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if err := ctx.Failure(); err != nil {
		fields = append(fields, zap.Error(err))
	}

	if l.loggingConfig.LogBody {
		if body := ctx.Response.Body(); len(body) > 1000 {
			fields = append(fields, zap.String("response", string(body[:1000])+"..."), zap.Int("response_body_truncated", len(body)))
		} else if len(body) > 0 {
			fields = append(fields, zap.ByteString("response", body))
		}
	}

	switch {
	case status >= 500:
		l.logger.Error("Request completed", fields...)
	case status >= 400:
		l.logger.Warn("Request completed", fields...)
	default:
		l.logWithLevel("Request completed", fields...)
	}
}

func sanitizeHeaders(ctx *types.RequestCtx) map[string]string {
	sanitized := make(map[string]string)

	ctx.Request.Header.VisitAll(func(key, value []byte) {
		keyStr := string(key)
		if sensitiveHeaders[strings.ToLower(keyStr)] {
			sanitized[keyStr] = "[REDACTED]"
		} else {
			sanitized[keyStr] = string(value)
		}
	})

	return sanitized
}

func remoteAddr(ctx *types.RequestCtx) string {
	if realIP, ok := ctx.State()["real_ip"].(string); ok && realIP != "" {
		return realIP
	}

	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-For")); forwarded != "" {
		if comma := strings.Index(forwarded, ","); comma > 0 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return strings.TrimSpace(forwarded)
	}

	if realIP := string(ctx.Request.Header.Peek("X-Real-IP")); realIP != "" {
		return realIP
	}

	return ctx.RemoteIP().String()
}

func (l *LoggingMiddleware) logWithLevel(msg string, fields ...zap.Field) {
	switch l.loggingConfig.LogLevel {
	case "debug":
		l.logger.Debug(msg, fields...)
	case "warn":
		l.logger.Warn(msg, fields...)
	case "error":
		l.logger.Error(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}
}
