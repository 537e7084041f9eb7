package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
)

var (
	ErrRouteInvalidTemplate = errors.New("route invalid template")
	ErrRouteAmbiguous       = errors.New("route ambiguous")
	ErrRouteMethodInvalid   = errors.New("route method invalid")
	ErrRouteTreeFrozen      = errors.New("route tree frozen")
	ErrBuildFailed          = errors.New("application build failed")
	ErrAlreadyBuilt         = errors.New("application already built")
)

var (
	ErrSignatureInvalid      = errors.New("signature invalid")
	ErrParamDuplicate        = errors.New("parameter declared twice")
	ErrParamMissing          = errors.New("parameter missing")
	ErrParamInvalid          = errors.New("parameter invalid")
	ErrParamKindUnknown      = errors.New("parameter kind unknown")
	ErrPathParamUnbound      = errors.New("path parameter unbound")
	ErrBodyNotAllowed        = errors.New("body not allowed")
	ErrDependencyUndeclared  = errors.New("dependency undeclared")
	ErrDependencyCycle       = errors.New("dependency cycle")
	ErrDependencyFailed      = errors.New("dependency failed")
	ErrDependencyScope       = errors.New("dependency scope invalid")
	ErrProviderIsNil         = errors.New("provider is nil")
	ErrCodecNotFound         = errors.New("codec not found")
	ErrCodecDecodeFailed     = errors.New("codec decode failed")
	ErrCodecEncodeFailed     = errors.New("codec encode failed")
	ErrRequestTimeout        = errors.New("request timeout")
	ErrRequestCancelled      = errors.New("request cancelled")
	ErrHandlerPanic          = errors.New("handler panic")
	ErrResponseBodyForbidden = errors.New("response body forbidden")
)

var (
	ErrMiddlewareInvalidType  = errors.New("middleware invalid type")
	ErrMiddlewareOrderInvalid = errors.New("middleware order invalid")
	ErrGuardIsNil             = errors.New("guard is nil")
	ErrAuthTokenInvalid       = errors.New("auth token invalid")
	ErrAuthRequired           = errors.New("authentication required")
	ErrAuthProviderNotFound   = errors.New("auth provider not found")
	ErrAuthProviderExists     = errors.New("auth provider exists")
	ErrBodyTooLarge           = errors.New("body too large")
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheOperationFailed  = errors.New("cache operation failed")
	ErrCacheIsDisabled       = errors.New("cache manager is disabled")
)

var (
	ErrMetricsTypeUnknown   = errors.New("metrics type unknown")
	ErrMetricsStartFailed   = errors.New("metrics start failed")
	ErrMetricsConfigInvalid = errors.New("metrics config invalid")
	ErrMetricsIsDisabled    = errors.New("metrics manager is disabled")
)

var (
	ErrHealthCheckTimeout = errors.New("health check timeout")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrPermissionDenied = errors.New("permission denied")
	ErrResourceNotFound = errors.New("resource not found")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrInvalidState     = errors.New("invalid state")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
