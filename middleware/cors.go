package middleware

import (
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
)

type CORSMiddleware struct {
	logger           types.Logger
	metrics          types.MetricsManager
	corsConfig       *CORSConfig
	weight           int
	allowsAll        bool
	allowedOrigins   map[string]bool
	wildcardDomains  []string
	allowedMethods   string
	allowedHeaders   string
	exposedHeaders   string
	maxAge           string
	allowCredentials bool
}

type CORSConfig struct {
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

func NewCORSMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *CORSMiddleware {
	corsConfig := &CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
		MaxAge:         86400,
	}
	decodeParams(item, corsConfig, logger, "cors")

	c := &CORSMiddleware{
		weight:           weightOf(item),
		logger:           logger,
		metrics:          metrics,
		corsConfig:       corsConfig,
		allowCredentials: corsConfig.AllowCredentials,
	}

	c.precompileConfiguration()

	return c
}

func (c *CORSMiddleware) Name() string { return "cors" }
func (c *CORSMiddleware) Weight() int  { return c.weight }

func (c *CORSMiddleware) Handle(ctx *types.RequestCtx, next func(*types.RequestCtx), _ *types.RouteConfig) {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" {
		next(ctx)
		return
	}

	if !c.isOriginAllowed(origin) {
		c.logger.Warn("CORS request blocked",
			zap.String("origin", origin),
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()))

		ctx.Fail(types.NewGuardDeniedError(fasthttp.StatusForbidden, "origin not allowed"))
		return
	}

	if ctx.IsOptions() && len(ctx.Request.Header.Peek("Access-Control-Request-Method")) > 0 {
		c.writePreflight(ctx, origin)
		return
	}

	c.addCORSHeaders(ctx, origin)
	next(ctx)
}

func (c *CORSMiddleware) isOriginAllowed(origin string) bool {
	if c.allowsAll || c.allowedOrigins[origin] {
		return true
	}

	for _, domain := range c.wildcardDomains {
		if matchesWildcardDomain(origin, domain) {
			return true
		}
	}

	return false
}

// matchesWildcardDomain reports whether origin is a subdomain of domain,
// ignoring the scheme.
func matchesWildcardDomain(origin, domain string) bool {
	if i := strings.Index(origin, "://"); i >= 0 {
		origin = origin[i+3:]
	}
	return strings.HasSuffix(origin, "."+domain) && len(origin) > len(domain)+1
}

func (c *CORSMiddleware) allowOrigin(ctx *types.RequestCtx, origin string) {
	if c.allowsAll && !c.allowCredentials {
		ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	} else {
		ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
	}

	if c.allowCredentials {
		ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
	}
}

func (c *CORSMiddleware) addCORSHeaders(ctx *types.RequestCtx, origin string) {
	c.allowOrigin(ctx, origin)

	if c.exposedHeaders != "" {
		ctx.Response.Header.Set("Access-Control-Expose-Headers", c.exposedHeaders)
	}

	ctx.Response.Header.Add("Vary", "Origin")
}

func (c *CORSMiddleware) writePreflight(ctx *types.RequestCtx, origin string) {
	c.allowOrigin(ctx, origin)

	ctx.Response.Header.Set("Access-Control-Allow-Methods", c.allowedMethods)
	ctx.Response.Header.Set("Access-Control-Allow-Headers", c.allowedHeaders)
	ctx.Response.Header.Set("Access-Control-Max-Age", c.maxAge)
	ctx.Response.Header.Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")

	ctx.Response.ResetBody()
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (c *CORSMiddleware) precompileConfiguration() {
	c.allowsAll = len(c.corsConfig.AllowedOrigins) == 1 && c.corsConfig.AllowedOrigins[0] == "*"

	c.allowedOrigins = make(map[string]bool, len(c.corsConfig.AllowedOrigins))
	for _, origin := range c.corsConfig.AllowedOrigins {
		if strings.HasPrefix(origin, "*.") {
			c.wildcardDomains = append(c.wildcardDomains, strings.TrimPrefix(origin, "*."))
		} else {
			c.allowedOrigins[origin] = true
		}
	}

	c.allowedMethods = strings.Join(c.corsConfig.AllowedMethods, ", ")
	c.allowedHeaders = strings.Join(c.corsConfig.AllowedHeaders, ", ")
	c.exposedHeaders = strings.Join(c.corsConfig.ExposedHeaders, ", ")
	c.maxAge = strconv.Itoa(c.corsConfig.MaxAge)
}
