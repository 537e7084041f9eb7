package middleware

import (
	"bytes"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-dispatch/types"
)

const (
	AlgorithmGzip    = "gzip"
	AlgorithmDeflate = "deflate"
	AlgorithmBrotli  = "br"
	DefaultLevel     = 6
	DefaultThreshold = 1024
)

// CompressionMiddleware encodes response bodies after the handler ran,
// choosing the first preferred algorithm the client accepts.
type CompressionMiddleware struct {
	logger            types.Logger
	metrics           types.MetricsManager
	compressionConfig *CompressionConfig
	weight            int
	labels            map[string]map[string]string
}

type CompressionConfig struct {
	Algorithms   []string `json:"algorithms"`
	Level        int      `json:"level"`
	Threshold    int      `json:"threshold"`
	AllowedTypes []string `json:"allowed_types"`
}

func NewCompressionMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *CompressionMiddleware {
	compressionConfig := &CompressionConfig{
		Algorithms: []string{AlgorithmBrotli, AlgorithmGzip, AlgorithmDeflate},
		Level:      DefaultLevel,
		Threshold:  DefaultThreshold,
		AllowedTypes: []string{
			"application/json",
			"application/x-yaml",
			"application/xml",
			"application/javascript",
			"text/*",
		},
	}
	decodeParams(item, compressionConfig, logger, "compression")

	if compressionConfig.Level < 1 || compressionConfig.Level > 9 {
		compressionConfig.Level = DefaultLevel
	}

	labels := make(map[string]map[string]string, len(compressionConfig.Algorithms))
	for _, algorithm := range compressionConfig.Algorithms {
		labels[algorithm] = map[string]string{"algorithm": algorithm}
	}

	return &CompressionMiddleware{
		weight:            weightOf(item),
		logger:            logger,
		metrics:           metrics,
		compressionConfig: compressionConfig,
		labels:            labels,
	}
}

func (c *CompressionMiddleware) Name() string { return "compression" }
func (c *CompressionMiddleware) Weight() int  { return c.weight }

func (c *CompressionMiddleware) Handle(ctx *types.RequestCtx, next func(*types.RequestCtx), _ *types.RouteConfig) {
	next(ctx)

	algorithm := c.negotiate(ctx.Request.Header.Peek(fasthttp.HeaderAcceptEncoding))
	if algorithm == "" || !c.compressible(ctx) {
		return
	}

	body := ctx.Response.Body()
	compressed := c.compress(algorithm, body)
	if compressed == nil || len(compressed) >= len(body) {
		return
	}

	ctx.Response.SetBodyRaw(compressed)
	ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, algorithm)
	ctx.Response.Header.Add(fasthttp.HeaderVary, fasthttp.HeaderAcceptEncoding)

	if c.metrics != nil {
		c.metrics.Counter("responses_compressed_total", c.labels[algorithm]).Inc()
	}
}

func (c *CompressionMiddleware) negotiate(accept []byte) string {
	if len(accept) == 0 {
		return ""
	}

	offered := make(map[string]bool)
	for _, part := range strings.Split(string(accept), ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.Contains(strings.ReplaceAll(params, " ", ""), "q=0") && !strings.Contains(params, "q=0.") {
			continue
		}
		offered[strings.ToLower(name)] = true
	}

	for _, algorithm := range c.compressionConfig.Algorithms {
		if offered[algorithm] || offered["*"] {
			return algorithm
		}
	}
	return ""
}

func (c *CompressionMiddleware) compressible(ctx *types.RequestCtx) bool {
	if len(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)) > 0 {
		return false
	}
	if len(ctx.Response.Body()) < c.compressionConfig.Threshold {
		return false
	}

	contentType := string(ctx.Response.Header.ContentType())
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}

	for _, allowed := range c.compressionConfig.AllowedTypes {
		if strings.HasSuffix(allowed, "/*") && strings.HasPrefix(contentType, strings.TrimSuffix(allowed, "*")) {
			return true
		}
		if contentType == allowed {
			return true
		}
	}
	return false
}

func (c *CompressionMiddleware) compress(algorithm string, body []byte) []byte {
	switch algorithm {
	case AlgorithmGzip:
		return fasthttp.AppendGzipBytesLevel(nil, body, c.compressionConfig.Level)
	case AlgorithmDeflate:
		return fasthttp.AppendDeflateBytesLevel(nil, body, c.compressionConfig.Level)
	case AlgorithmBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, c.compressionConfig.Level)
		if _, err := w.Write(body); err != nil {
			return nil
		}
		if err := w.Close(); err != nil {
			return nil
		}
		return buf.Bytes()
	default:
		return nil
	}
}
