package documentations

import (
	"context"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/codec"
	"github.com/saiset-co/sai-dispatch/server"
	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

const openAPIVersion = "3.0.3"

// RouteSource lists the routes to describe. It is called after the
// application is built and must return read-only nodes.
type RouteSource func() []*server.RouteNode

var securitySchemes = map[string]string{
	"token": "BearerAuth",
	"basic": "BasicAuth",
}

var _ types.DocumentationManager = (*DocumentationManager)(nil)

type DocumentationManager struct {
	config  types.ConfigManager
	logger  types.Logger
	routes  RouteSource
	mu      sync.RWMutex
	spec    *types.OpenAPISpec
	running atomic.Bool
}

func NewDocumentationManager(config types.ConfigManager, logger types.Logger, routes RouteSource) (*DocumentationManager, error) {
	if logger == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "logger is required")
	}
	if routes == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "route source is required")
	}

	return &DocumentationManager{
		config: config,
		logger: logger,
		routes: routes,
	}, nil
}

func (dm *DocumentationManager) Start() error {
	if !dm.running.CompareAndSwap(false, true) {
		dm.logger.Warn("Documentation manager is already running")
		return types.ErrServerAlreadyRunning
	}

	dm.Generate()
	dm.logger.Info("Documentation manager started")
	return nil
}

func (dm *DocumentationManager) Stop() error {
	if !dm.running.CompareAndSwap(true, false) {
		dm.logger.Warn("Documentation manager is not running")
		return types.ErrServerNotRunning
	}
	return nil
}

func (dm *DocumentationManager) IsRunning() bool {
	return dm.running.Load()
}

// GetSpec returns the generated document, generating it on first use.
func (dm *DocumentationManager) GetSpec() *types.OpenAPISpec {
	dm.mu.RLock()
	spec := dm.spec
	dm.mu.RUnlock()

	if spec != nil {
		return spec
	}
	return dm.Generate()
}

// Handler serves the document as an engine route.
func (dm *DocumentationManager) Handler(context.Context, *signature.BoundCall) (interface{}, error) {
	return dm.GetSpec(), nil
}

// Generate rebuilds the document from the current route list.
func (dm *DocumentationManager) Generate() *types.OpenAPISpec {
	routes := dm.routes()

	spec := &types.OpenAPISpec{
		OpenAPI: openAPIVersion,
		Info:    dm.info(),
		Servers: dm.servers(),
		Paths:   make(map[string]*types.RoutePathItem),
		Components: &types.SpecComponents{
			Schemas:         map[string]*types.RouteSchema{"Error": errorSchema()},
			SecuritySchemes: dm.securitySchemes(),
		},
	}

	tags := make(map[string]bool)
	operations := 0

	for _, route := range routes {
		config := route.Config()
		if config.Doc != nil && config.Doc.Hidden {
			continue
		}

		op := operation(route)
		for _, tag := range op.Tags {
			tags[tag] = true
		}

		path := openAPIPath(route.Template())
		item, ok := spec.Paths[path]
		if !ok {
			item = &types.RoutePathItem{}
			spec.Paths[path] = item
		}
		if setOperation(item, route.Method(), op) {
			operations++
		}
	}

	for tag := range tags {
		spec.Tags = append(spec.Tags, tag)
	}
	sort.Strings(spec.Tags)

	dm.mu.Lock()
	dm.spec = spec
	dm.mu.Unlock()

	dm.logger.Info("OpenAPI documentation generated",
		zap.Int("routes", len(routes)),
		zap.Int("operations", operations),
		zap.Int("paths", len(spec.Paths)))

	return spec
}

func (dm *DocumentationManager) info() types.SpecInfo {
	info := types.SpecInfo{Title: "API", Version: "dev"}
	if dm.config == nil || dm.config.GetConfig() == nil {
		return info
	}

	cfg := dm.config.GetConfig()
	info.Title = cfg.Name
	info.Version = cfg.Version
	info.Description = cfg.Name + " API documentation"
	return info
}

func (dm *DocumentationManager) servers() []types.SpecServer {
	if dm.config == nil || dm.config.GetConfig() == nil || dm.config.GetConfig().Server == nil || dm.config.GetConfig().Server.HTTP == nil {
		return nil
	}

	http := dm.config.GetConfig().Server.HTTP
	return []types.SpecServer{{
		URL:         "http://" + http.Host + ":" + strconv.Itoa(http.Port),
		Description: "HTTP server",
	}}
}

func (dm *DocumentationManager) securitySchemes() map[string]*types.RouteSecurityScheme {
	schemes := map[string]*types.RouteSecurityScheme{}
	if dm.config == nil || dm.config.GetConfig() == nil || dm.config.GetConfig().AuthProviders == nil {
		return schemes
	}

	providers := dm.config.GetConfig().AuthProviders
	if providers.Token != nil && providers.Token.Enabled {
		header := providers.Token.Header
		if header == "" || strings.EqualFold(header, "Authorization") {
			schemes["BearerAuth"] = &types.RouteSecurityScheme{Type: "http", Scheme: "bearer"}
		} else {
			schemes["BearerAuth"] = &types.RouteSecurityScheme{Type: "apiKey", In: "header", Name: header}
		}
	}
	if providers.Basic != nil && providers.Basic.Enabled {
		schemes["BasicAuth"] = &types.RouteSecurityScheme{Type: "http", Scheme: "basic"}
	}
	return schemes
}

func operation(route *server.RouteNode) *types.RouteOperation {
	config := route.Config()

	op := &types.RouteOperation{
		OperationID: config.Name,
		Tags:        append([]string(nil), config.Tags...),
		Responses:   make(map[string]*types.RouteResponse),
	}
	if op.OperationID == "" {
		op.OperationID = operationID(route)
	}

	var responseSchema *types.RouteSchema
	if doc := config.Doc; doc != nil {
		op.Summary = doc.Summary
		op.Description = doc.Description
		op.Deprecated = doc.Deprecated
		op.Tags = append(op.Tags, doc.Tags...)
		if doc.ResponseType != nil {
			responseSchema = typeSchema(doc.ResponseType, map[reflect.Type]bool{})
		}
	}

	mediaType := config.MediaType
	if mediaType == "" {
		mediaType = codec.MediaTypeJSON
	}

	validated := false
	for _, p := range requestParams(route) {
		switch p.Source {
		case signature.SourcePath, signature.SourceQuery, signature.SourceHeader, signature.SourceCookie:
			validated = true
			param := types.RouteParameter{
				Name:     p.WireKey(),
				In:       p.Source.String(),
				Required: p.Required || p.Source == signature.SourcePath,
				Schema:   kindSchema(p.Kind),
			}
			if !p.Required && p.Default != nil {
				param.Example = p.Default
			}
			op.Parameters = append(op.Parameters, param)
		case signature.SourceBody:
			validated = true
			op.RequestBody = &types.RouteRequestBody{
				Required: p.Required,
				Content: map[string]*types.RouteMediaType{
					mediaType: {Schema: typeSchema(p.Type, map[reflect.Type]bool{})},
				},
			}
		}
	}

	status := successStatus(route.Method(), config.StatusCode)
	success := &types.RouteResponse{Description: fasthttp.StatusMessage(status)}
	if status != fasthttp.StatusNoContent {
		schema := responseSchema
		if schema == nil {
			schema = &types.RouteSchema{Type: "object"}
		}
		success.Content = map[string]*types.RouteMediaType{mediaType: {Schema: schema}}
	}
	op.Responses[strconv.Itoa(status)] = success

	errorRef := map[string]*types.RouteMediaType{
		codec.MediaTypeJSON: {Schema: &types.RouteSchema{Ref: "#/components/schemas/Error"}},
	}
	if validated {
		op.Responses["400"] = &types.RouteResponse{Description: "Bad Request", Content: errorRef}
	}

	for _, guard := range route.Guards() {
		if names, ok := strings.CutPrefix(guard.Name(), "auth:"); ok {
			for _, name := range strings.Split(names, ",") {
				if scheme, known := securitySchemes[name]; known {
					op.Security = append(op.Security, map[string][]string{scheme: {}})
				}
			}
			op.Responses["401"] = &types.RouteResponse{Description: "Unauthorized", Content: errorRef}
			continue
		}
		op.Responses["403"] = &types.RouteResponse{Description: "Forbidden", Content: errorRef}
	}

	op.Responses["500"] = &types.RouteResponse{Description: "Internal Server Error", Content: errorRef}

	return op
}

// requestParams collects every value the route reads from the request:
// the handler's own parameters and those of the providers it reaches.
func requestParams(route *server.RouteNode) []signature.Param {
	seen := make(map[string]bool)
	var out []signature.Param

	add := func(sig *signature.Signature) {
		if sig == nil {
			return
		}
		for _, p := range sig.Params() {
			key := p.Source.String() + ":" + p.WireKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, p)
		}
	}

	add(route.Signature())
	if graph := route.Graph(); graph != nil {
		for _, name := range graph.Order() {
			add(graph.Signature(name))
		}
	}

	return out
}

func openAPIPath(tpl *server.Template) string {
	segments := tpl.Segments()
	if len(segments) == 0 {
		return "/"
	}

	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		switch seg.Kind {
		case server.SegmentLiteral:
			b.WriteString(seg.Value)
		case server.SegmentWildcard:
			if seg.Value == signature.WildcardParam {
				b.WriteString("{path}")
			} else {
				b.WriteString("{" + seg.Value + "}")
			}
		default:
			b.WriteString("{" + seg.Value + "}")
		}
	}
	return b.String()
}

func operationID(route *server.RouteNode) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(route.Method()))
	for _, seg := range route.Template().Segments() {
		b.WriteByte('_')
		b.WriteString(strings.Trim(seg.Value, "*"))
	}
	return strings.TrimRight(b.String(), "_")
}

func successStatus(method string, configured int) int {
	if configured != 0 {
		return configured
	}
	switch method {
	case fasthttp.MethodPost:
		return fasthttp.StatusCreated
	case fasthttp.MethodDelete:
		return fasthttp.StatusNoContent
	default:
		return fasthttp.StatusOK
	}
}

func setOperation(item *types.RoutePathItem, method string, op *types.RouteOperation) bool {
	switch method {
	case fasthttp.MethodGet:
		item.Get = op
	case fasthttp.MethodPost:
		item.Post = op
	case fasthttp.MethodPut:
		item.Put = op
	case fasthttp.MethodDelete:
		item.Delete = op
	case fasthttp.MethodPatch:
		item.Patch = op
	case fasthttp.MethodHead:
		item.Head = op
	case fasthttp.MethodOptions:
		item.Options = op
	default:
		return false
	}
	return true
}
