package server

import (
	"github.com/saiset-co/sai-dispatch/di"
	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

// RouteDefinition carries everything a route needs once the registration
// surface has flattened its scopes.
type RouteDefinition struct {
	Method        string
	Template      *Template
	Handler       signature.Func
	Signature     *signature.Signature
	Graph         *di.Graph
	Config        *types.RouteConfig
	Middlewares   []types.Middleware
	Guards        []types.Guard
	ErrorHandlers []types.ErrorHandler
	BeforeRequest types.BeforeRequestHook
	AfterRequest  types.AfterRequestHook
	AfterResponse types.AfterResponseHook
	Chain         func(*types.RequestCtx)
}

// RouteNode is the immutable, fully-prepared record of one registered route.
type RouteNode struct {
	method        string
	template      *Template
	handler       signature.Func
	signature     *signature.Signature
	graph         *di.Graph
	config        *types.RouteConfig
	middlewares   []types.Middleware
	guards        []types.Guard
	errorHandlers []types.ErrorHandler
	beforeRequest types.BeforeRequestHook
	afterRequest  types.AfterRequestHook
	afterResponse types.AfterResponseHook
	chain         func(*types.RequestCtx)
}

func NewRouteNode(def RouteDefinition) (*RouteNode, error) {
	if def.Template == nil {
		return nil, types.Errorf(types.ErrRouteInvalidTemplate, "route %s has no template", def.Method)
	}
	if def.Handler == nil {
		return nil, types.Errorf(types.ErrHandlerIsNil, "%s %s", def.Method, def.Template)
	}
	if def.Signature == nil || !def.Signature.Resolved() {
		return nil, types.Errorf(types.ErrSignatureInvalid, "%s %s: signature is not resolved", def.Method, def.Template)
	}

	config := def.Config
	if config == nil {
		config = &types.RouteConfig{}
	}
	config.Method = def.Method
	config.Path = def.Template.String()

	return &RouteNode{
		method:        def.Method,
		template:      def.Template,
		handler:       def.Handler,
		signature:     def.Signature,
		graph:         def.Graph,
		config:        config,
		middlewares:   append([]types.Middleware(nil), def.Middlewares...),
		guards:        append([]types.Guard(nil), def.Guards...),
		errorHandlers: append([]types.ErrorHandler(nil), def.ErrorHandlers...),
		beforeRequest: def.BeforeRequest,
		afterRequest:  def.AfterRequest,
		afterResponse: def.AfterResponse,
		chain:         def.Chain,
	}, nil
}

func (r *RouteNode) Method() string                  { return r.method }
func (r *RouteNode) Template() *Template             { return r.template }
func (r *RouteNode) Path() string                    { return r.template.String() }
func (r *RouteNode) Name() string                    { return r.config.Name }
func (r *RouteNode) Handler() signature.Func         { return r.handler }
func (r *RouteNode) Signature() *signature.Signature { return r.signature }
func (r *RouteNode) Graph() *di.Graph                { return r.graph }
func (r *RouteNode) Config() *types.RouteConfig      { return r.config }

func (r *RouteNode) Middlewares() []types.Middleware {
	return append([]types.Middleware(nil), r.middlewares...)
}

func (r *RouteNode) Guards() []types.Guard {
	return append([]types.Guard(nil), r.guards...)
}

// ErrorHandlers are ordered innermost scope first.
func (r *RouteNode) ErrorHandlers() []types.ErrorHandler {
	return r.errorHandlers
}

func (r *RouteNode) BeforeRequest() types.BeforeRequestHook { return r.beforeRequest }
func (r *RouteNode) AfterRequest() types.AfterRequestHook   { return r.afterRequest }
func (r *RouteNode) AfterResponse() types.AfterResponseHook { return r.afterResponse }

// Serve runs the compiled middleware, guard and handler chain.
func (r *RouteNode) Serve(ctx *types.RequestCtx) {
	if r.chain == nil {
		ctx.Fail(types.NewConfigurationError(types.ErrHandlerIsNil, "route %s %s has no compiled chain", r.method, r.Path()))
		return
	}
	r.chain(ctx)
}
