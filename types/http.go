package types

import (
	"errors"
	"time"
)

// RouteConfig is the flattened, per-route view handed to middleware and
// guards. It is built once and must be treated as read-only.
type RouteConfig struct {
	Name                string
	Method              string
	Path                string
	StatusCode          int
	MediaType           string
	Cache               *CacheHandlerConfig
	DisabledMiddlewares []string
	Timeout             time.Duration
	Opt                 map[string]interface{}
	ResponseHeaders     map[string]string
	Tags                []string
	Doc                 *DocConfig
}

func (c *RouteConfig) MiddlewareDisabled(name string) bool {
	if c == nil {
		return false
	}
	for _, disabled := range c.DisabledMiddlewares {
		if disabled == name {
			return true
		}
	}
	return false
}

type CacheHandlerConfig struct {
	Enabled    bool          `validate:"required"`
	TTL        time.Duration `validate:"min=0"`
	KeyBuilder func(ctx *RequestCtx) string
}

type BeforeRequestHook func(ctx *RequestCtx) (*Response, error)

type AfterRequestHook func(ctx *RequestCtx, resp *Response) (*Response, error)

type AfterResponseHook func(ctx *RequestCtx)

type ErrorHandlerFunc func(ctx *RequestCtx, err *Error) *Response

// ErrorHandler maps a failure to a response. A handler matches when every
// non-zero selector matches.
type ErrorHandler struct {
	Kind   ErrorKind
	Status int
	Target error
	Handle ErrorHandlerFunc
}

func (h ErrorHandler) Matches(err *Error) bool {
	if h.Handle == nil || err == nil {
		return false
	}
	if h.Kind == KindUnknown && h.Status == 0 && h.Target == nil {
		return true
	}
	if h.Kind != KindUnknown && h.Kind != err.Kind {
		return false
	}
	if h.Status != 0 && h.Status != err.Status {
		return false
	}
	if h.Target != nil && !errors.Is(err, h.Target) {
		return false
	}
	return true
}
