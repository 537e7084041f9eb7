package signature

import (
	"reflect"

	"github.com/saiset-co/sai-dispatch/types"
)

type Source int

const (
	SourceAuto Source = iota
	SourcePath
	SourceQuery
	SourceHeader
	SourceCookie
	SourceBody
	SourceDependency
	SourceRequest
	SourceState
	SourceHeaders
	SourceCookies
	SourceQueryMap
)

var sourceNames = [...]string{
	SourceAuto:       "auto",
	SourcePath:       "path",
	SourceQuery:      "query",
	SourceHeader:     "header",
	SourceCookie:     "cookie",
	SourceBody:       "body",
	SourceDependency: "dependency",
	SourceRequest:    "request",
	SourceState:      "state",
	SourceHeaders:    "headers",
	SourceCookies:    "cookies",
	SourceQueryMap:   "query_map",
}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return "unknown"
}

// RequestScoped reports whether the value comes from the request itself
// rather than from the dependency graph.
func (s Source) RequestScoped() bool {
	return s != SourceDependency && s != SourceAuto
}

// reserved parameter names that resolve to request-scoped special values.
var reserved = map[string]Source{
	"request": SourceRequest,
	"state":   SourceState,
	"headers": SourceHeaders,
	"cookies": SourceCookies,
	"query":   SourceQueryMap,
}

type Kind int

const (
	KindUnset Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindUUID
	KindDate
	KindPath
	KindAny
)

var kindNames = [...]string{
	KindUnset:  "unset",
	KindString: "str",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindUUID:   "uuid",
	KindDate:   "date",
	KindPath:   "path",
	KindAny:    "any",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

func (k Kind) Scalar() bool {
	return k >= KindString && k <= KindPath
}

func ParseKind(name string) (Kind, error) {
	switch name {
	case "", "str", "string":
		return KindString, nil
	case "int", "integer":
		return KindInt, nil
	case "float", "number":
		return KindFloat, nil
	case "bool", "boolean":
		return KindBool, nil
	case "uuid":
		return KindUUID, nil
	case "date":
		return KindDate, nil
	case "path":
		return KindPath, nil
	default:
		return KindUnset, types.Errorf(types.ErrParamKindUnknown, "%q", name)
	}
}

// Param describes one declared parameter of a handler or provider.
type Param struct {
	Name     string
	Key      string
	Source   Source
	Kind     Kind
	Required bool
	Default  interface{}
	Type     reflect.Type
}

// WireKey is the name used to read the value from the request.
func (p Param) WireKey() string {
	if p.Key != "" {
		return p.Key
	}
	return p.Name
}

type Option func(*Param)

func Optional(defaultValue interface{}) Option {
	return func(p *Param) {
		p.Required = false
		p.Default = defaultValue
	}
}

func Required() Option {
	return func(p *Param) {
		p.Required = true
	}
}

// Key sets the query/header/cookie name when it differs from the parameter name.
func Key(key string) Option {
	return func(p *Param) {
		p.Key = key
	}
}

func As(kind Kind) Option {
	return func(p *Param) {
		p.Kind = kind
	}
}

func newParam(name string, source Source, kind Kind, opts []Option) Param {
	p := Param{
		Name:     name,
		Source:   source,
		Kind:     kind,
		Required: true,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Path binds a template parameter. Without As the kind is taken from the template.
func Path(name string, opts ...Option) Param {
	return newParam(name, SourcePath, KindUnset, opts)
}

func Query(name string, kind Kind, opts ...Option) Param {
	return newParam(name, SourceQuery, kind, opts)
}

func Header(name string, kind Kind, opts ...Option) Param {
	return newParam(name, SourceHeader, kind, opts)
}

func Cookie(name string, kind Kind, opts ...Option) Param {
	return newParam(name, SourceCookie, kind, opts)
}

// Body decodes the request body into a new *T with the request codec.
func Body[T any](name string, opts ...Option) Param {
	p := newParam(name, SourceBody, KindAny, opts)
	p.Type = reflect.TypeOf((*T)(nil)).Elem()
	return p
}

func Dep(name string, opts ...Option) Param {
	return newParam(name, SourceDependency, KindAny, opts)
}

func Request(name string) Param {
	return newParam(name, SourceRequest, KindAny, nil)
}

func State(name string) Param {
	return newParam(name, SourceState, KindAny, nil)
}

func Headers(name string) Param {
	return newParam(name, SourceHeaders, KindAny, nil)
}

func Cookies(name string) Param {
	return newParam(name, SourceCookies, KindAny, nil)
}

func QueryMap(name string) Param {
	return newParam(name, SourceQueryMap, KindAny, nil)
}

// Auto leaves the source to be inferred when the route is built.
func Auto(name string, kind Kind, opts ...Option) Param {
	return newParam(name, SourceAuto, kind, opts)
}
