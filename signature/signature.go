package signature

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/saiset-co/sai-dispatch/types"
)

// Func is the shape shared by handlers and dependency providers.
type Func func(ctx context.Context, call *BoundCall) (interface{}, error)

type Role int

const (
	RoleHandler Role = iota
	RoleProvider
)

// Error is a build-time signature failure.
type Error struct {
	Callable string
	Param    string
	Err      error
}

func (e *Error) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("signature of %s: %v", e.Callable, e.Err)
	}
	return fmt.Sprintf("signature of %s: parameter %q: %v", e.Callable, e.Param, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Signature is the immutable parameter model of one callable.
type Signature struct {
	params   []Param
	index    map[string]int
	resolved bool
}

func New(params ...Param) (*Signature, error) {
	s := &Signature{
		params: make([]Param, 0, len(params)),
		index:  make(map[string]int, len(params)),
	}

	bodies := 0
	for _, p := range params {
		if p.Name == "" {
			return nil, types.Errorf(types.ErrParamInvalid, "empty parameter name")
		}
		if _, exists := s.index[p.Name]; exists {
			return nil, types.Errorf(types.ErrParamDuplicate, "%q", p.Name)
		}
		if p.Source == SourceBody {
			bodies++
			if bodies > 1 {
				return nil, types.Errorf(types.ErrParamInvalid, "more than one body parameter (%q)", p.Name)
			}
		}
		s.index[p.Name] = len(s.params)
		s.params = append(s.params, p)
	}

	return s, nil
}

func MustNew(params ...Param) *Signature {
	s, err := New(params...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Signature) Params() []Param {
	out := make([]Param, len(s.params))
	copy(out, s.params)
	return out
}

func (s *Signature) Len() int {
	return len(s.params)
}

func (s *Signature) Param(name string) (Param, bool) {
	i, ok := s.index[name]
	if !ok {
		return Param{}, false
	}
	return s.params[i], true
}

func (s *Signature) Resolved() bool {
	return s.resolved
}

func (s *Signature) Dependencies() []string {
	var deps []string
	for _, p := range s.params {
		if p.Source == SourceDependency {
			deps = append(deps, p.Name)
		}
	}
	return deps
}

func (s *Signature) Body() (Param, bool) {
	for _, p := range s.params {
		if p.Source == SourceBody {
			return p, true
		}
	}
	return Param{}, false
}

// Context is what a signature is resolved against: the route it serves and
// the providers visible from it.
type Context struct {
	Callable   string
	Role       Role
	Method     string
	PathParams map[string]Kind
	Providers  func(name string) bool
}

func (rc Context) hasProvider(name string) bool {
	return rc.Providers != nil && rc.Providers(name)
}

var bodylessMethods = map[string]bool{
	"GET":   true,
	"HEAD":  true,
	"TRACE": true,
}

func BodyAllowed(method string) bool {
	return !bodylessMethods[method]
}

// Resolve infers every automatic source and validates the result for the
// given route. The receiver is left untouched.
func (s *Signature) Resolve(rc Context) (*Signature, error) {
	out := &Signature{
		params:   make([]Param, len(s.params)),
		index:    s.index,
		resolved: true,
	}

	var errs error
	fail := func(param string, err error) {
		errs = multierr.Append(errs, &Error{Callable: rc.Callable, Param: param, Err: err})
	}

	for i, p := range s.params {
		if p.Source == SourceAuto {
			p.Source = rc.infer(p)
		}

		switch p.Source {
		case SourceAuto:
			fail(p.Name, types.Errorf(types.ErrParamInvalid, "cannot infer source for kind %s", p.Kind))
		case SourcePath:
			kind, ok := rc.PathParams[p.Name]
			if !ok {
				fail(p.Name, types.Errorf(types.ErrPathParamUnbound, "not present in the path template"))
				break
			}
			if p.Kind == KindUnset {
				p.Kind = kind
			} else if !compatible(p.Kind, kind) {
				fail(p.Name, types.Errorf(types.ErrParamInvalid, "declared %s but template declares %s", p.Kind, kind))
			}
		case SourceQuery, SourceHeader, SourceCookie:
			if p.Kind == KindUnset {
				p.Kind = KindString
			}
			if !p.Kind.Scalar() {
				fail(p.Name, types.Errorf(types.ErrParamInvalid, "%s parameter must be scalar, got %s", p.Source, p.Kind))
			}
		case SourceBody:
			if !BodyAllowed(rc.Method) {
				fail(p.Name, types.Errorf(types.ErrBodyNotAllowed, "method %s does not accept a body", rc.Method))
			}
			if p.Type == nil {
				fail(p.Name, types.Errorf(types.ErrParamInvalid, "body parameter without a target type"))
			}
		case SourceDependency:
			if !rc.hasProvider(p.Name) {
				fail(p.Name, types.Errorf(types.ErrDependencyUndeclared, "no provider named %q is reachable", p.Name))
			}
		}

		out.params[i] = p
	}

	if rc.Role == RoleHandler {
		names := make([]string, 0, len(rc.PathParams))
		for name := range rc.PathParams {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if name == WildcardParam {
				continue
			}
			if p, ok := out.Param(name); !ok || p.Source != SourcePath {
				fail(name, types.Errorf(types.ErrPathParamUnbound, "path parameter has no matching handler parameter"))
			}
		}
	}

	if errs != nil {
		return nil, errs
	}

	return out, nil
}

// WildcardParam is the name under which an unnamed wildcard remainder is exposed.
const WildcardParam = "*"

func (rc Context) infer(p Param) Source {
	if _, ok := rc.PathParams[p.Name]; ok {
		return SourcePath
	}
	if source, ok := reserved[p.Name]; ok {
		return source
	}
	if rc.hasProvider(p.Name) {
		return SourceDependency
	}
	if p.Kind == KindUnset || p.Kind.Scalar() {
		return SourceQuery
	}
	return SourceAuto
}

func compatible(declared, template Kind) bool {
	if declared == template {
		return true
	}
	stringish := func(k Kind) bool { return k == KindString || k == KindPath }
	return stringish(declared) && stringish(template)
}
