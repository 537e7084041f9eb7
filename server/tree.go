package server

import (
	"sort"
	"strings"

	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

var methodIndex = map[string]uint8{
	"GET":     0,
	"POST":    1,
	"PUT":     2,
	"DELETE":  3,
	"PATCH":   4,
	"HEAD":    5,
	"OPTIONS": 6,
	"TRACE":   7,
}

var methodNames = [8]string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS", "TRACE"}

type treeNode struct {
	staticChildren map[string]*treeNode
	paramChild     *treeNode
	wildcardChild  *treeNode
	methodMask     uint8
	routes         [8]*RouteNode
}

func newTreeNode() *treeNode {
	return &treeNode{staticChildren: make(map[string]*treeNode)}
}

// Tree is the routing trie. Registration happens during build only; once
// frozen it is read concurrently without locking.
type Tree struct {
	root   *treeNode
	routes []*RouteNode
	frozen bool
}

// Match is a successful lookup: the route plus raw path values by name.
type Match struct {
	Route  *RouteNode
	Params map[string]string
}

// Typed coerces the raw values to the kinds declared in the route template.
func (m *Match) Typed() (map[string]interface{}, error) {
	return m.Route.CoerceParams(m.Params)
}

func NewTree() *Tree {
	return &Tree{root: newTreeNode()}
}

func (t *Tree) Register(route *RouteNode) error {
	if t.frozen {
		return types.ErrRouteTreeFrozen
	}
	if route == nil {
		return types.ErrHandlerIsNil
	}

	idx, ok := methodIndex[route.Method()]
	if !ok {
		return types.NewConfigurationError(types.ErrRouteMethodInvalid, "unsupported method %q for %s", route.Method(), route.Path())
	}

	node := t.root
	for _, seg := range route.Template().segments {
		switch seg.Kind {
		case SegmentLiteral:
			child, exists := node.staticChildren[seg.Value]
			if !exists {
				child = newTreeNode()
				node.staticChildren[seg.Value] = child
			}
			node = child
		case SegmentParam:
			if node.paramChild == nil {
				node.paramChild = newTreeNode()
			}
			node = node.paramChild
		case SegmentWildcard:
			if node.wildcardChild == nil {
				node.wildcardChild = newTreeNode()
			}
			node = node.wildcardChild
		}
	}

	if existing := node.routes[idx]; existing != nil {
		return types.NewConfigurationError(types.ErrRouteAmbiguous,
			"%s %s conflicts with %s %s", route.Method(), route.Path(), existing.Method(), existing.Path())
	}

	node.routes[idx] = route
	node.methodMask |= 1 << idx
	t.routes = append(t.routes, route)
	return nil
}

func (t *Tree) Freeze() {
	t.frozen = true
}

func (t *Tree) Frozen() bool {
	return t.frozen
}

// Routes lists registered routes in registration order.
func (t *Tree) Routes() []*RouteNode {
	out := make([]*RouteNode, len(t.routes))
	copy(out, t.routes)
	return out
}

// Match resolves method and path. Literal children win over parameters and
// parameters over the remainder, backtracking when a branch dead-ends. A path
// that matches structurally under other methods only yields 405.
func (t *Tree) Match(method, path string) (*Match, error) {
	m := &matcher{
		method:   method,
		segments: splitPath(path),
	}
	m.idx, m.known = methodIndex[method]

	if route := m.walk(t.root, 0); route != nil {
		return &Match{Route: route, Params: route.extract(m.values)}, nil
	}

	if m.allowed != 0 {
		return nil, types.NewMethodNotAllowedError(method, m.allowedMethods())
	}
	return nil, types.NewNotFoundError(path)
}

type matcher struct {
	method   string
	idx      uint8
	known    bool
	segments []string
	values   []string
	allowed  uint8
}

func (m *matcher) walk(node *treeNode, i int) *RouteNode {
	if i == len(m.segments) {
		return m.terminal(node)
	}

	seg := m.segments[i]

	if child, ok := node.staticChildren[seg]; ok {
		if route := m.walk(child, i+1); route != nil {
			return route
		}
	}

	if node.paramChild != nil {
		m.values = append(m.values, seg)
		if route := m.walk(node.paramChild, i+1); route != nil {
			return route
		}
		m.values = m.values[:len(m.values)-1]
	}

	if node.wildcardChild != nil {
		m.values = append(m.values, strings.Join(m.segments[i:], "/"))
		if route := m.terminal(node.wildcardChild); route != nil {
			return route
		}
		m.values = m.values[:len(m.values)-1]
	}

	return nil
}

func (m *matcher) terminal(node *treeNode) *RouteNode {
	if node.methodMask == 0 {
		return nil
	}
	if m.known {
		if route := node.routes[m.idx]; route != nil {
			return route
		}
		if m.method == "HEAD" && node.routes[methodIndex["GET"]] != nil {
			return node.routes[methodIndex["GET"]]
		}
	}
	m.allowed |= node.methodMask
	return nil
}

func (m *matcher) allowedMethods() []string {
	var out []string
	for i, name := range methodNames {
		if m.allowed&(1<<uint8(i)) != 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// extract pairs positional values with the template's parameter names.
func (r *RouteNode) extract(values []string) map[string]string {
	params := make(map[string]string, len(values))
	i := 0
	for _, seg := range r.template.segments {
		if seg.Kind == SegmentLiteral {
			continue
		}
		if i < len(values) {
			params[seg.Value] = values[i]
		}
		i++
	}
	return params
}

// CoerceParams converts raw path values into their declared kinds.
func (r *RouteNode) CoerceParams(raw map[string]string) (map[string]interface{}, error) {
	typed := make(map[string]interface{}, len(raw))
	var fields []string
	var firstErr error

	for name, kind := range r.template.params {
		value, ok := raw[name]
		if !ok {
			continue
		}
		v, err := signature.Coerce(kind, value)
		if err != nil {
			fields = append(fields, name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		typed[name] = v
	}

	if len(fields) > 0 {
		sort.Strings(fields)
		return nil, types.NewValidationError(firstErr, fields...)
	}
	return typed, nil
}
