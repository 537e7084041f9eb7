package di

import (
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

type node struct {
	provider *Provider
	sig      *signature.Signature
	deps     []string
}

// Graph is the flattened, validated provider DAG of one route.
type Graph struct {
	nodes map[string]*node
	order []string
}

// NewGraph resolves every provider signature against the route, rejects
// cycles anywhere in the flattened mapping and validates everything
// reachable from roots.
func NewGraph(flat map[string]*Provider, roots []string, rc signature.Context) (*Graph, error) {
	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)

	rc.Role = signature.RoleProvider
	rc.Providers = func(name string) bool {
		_, ok := flat[name]
		return ok
	}

	nodes := make(map[string]*node, len(flat))
	resolveErrs := make(map[string]error)

	for _, name := range names {
		p := flat[name]
		prc := rc
		prc.Callable = "provider " + name

		n := &node{provider: p}
		sig, err := p.sig.Resolve(prc)
		if err != nil {
			resolveErrs[name] = err
			n.deps = p.sig.Dependencies()
		} else {
			n.sig = sig
			n.deps = sig.Dependencies()
		}
		nodes[name] = n
	}

	g := &Graph{nodes: nodes}

	if err := g.checkCycles(names); err != nil {
		return nil, err
	}

	var errs error
	visited := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true

		n, ok := nodes[name]
		if !ok {
			return
		}
		if err, failed := resolveErrs[name]; failed {
			errs = multierr.Append(errs, err)
		}
		for _, dep := range n.deps {
			visit(dep)
		}
		if n.provider.scope == ScopeSingleton && n.sig != nil {
			errs = multierr.Append(errs, checkSingleton(name, n, nodes))
		}
		g.order = append(g.order, name)
	}

	for _, root := range roots {
		if _, ok := nodes[root]; !ok {
			errs = multierr.Append(errs, types.Errorf(types.ErrDependencyUndeclared, "%q", root))
			continue
		}
		visit(root)
	}

	if errs != nil {
		return nil, errs
	}

	return g, nil
}

func (g *Graph) checkCycles(names []string) error {
	const (
		white = iota
		grey
		black
	)

	color := make(map[string]int, len(names))
	var stack []string

	var walk func(name string) error
	walk = func(name string) error {
		color[name] = grey
		stack = append(stack, name)

		for _, dep := range g.nodes[name].deps {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			switch color[dep] {
			case grey:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				path := append(append([]string{}, stack[start:]...), dep)
				return types.Errorf(types.ErrDependencyCycle, "%s", strings.Join(path, " -> "))
			case white:
				if err := walk(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range names {
		if color[name] == white {
			if err := walk(name); err != nil {
				return err
			}
		}
	}

	return nil
}

func checkSingleton(name string, n *node, nodes map[string]*node) error {
	for _, p := range n.sig.Params() {
		if p.Source != signature.SourceDependency {
			return types.Errorf(types.ErrDependencyScope,
				"singleton %q cannot depend on request value %q (%s)", name, p.Name, p.Source)
		}
		if dep, ok := nodes[p.Name]; ok && dep.provider.scope != ScopeSingleton {
			return types.Errorf(types.ErrDependencyScope,
				"singleton %q cannot depend on request-scoped provider %q", name, p.Name)
		}
	}
	return nil
}

func (g *Graph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Order lists the providers reachable from the roots in resolution order.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

func (g *Graph) Signature(name string) *signature.Signature {
	if n, ok := g.nodes[name]; ok {
		return n.sig
	}
	return nil
}
