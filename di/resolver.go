package di

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

// ValueSource supplies every parameter that does not come from the graph.
type ValueSource interface {
	Value(ctx context.Context, p signature.Param) (interface{}, error)
}

type ValueSourceFunc func(ctx context.Context, p signature.Param) (interface{}, error)

func (f ValueSourceFunc) Value(ctx context.Context, p signature.Param) (interface{}, error) {
	return f(ctx, p)
}

// Singletons holds application-global provider values.
type Singletons struct {
	group  singleflight.Group
	values sync.Map
}

func NewSingletons() *Singletons {
	return &Singletons{}
}

type EvaluationObserver func(name string, duration time.Duration, err error)

// Resolver resolves providers for a single request. It is not safe for
// concurrent use; each request owns its own resolver and cache.
type Resolver struct {
	graph      *Graph
	source     ValueSource
	singletons *Singletons
	cache      map[string]interface{}
	observer   EvaluationObserver
}

func NewResolver(graph *Graph, source ValueSource, singletons *Singletons) *Resolver {
	if singletons == nil {
		singletons = NewSingletons()
	}
	return &Resolver{
		graph:      graph,
		source:     source,
		singletons: singletons,
		cache:      make(map[string]interface{}, len(graph.order)),
	}
}

func (r *Resolver) Observe(observer EvaluationObserver) {
	r.observer = observer
}

// Resolve returns the value of the named provider, evaluating its
// dependencies first.
func (r *Resolver) Resolve(ctx context.Context, name string) (interface{}, error) {
	var fresh []string
	v, err := r.resolve(ctx, name, &fresh)
	if err != nil {
		r.discard(fresh)
	}
	return v, err
}

// Bind builds the argument set for sig. Request values are read first so
// every invalid field is reported at once; dependencies follow in
// declaration order. On failure the values cached by this call are dropped.
func (r *Resolver) Bind(ctx context.Context, sig *signature.Signature) (*signature.BoundCall, error) {
	var fresh []string
	call, err := r.bind(ctx, sig, &fresh)
	if err != nil {
		r.discard(fresh)
	}
	return call, err
}

func (r *Resolver) Cached(name string) (interface{}, bool) {
	v, ok := r.cache[name]
	return v, ok
}

func (r *Resolver) discard(names []string) {
	for _, name := range names {
		delete(r.cache, name)
	}
}

func (r *Resolver) bind(ctx context.Context, sig *signature.Signature, fresh *[]string) (*signature.BoundCall, error) {
	params := sig.Params()
	call := signature.NewBoundCall(len(params))

	var fields []string
	var invalid error

	for _, p := range params {
		if p.Source == signature.SourceDependency {
			continue
		}

		v, err := r.source.Value(ctx, p)
		if err != nil {
			if te, ok := types.AsError(err); ok && te.Kind == types.KindValidation {
				fields = append(fields, te.Fields...)
				invalid = multierr.Append(invalid, te.Err)
				continue
			}
			return nil, err
		}
		call.Set(p.Name, v)
	}

	if len(fields) > 0 {
		return nil, types.NewValidationError(invalid, fields...)
	}

	for _, p := range params {
		if p.Source != signature.SourceDependency {
			continue
		}

		v, err := r.resolve(ctx, p.Name, fresh)
		if err != nil {
			return nil, err
		}
		call.Set(p.Name, v)
	}

	return call, nil
}

func (r *Resolver) resolve(ctx context.Context, name string, fresh *[]string) (interface{}, error) {
	n, ok := r.graph.nodes[name]
	if !ok || n.sig == nil {
		return nil, types.NewDependencyError(name, types.Errorf(types.ErrDependencyUndeclared, "%q", name))
	}

	if n.provider.scope == ScopeSingleton {
		return r.singleton(ctx, n)
	}

	if !n.provider.noCache {
		if v, ok := r.cache[name]; ok {
			return v, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	call, err := r.bind(ctx, n.sig, fresh)
	if err != nil {
		return nil, err
	}

	v, err := r.evaluate(ctx, n, call)
	if err != nil {
		return nil, types.NewDependencyError(name, err)
	}

	// a provider that finished after cancellation has its result dropped
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	if !n.provider.noCache {
		r.cache[name] = v
		if fresh != nil {
			*fresh = append(*fresh, name)
		}
	}

	return v, nil
}

func (r *Resolver) singleton(ctx context.Context, n *node) (interface{}, error) {
	if v, ok := r.singletons.values.Load(n.provider.id); ok {
		return v, nil
	}

	detached := context.WithoutCancel(ctx)
	key := strconv.FormatUint(n.provider.id, 10)

	v, err, _ := r.singletons.group.Do(key, func() (interface{}, error) {
		if v, ok := r.singletons.values.Load(n.provider.id); ok {
			return v, nil
		}

		call, err := r.bind(detached, n.sig, nil)
		if err != nil {
			return nil, err
		}

		v, err := r.evaluate(detached, n, call)
		if err != nil {
			return nil, err
		}

		r.singletons.values.Store(n.provider.id, v)
		return v, nil
	})
	if err != nil {
		return nil, types.NewDependencyError(n.provider.name, err)
	}

	return v, nil
}

func (r *Resolver) evaluate(ctx context.Context, n *node, call *signature.BoundCall) (interface{}, error) {
	if r.observer == nil {
		return n.provider.fn(ctx, call)
	}

	start := time.Now()
	v, err := n.provider.fn(ctx, call)
	r.observer(n.provider.name, time.Since(start), err)
	return v, err
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewTimeoutError(err)
	}
	return types.NewCancelledError(err)
}
