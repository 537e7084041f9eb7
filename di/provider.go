package di

import (
	"sync/atomic"

	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

type Scope int

const (
	ScopeRequest Scope = iota
	ScopeSingleton
)

var providerSeq uint64

// Provider is a named callable that supplies an injectable value.
type Provider struct {
	id      uint64
	name    string
	fn      signature.Func
	sig     *signature.Signature
	noCache bool
	scope   Scope
}

func NewProvider(name string, fn signature.Func, params ...signature.Param) (*Provider, error) {
	if name == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "provider name is empty")
	}
	if fn == nil {
		return nil, types.Errorf(types.ErrProviderIsNil, "provider %q", name)
	}

	sig, err := signature.New(params...)
	if err != nil {
		return nil, types.WrapError(err, "provider "+name)
	}

	return &Provider{
		id:   atomic.AddUint64(&providerSeq, 1),
		name: name,
		fn:   fn,
		sig:  sig,
	}, nil
}

func MustProvider(name string, fn signature.Func, params ...signature.Param) *Provider {
	p, err := NewProvider(name, fn, params...)
	if err != nil {
		panic(err)
	}
	return p
}

// WithoutCache makes the provider run on every access within a request.
func (p *Provider) WithoutCache() *Provider {
	p.noCache = true
	return p
}

// AsSingleton makes the provider application-global: it runs once and its
// value is shared by every request.
func (p *Provider) AsSingleton() *Provider {
	p.scope = ScopeSingleton
	return p
}

func (p *Provider) Name() string                    { return p.name }
func (p *Provider) Signature() *signature.Signature { return p.sig }
func (p *Provider) Cached() bool                    { return !p.noCache }
func (p *Provider) Scope() Scope                    { return p.scope }

// Flatten merges provider layers given outer to inner. A provider in an
// inner layer shadows a same-named one from an outer layer.
func Flatten(layers ...map[string]*Provider) map[string]*Provider {
	flat := make(map[string]*Provider)
	for _, layer := range layers {
		for name, p := range layer {
			if p == nil {
				continue
			}
			flat[name] = p
		}
	}
	return flat
}
