package types

type AuthProviderManager interface {
	LifecycleManager
	Register(name string, provider AuthProvider) error
	GetProvider(name string) (AuthProvider, error)
	Guard(names ...string) (Guard, error)
}

type AuthProvider interface {
	Type() string
	ApplyToIncomingRequest(ctx *RequestCtx) error
}
