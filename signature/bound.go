package signature

// BoundCall holds the resolved arguments of one invocation.
type BoundCall struct {
	values map[string]interface{}
}

func NewBoundCall(size int) *BoundCall {
	return &BoundCall{values: make(map[string]interface{}, size)}
}

func (b *BoundCall) Set(name string, value interface{}) {
	b.values[name] = value
}

func (b *BoundCall) Value(name string) interface{} {
	return b.values[name]
}

func (b *BoundCall) Has(name string) bool {
	_, ok := b.values[name]
	return ok
}

func (b *BoundCall) Len() int {
	return len(b.values)
}

func Lookup[T any](b *BoundCall, name string) (T, bool) {
	var zero T
	if b == nil {
		return zero, false
	}
	v, ok := b.values[name]
	if !ok || v == nil {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Get returns the named argument as T, or the zero value when it is absent
// or of another type.
func Get[T any](b *BoundCall, name string) T {
	v, _ := Lookup[T](b, name)
	return v
}
