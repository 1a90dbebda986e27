package wirex

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

// Factory constructs an empty instance of one concrete entity type.
type Factory func() Entity

type descriptor struct {
	factory Factory
	typ     reflect.Type
}

// Registry maps discriminators to factories. Registration happens at start-up;
// once sealed the registry is read-only and lookups take no lock.
type Registry struct {
	mu     sync.RWMutex
	sealed atomic.Bool
	types  map[string]descriptor
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]descriptor)}
}

// Register binds discriminator to factory. Registering the same discriminator
// again with a factory producing the same Go type is a no-op; a different
// type fails with ErrDuplicateType.
func (r *Registry) Register(discriminator string, factory Factory) error {
	if discriminator == "" {
		return wireErrors.NewWithMessage(ErrInvalidEntity, "discriminator is required")
	}
	if factory == nil {
		return wireErrors.NewWithMessage(ErrInvalidEntity, "factory is required").
			WithDetail("concrete_type", discriminator)
	}
	if r.sealed.Load() {
		return wireErrors.New(ErrRegistrySealed).WithDetail("concrete_type", discriminator)
	}

	sample := factory()
	if isNil(sample) {
		return wireErrors.NewWithMessage(ErrInvalidEntity, "factory returned nil").
			WithDetail("concrete_type", discriminator)
	}
	if got := sample.ConcreteType(); got != discriminator {
		return wireErrors.NewWithMessage(ErrInvalidEntity, "factory produces a different concrete type").
			WithDetail("concrete_type", discriminator).
			WithDetail("produced", got)
	}
	typ := reflect.TypeOf(sample)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return wireErrors.New(ErrRegistrySealed).WithDetail("concrete_type", discriminator)
	}
	if existing, ok := r.types[discriminator]; ok {
		if existing.typ == typ {
			return nil
		}
		return wireErrors.New(ErrDuplicateType).
			WithDetail("concrete_type", discriminator).
			WithDetail("registered", existing.typ.String()).
			WithDetail("attempted", typ.String())
	}
	r.types[discriminator] = descriptor{factory: factory, typ: typ}
	return nil
}

// RegisterType registers *T under the discriminator its ConcreteType returns.
func RegisterType[T any, PT interface {
	*T
	Entity
}](r *Registry) error {
	return r.Register(PT(new(T)).ConcreteType(), func() Entity { return PT(new(T)) })
}

// MustRegisterType is RegisterType for package init and main; it panics on error.
func MustRegisterType[T any, PT interface {
	*T
	Entity
}](r *Registry) {
	if err := RegisterType[T, PT](r); err != nil {
		panic(err)
	}
}

// Resolve returns the factory registered for discriminator. Lookup is an
// exact, case-sensitive match.
func (r *Registry) Resolve(discriminator string) (Factory, error) {
	d, ok := r.lookup(discriminator)
	if !ok {
		return nil, wireErrors.New(ErrUnknownType).WithDetail("concrete_type", discriminator)
	}
	return d.factory, nil
}

func (r *Registry) lookup(discriminator string) (descriptor, bool) {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	d, ok := r.types[discriminator]
	return d, ok
}

// Seal makes the registry read-only. Further Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Discriminators lists every registered discriminator in sorted order.
func (r *Registry) Discriminators() []string {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	out := make([]string, 0, len(r.types))
	for d := range r.types {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
