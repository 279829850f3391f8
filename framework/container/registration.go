package container

import (
	"fmt"
	"maps"
	"reflect"
)

// Factory builds an instance from the resolver that is serving the request.
// Dependencies resolved through r take part in the same circular-dependency
// detection as the request that triggered the factory.
type Factory func(r Resolver) (any, error)

// ActivationEvent is passed to activation callbacks after a new instance was
// created. It is never raised for cache hits.
type ActivationEvent struct {
	Registration *Registration
	Instance     any
	Resolver     Resolver
}

// ActivationFunc observes a freshly created instance. A returned error fails
// the resolution that created it.
type ActivationFunc func(ActivationEvent) error

// Registration is the immutable description of how to satisfy one or more
// service types. Build one with NewRegistration (or Registry.Register).
type Registration struct {
	serviceTypes []reflect.Type
	implType     reflect.Type
	lifetime     Lifetime
	key          any
	keyed        bool

	factory     Factory
	instance    any
	hasInstance bool
	ctors       []any

	params      []Parameter
	metadata    map[string]any
	onActivated []ActivationFunc

	externallyOwned bool
	ownedInstance   bool

	// set on registrations synthesized from an open generic definition
	generic *openGeneric
	closed  reflect.Type
}

// RegistrationOption configures a Registration under construction.
type RegistrationOption func(*Registration) error

// NewRegistration builds and validates a Registration.
//
//	reg, err := container.NewRegistration(
//	    container.Implementation(NewConsoleLogger),
//	    container.AsType[Logger](),
//	    container.WithLifetime(container.Singleton),
//	)
func NewRegistration(opts ...RegistrationOption) (*Registration, error) {
	r := &Registration{lifetime: Transient}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registration) validate() error {
	sources := 0
	if r.factory != nil {
		sources++
	}
	if r.hasInstance {
		sources++
	}
	if r.implType != nil && !r.hasInstance {
		sources++
	}
	if r.hasInstance && len(r.ctors) > 0 {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("%w: exactly one of implementation, factory or instance is required", ErrInvalidRegistration)
	}
	if !r.lifetime.valid() {
		return fmt.Errorf("%w: unknown lifetime %d", ErrInvalidRegistration, r.lifetime)
	}
	if r.hasInstance {
		r.lifetime = Singleton
	}
	if len(r.serviceTypes) == 0 {
		if r.implType == nil {
			return fmt.Errorf("%w: factory registrations must declare their service types", ErrInvalidRegistration)
		}
		r.serviceTypes = []reflect.Type{r.implType}
	}
	seen := make(map[reflect.Type]bool, len(r.serviceTypes))
	deduped := r.serviceTypes[:0]
	for _, st := range r.serviceTypes {
		if st == nil {
			return fmt.Errorf("%w: nil service type", ErrInvalidRegistration)
		}
		if seen[st] {
			continue
		}
		seen[st] = true
		deduped = append(deduped, st)
		if r.implType == nil {
			continue
		}
		if !satisfies(r.implType, st) {
			return fmt.Errorf("%w: %s does not satisfy %s", ErrInvalidRegistration, r.implType, st)
		}
	}
	r.serviceTypes = deduped
	if r.keyed && r.key != nil && !reflect.TypeOf(r.key).Comparable() {
		return fmt.Errorf("%w: key of type %T is not comparable", ErrInvalidRegistration, r.key)
	}
	return nil
}

// satisfies reports whether values of impl can be handed out as service.
func satisfies(impl, service reflect.Type) bool {
	if impl == service {
		return true
	}
	if service.Kind() == reflect.Interface {
		return impl.Implements(service)
	}
	return false
}

// ── Accessors ─────────────────────────────────────────────────────────────────

// ServiceTypes returns the types this registration satisfies, primary first.
func (r *Registration) ServiceTypes() []reflect.Type {
	out := make([]reflect.Type, len(r.serviceTypes))
	copy(out, r.serviceTypes)
	return out
}

// ServiceType returns the primary service type.
func (r *Registration) ServiceType() reflect.Type { return r.serviceTypes[0] }

// ImplementationType returns the concrete type, or nil for factory registrations.
func (r *Registration) ImplementationType() reflect.Type { return r.implType }

// Lifetime returns the instance reuse policy.
func (r *Registration) Lifetime() Lifetime { return r.lifetime }

// Key returns the registration key and whether the registration is keyed.
func (r *Registration) Key() (any, bool) { return r.key, r.keyed }

// Metadata returns a copy of the side-channel metadata.
func (r *Registration) Metadata() map[string]any { return maps.Clone(r.metadata) }

// Kind describes the provider strategy: instance, factory, constructor or generic.
func (r *Registration) Kind() string {
	switch {
	case r.hasInstance:
		return "instance"
	case r.factory != nil:
		return "factory"
	case r.generic != nil:
		return "generic"
	default:
		return "constructor"
	}
}

func (r *Registration) String() string {
	s := fmt.Sprintf("%s %s", r.lifetime, typeName(r.ServiceType()))
	if r.keyed {
		s += fmt.Sprintf(" (key %v)", r.key)
	}
	if r.implType != nil && r.implType != r.ServiceType() {
		s += " -> " + r.implType.String()
	}
	return s
}

// cacheKey identifies the instance slot of a registration. Registrations
// synthesized from the same open generic share the definition as owner and
// are told apart by their closed type.
type cacheKey struct {
	owner  any
	closed reflect.Type
}

func (r *Registration) cacheKey() cacheKey {
	if r.generic != nil {
		return cacheKey{owner: r.generic, closed: r.closed}
	}
	return cacheKey{owner: r}
}

// ── Options ───────────────────────────────────────────────────────────────────

// As adds service types the registration satisfies.
func As(types ...reflect.Type) RegistrationOption {
	return func(r *Registration) error {
		r.serviceTypes = append(r.serviceTypes, types...)
		return nil
	}
}

// AsType adds T as a service type.
func AsType[T any]() RegistrationOption {
	return As(reflect.TypeFor[T]())
}

// Implementation registers one or more constructor functions for the same
// concrete type. Each must look like func(deps...) T or func(deps...) (T, error).
// Wrap a constructor with Inject to mark it as the preferred one.
func Implementation(ctors ...any) RegistrationOption {
	return func(r *Registration) error {
		if len(ctors) == 0 {
			return fmt.Errorf("%w: no constructors given", ErrInvalidRegistration)
		}
		for _, c := range ctors {
			fn, _ := unwrapConstructor(c)
			rt, err := constructorResult(fn)
			if err != nil {
				return err
			}
			if r.implType != nil && r.implType != rt {
				return fmt.Errorf("%w: constructors disagree on result type (%s vs %s)", ErrInvalidRegistration, r.implType, rt)
			}
			r.implType = rt
		}
		r.ctors = append(r.ctors, ctors...)
		return nil
	}
}

// ImplementationType registers t for zero-value construction followed by
// member injection.
func ImplementationType(t reflect.Type) RegistrationOption {
	return func(r *Registration) error {
		if t == nil {
			return fmt.Errorf("%w: nil implementation type", ErrInvalidRegistration)
		}
		r.implType = t
		return nil
	}
}

// Concrete is ImplementationType for T.
func Concrete[T any]() RegistrationOption {
	return ImplementationType(reflect.TypeFor[T]())
}

// WithFactory uses fn to create instances. Service types must be given with As.
func WithFactory(fn Factory) RegistrationOption {
	return func(r *Registration) error {
		if fn == nil {
			return fmt.Errorf("%w: nil factory", ErrInvalidRegistration)
		}
		r.factory = fn
		return nil
	}
}

// WithInstance registers a pre-built value. The lifetime becomes Singleton.
func WithInstance(v any) RegistrationOption {
	return func(r *Registration) error {
		if isNil(reflect.ValueOf(v)) {
			return fmt.Errorf("%w: nil instance", ErrInvalidRegistration)
		}
		r.instance = v
		r.hasInstance = true
		r.implType = reflect.TypeOf(v)
		return nil
	}
}

// WithLifetime sets the lifetime.
func WithLifetime(l Lifetime) RegistrationOption {
	return func(r *Registration) error {
		r.lifetime = l
		return nil
	}
}

// Keyed makes the registration resolvable only through keyed lookups.
func Keyed(key any) RegistrationOption {
	return func(r *Registration) error {
		r.key = key
		r.keyed = true
		return nil
	}
}

// WithParameter adds a parameter override consulted before normal resolution.
func WithParameter(p Parameter) RegistrationOption {
	return func(r *Registration) error {
		if p == nil {
			return fmt.Errorf("%w: nil parameter", ErrInvalidRegistration)
		}
		r.params = append(r.params, p)
		return nil
	}
}

// WithMetadata attaches side-channel data. It is never used for resolution.
func WithMetadata(key string, value any) RegistrationOption {
	return func(r *Registration) error {
		if r.metadata == nil {
			r.metadata = make(map[string]any)
		}
		r.metadata[key] = value
		return nil
	}
}

// OnActivated adds a callback run once per newly created instance.
func OnActivated(fn ActivationFunc) RegistrationOption {
	return func(r *Registration) error {
		if fn == nil {
			return fmt.Errorf("%w: nil activation callback", ErrInvalidRegistration)
		}
		r.onActivated = append(r.onActivated, fn)
		return nil
	}
}

// ExternallyOwned stops the container from disposing instances of this registration.
func ExternallyOwned() RegistrationOption {
	return func(r *Registration) error {
		r.externallyOwned = true
		return nil
	}
}

// OwnedInstance hands a WithInstance value to the container for disposal.
func OwnedInstance() RegistrationOption {
	return func(r *Registration) error {
		r.ownedInstance = true
		return nil
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

var errorType = reflect.TypeFor[error]()

// constructorResult validates fn as a constructor and returns its result type.
func constructorResult(fn any) (reflect.Type, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil constructor", ErrInvalidRegistration)
	}
	ft := reflect.TypeOf(fn)
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: constructor must be a func, got %s", ErrInvalidRegistration, ft)
	}
	switch {
	case ft.NumOut() == 1 && ft.Out(0) != errorType:
	case ft.NumOut() == 2 && ft.Out(0) != errorType && ft.Out(1) == errorType:
	default:
		return nil, fmt.Errorf("%w: constructor %s must return T or (T, error)", ErrInvalidRegistration, ft)
	}
	return ft.Out(0), nil
}

func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
