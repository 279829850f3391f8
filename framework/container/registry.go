package container

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// serviceKey identifies a request: a type, optionally qualified by a key.
type serviceKey struct {
	typ   reflect.Type
	key   any
	keyed bool
}

func (k serviceKey) String() string {
	if k.keyed {
		return fmt.Sprintf("%s[%v]", typeName(k.typ), k.key)
	}
	return typeName(k.typ)
}

// Registry stores registrations. It starts out building (mutable) and is
// frozen exactly once, after which lookups run on an immutable snapshot
// without locking and further additions fail with ErrRegistryFrozen.
type Registry struct {
	mu       sync.RWMutex
	building *building
	frozen   atomic.Pointer[frozen]
}

type building struct {
	byType     map[reflect.Type][]*Registration
	byKey      map[serviceKey][]*Registration
	generics   []*openGeneric
	contextual map[reflect.Type][]Parameter
	order      []*Registration
}

type frozen struct {
	latest     map[reflect.Type]*Registration
	all        map[reflect.Type][]*Registration
	keyed      map[serviceKey]*Registration
	generics   []*openGeneric
	contextual map[reflect.Type][]Parameter
	order      []*Registration
}

// NewRegistry returns an empty registry in the building phase.
func NewRegistry() *Registry {
	return &Registry{building: &building{
		byType:     make(map[reflect.Type][]*Registration),
		byKey:      make(map[serviceKey][]*Registration),
		contextual: make(map[reflect.Type][]Parameter),
	}}
}

// ── Building phase ────────────────────────────────────────────────────────────

// Add indexes reg under each of its service types, or under (type, key) when
// the registration is keyed.
func (r *Registry) Add(reg *Registration) error {
	if reg == nil {
		return fmt.Errorf("%w: nil registration", ErrInvalidRegistration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.building
	if b == nil {
		return fmt.Errorf("%w: cannot add %s", ErrRegistryFrozen, reg)
	}
	for _, st := range reg.serviceTypes {
		if reg.keyed {
			sk := serviceKey{typ: st, key: reg.key, keyed: true}
			b.byKey[sk] = append(b.byKey[sk], reg)
			continue
		}
		b.byType[st] = append(b.byType[st], reg)
	}
	b.order = append(b.order, reg)
	return nil
}

// Register builds a registration from opts and adds it.
//
//	reg.Register(container.Implementation(NewUserService), container.AsType[UserService]())
func (r *Registry) Register(opts ...RegistrationOption) (*Registration, error) {
	reg, err := NewRegistration(opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Add(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// AddOpenGeneric registers an open generic mapping. ctors are constructors
// of closed instantiations of impl, e.g. NewMemRepo[User], NewMemRepo[Order].
func (r *Registry) AddOpenGeneric(service, impl GenericType, lifetime Lifetime, ctors ...any) error {
	og, err := newOpenGeneric(service, impl, lifetime, ctors)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.building == nil {
		return fmt.Errorf("%w: cannot add open generic %s", ErrRegistryFrozen, service)
	}
	r.building.generics = append(r.building.generics, og)
	return nil
}

func (r *Registry) addContextual(impl reflect.Type, p Parameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.building == nil {
		return fmt.Errorf("%w: cannot add contextual parameter for %s", ErrRegistryFrozen, impl)
	}
	r.building.contextual[impl] = append(r.building.contextual[impl], p)
	return nil
}

// Freeze builds the read-only lookup tables. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.building
	if b == nil {
		return
	}
	f := &frozen{
		latest:     make(map[reflect.Type]*Registration, len(b.byType)),
		all:        b.byType,
		keyed:      make(map[serviceKey]*Registration, len(b.byKey)),
		generics:   b.generics,
		contextual: b.contextual,
		order:      b.order,
	}
	for t, regs := range b.byType {
		f.latest[t] = regs[len(regs)-1]
	}
	for sk, regs := range b.byKey {
		f.keyed[sk] = regs[len(regs)-1]
	}
	r.frozen.Store(f)
	r.building = nil
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool { return r.frozen.Load() != nil }

// ── Lookups ───────────────────────────────────────────────────────────────────

// Get returns the last registration added for t, or nil.
func (r *Registry) Get(t reflect.Type) *Registration {
	if f := r.frozen.Load(); f != nil {
		return f.latest[t]
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b := r.building; b != nil {
		if regs := b.byType[t]; len(regs) > 0 {
			return regs[len(regs)-1]
		}
		return nil
	}
	return r.frozen.Load().latest[t]
}

// GetKeyed returns the last registration added for (t, key), or nil.
func (r *Registry) GetKeyed(t reflect.Type, key any) *Registration {
	sk := serviceKey{typ: t, key: key, keyed: true}
	if f := r.frozen.Load(); f != nil {
		return f.keyed[sk]
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b := r.building; b != nil {
		if regs := b.byKey[sk]; len(regs) > 0 {
			return regs[len(regs)-1]
		}
		return nil
	}
	return r.frozen.Load().keyed[sk]
}

func (r *Registry) lookup(sk serviceKey) *Registration {
	if sk.keyed {
		return r.GetKeyed(sk.typ, sk.key)
	}
	return r.Get(sk.typ)
}

// GetAll returns every unkeyed registration for t in registration order.
func (r *Registry) GetAll(t reflect.Type) []*Registration {
	var regs []*Registration
	if f := r.frozen.Load(); f != nil {
		regs = f.all[t]
	} else {
		r.mu.RLock()
		if b := r.building; b != nil {
			regs = b.byType[t]
		} else {
			regs = r.frozen.Load().all[t]
		}
		r.mu.RUnlock()
	}
	out := make([]*Registration, len(regs))
	copy(out, regs)
	return out
}

// TryGetOpenGeneric synthesizes a registration for closed from the first
// open generic registration that can be closed over its type arguments.
// The result is not cached.
func (r *Registry) TryGetOpenGeneric(closed reflect.Type) (*Registration, bool) {
	if closed == nil {
		return nil, false
	}
	t := closed
	if t.Kind() == reflect.Pointer && t.Name() == "" {
		t = t.Elem()
	}
	if _, args := splitGenericName(t.Name()); len(args) == 0 {
		return nil, false
	}
	for _, og := range r.generics() {
		if reg := og.close(closed); reg != nil {
			return reg, true
		}
	}
	return nil, false
}

func (r *Registry) generics() []*openGeneric {
	if f := r.frozen.Load(); f != nil {
		return f.generics
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b := r.building; b != nil {
		return append([]*openGeneric(nil), b.generics...)
	}
	return r.frozen.Load().generics
}

func (r *Registry) contextualParameters(impl reflect.Type) []Parameter {
	if impl == nil {
		return nil
	}
	if f := r.frozen.Load(); f != nil {
		return f.contextual[impl]
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b := r.building; b != nil {
		return append([]Parameter(nil), b.contextual[impl]...)
	}
	return r.frozen.Load().contextual[impl]
}

// Registrations returns every registration in the order it was added.
func (r *Registry) Registrations() []*Registration {
	var regs []*Registration
	if f := r.frozen.Load(); f != nil {
		regs = f.order
	} else {
		r.mu.RLock()
		if b := r.building; b != nil {
			regs = b.order
		} else {
			regs = r.frozen.Load().order
		}
		r.mu.RUnlock()
	}
	return append([]*Registration(nil), regs...)
}

// OpenGenerics describes the open generic registrations.
func (r *Registry) OpenGenerics() []OpenGenericInfo {
	gens := r.generics()
	out := make([]OpenGenericInfo, 0, len(gens))
	for _, og := range gens {
		out = append(out, og.info())
	}
	return out
}
