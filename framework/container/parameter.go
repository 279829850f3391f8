package container

import (
	"fmt"
	"reflect"
)

// Parameter overrides how a dependency is satisfied. Parameters are checked
// before normal resolution: runtime parameters (ResolveWith) first, then the
// registration's own, then contextual ones (Registry.When).
type Parameter interface {
	Matches(d Dependency) bool
	Value(r Resolver, d Dependency) (any, error)
}

// ── Named ─────────────────────────────────────────────────────────────────────

type namedParameter struct {
	name  string
	value any
}

// Named supplies value for the dependency called name (a parameter-object
// field name or its name= tag).
func Named(name string, value any) Parameter {
	return namedParameter{name: name, value: value}
}

func (p namedParameter) Matches(d Dependency) bool { return d.Name != "" && d.Name == p.name }

func (p namedParameter) Value(Resolver, Dependency) (any, error) { return p.value, nil }

// ── Typed ─────────────────────────────────────────────────────────────────────

type typedParameter struct {
	typ   reflect.Type
	exact bool
	value any
}

// Typed supplies value for any dependency its dynamic type is assignable to.
func Typed(value any) Parameter {
	return typedParameter{typ: reflect.TypeOf(value), value: value}
}

// TypedAs supplies value for dependencies of exactly type T.
func TypedAs[T any](value T) Parameter {
	return typedParameter{typ: reflect.TypeFor[T](), exact: true, value: value}
}

func (p typedParameter) Matches(d Dependency) bool {
	if p.typ == nil {
		return false
	}
	if p.exact {
		return d.Type == p.typ
	}
	return p.typ.AssignableTo(d.Type)
}

func (p typedParameter) Value(Resolver, Dependency) (any, error) { return p.value, nil }

// ── Resolved ──────────────────────────────────────────────────────────────────

type resolvedParameter struct {
	match   func(Dependency) bool
	factory func(Resolver, Dependency) (any, error)
}

// ResolvedParameter computes a value lazily for every dependency accepted by match.
func ResolvedParameter(match func(Dependency) bool, factory func(Resolver, Dependency) (any, error)) Parameter {
	return resolvedParameter{match: match, factory: factory}
}

func (p resolvedParameter) Matches(d Dependency) bool { return p.match(d) }

func (p resolvedParameter) Value(r Resolver, d Dependency) (any, error) { return p.factory(r, d) }

// KeyedParameter satisfies dependencies of type t with the keyed registration key.
func KeyedParameter(t reflect.Type, key any) Parameter {
	return ResolvedParameter(
		func(d Dependency) bool { return d.Type == t },
		func(r Resolver, _ Dependency) (any, error) { return r.ResolveKeyed(t, key) },
	)
}

// ── value coercion ────────────────────────────────────────────────────────────

// coerce turns a parameter value into something assignable to t.
func coerce(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not assignable to %s", t)
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(t):
		return rv, nil
	case rv.Type().ConvertibleTo(t) && rv.Kind() != reflect.String && t.Kind() != reflect.String:
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("value of type %s is not assignable to %s", rv.Type(), t)
}
