package container

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// GenericType names an open generic definition such as Repository[T].
//
// Go instantiates generics at compile time, so a definition is recovered from
// any instantiation and closed types are recognised by their reflected name:
//
//	container.OpenGeneric[Repository[any]]()  // pkg.Repository, arity 1
//	container.OpenGeneric[*MemRepo[any]]()    // *pkg.MemRepo, arity 1
type GenericType struct {
	PkgPath string
	Name    string
	Arity   int
	Pointer bool
}

// OpenGeneric returns the generic definition T is an instantiation of.
func OpenGeneric[T any]() GenericType {
	return GenericOf(reflect.TypeFor[T]())
}

// GenericOf returns the generic definition of t. Arity is 0 when t is not an
// instantiated generic type.
func GenericOf(t reflect.Type) GenericType {
	var g GenericType
	if t.Kind() == reflect.Pointer && t.Name() == "" {
		g.Pointer = true
		t = t.Elem()
	}
	base, args := splitGenericName(t.Name())
	g.PkgPath = t.PkgPath()
	g.Name = base
	g.Arity = len(args)
	return g
}

// Open reports whether g names a generic definition.
func (g GenericType) Open() bool { return g.Arity > 0 }

// Match returns the type arguments of t when t closes g.
func (g GenericType) Match(t reflect.Type) ([]string, bool) {
	if t == nil {
		return nil, false
	}
	if g.Pointer {
		if t.Kind() != reflect.Pointer || t.Name() != "" {
			return nil, false
		}
		t = t.Elem()
	}
	if t.PkgPath() != g.PkgPath {
		return nil, false
	}
	base, args := splitGenericName(t.Name())
	if base != g.Name || len(args) != g.Arity {
		return nil, false
	}
	return args, true
}

func (g GenericType) String() string {
	var b strings.Builder
	if g.Pointer {
		b.WriteByte('*')
	}
	if g.PkgPath != "" {
		b.WriteString(g.PkgPath[strings.LastIndexByte(g.PkgPath, '/')+1:])
		b.WriteByte('.')
	}
	b.WriteString(g.Name)
	if g.Arity > 0 {
		b.WriteByte('[')
		b.WriteString(strings.Repeat("_,", g.Arity-1))
		b.WriteString("_]")
	}
	return b.String()
}

// splitGenericName splits "Repo[pkg.User,map[string]int]" into "Repo" and
// its top-level type arguments.
func splitGenericName(name string) (string, []string) {
	i := strings.IndexByte(name, '[')
	if i < 0 || !strings.HasSuffix(name, "]") {
		return name, nil
	}
	inner := name[i+1 : len(name)-1]
	var args []string
	depth, start := 0, 0
	for j := 0; j < len(inner); j++ {
		switch inner[j] {
		case '[', '(', '{':
			depth++
		case ']', ')', '}':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(inner[start:j]))
				start = j + 1
			}
		}
	}
	args = append(args, strings.TrimSpace(inner[start:]))
	return name[:i], args
}

// ── Open generic registrations ────────────────────────────────────────────────

type closedConstructor struct {
	args   []string
	fn     any
	result reflect.Type
}

type openGeneric struct {
	service  GenericType
	impl     GenericType
	lifetime Lifetime
	ctors    []closedConstructor
}

// OpenGenericInfo describes an open generic registration.
type OpenGenericInfo struct {
	Service        GenericType
	Implementation GenericType
	Lifetime       Lifetime
	Instances      []reflect.Type
}

func newOpenGeneric(service, impl GenericType, lifetime Lifetime, ctors []any) (*openGeneric, error) {
	if !service.Open() {
		return nil, fmt.Errorf("%w: service %s is not an open generic definition", ErrOpenGeneric, service)
	}
	if !impl.Open() {
		return nil, fmt.Errorf("%w: implementation %s is not an open generic definition", ErrOpenGeneric, impl)
	}
	if service.Arity != impl.Arity {
		return nil, fmt.Errorf("%w: arity mismatch between %s and %s", ErrOpenGeneric, service, impl)
	}
	if !lifetime.valid() {
		return nil, fmt.Errorf("%w: unknown lifetime %d", ErrOpenGeneric, lifetime)
	}
	og := &openGeneric{service: service, impl: impl, lifetime: lifetime}
	for _, c := range ctors {
		fn, _ := unwrapConstructor(c)
		rt, err := constructorResult(fn)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOpenGeneric, err)
		}
		args, ok := impl.Match(rt)
		if !ok {
			return nil, fmt.Errorf("%w: constructor result %s does not close %s", ErrOpenGeneric, rt, impl)
		}
		og.ctors = append(og.ctors, closedConstructor{args: args, fn: c, result: rt})
	}
	return og, nil
}

// close synthesizes a registration for the closed service type, or returns
// nil when this definition has no instantiation for closed's arguments.
func (og *openGeneric) close(closed reflect.Type) *Registration {
	args, ok := og.service.Match(closed)
	if !ok {
		return nil
	}
	for _, c := range og.ctors {
		if !slices.Equal(c.args, args) || !satisfies(c.result, closed) {
			continue
		}
		return &Registration{
			serviceTypes: []reflect.Type{closed},
			implType:     c.result,
			lifetime:     og.lifetime,
			ctors:        []any{c.fn},
			generic:      og,
			closed:       closed,
		}
	}
	return nil
}

func (og *openGeneric) info() OpenGenericInfo {
	info := OpenGenericInfo{Service: og.service, Implementation: og.impl, Lifetime: og.lifetime}
	for _, c := range og.ctors {
		info.Instances = append(info.Instances, c.result)
	}
	return info
}
