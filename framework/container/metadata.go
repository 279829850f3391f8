package container

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ── Injection metadata ────────────────────────────────────────────────────────

// Dependency describes one injectable slot: a constructor parameter, a field
// of a parameter object, an injected struct field or an injection method
// argument.
type Dependency struct {
	Name       string
	Type       reflect.Type
	Key        any
	Keyed      bool
	Optional   bool
	FromParent bool
	Default    reflect.Value
	HasDefault bool
}

func (d Dependency) serviceKey() serviceKey {
	return serviceKey{typ: d.Type, key: d.Key, keyed: d.Keyed}
}

// Constructor is one way of building an implementation. Invoke receives one
// value per entry in Params, in order.
type Constructor struct {
	Params    []Dependency
	Preferred bool
	Invoke    func(args []reflect.Value) (reflect.Value, error)
}

// Member is an injection point run after construction. Inject receives the
// constructed instance and one value per entry in Deps.
type Member struct {
	Name   string
	Deps   []Dependency
	Inject func(target reflect.Value, args []reflect.Value) error
}

// MetadataProvider tells the container how to build and inject an
// implementation type. ctors are the raw constructors given at registration
// (possibly wrapped by Inject); an empty slice asks for a default way of
// building impl.
type MetadataProvider interface {
	Constructors(impl reflect.Type, ctors []any) ([]Constructor, error)
	// Members returns injection points in the order they must run.
	Members(impl reflect.Type) ([]Member, error)
}

// In marks a struct as a parameter object: when a constructor or injection
// method takes such a struct, each exported field becomes its own dependency.
//
//	type handlerParams struct {
//	    container.In
//	    Log   Logger
//	    Cache Cache  `inject:"key=redis,optional"`
//	    Limit int    `inject:"optional" default:"10"`
//	}
type In struct{}

var inType = reflect.TypeFor[In]()

// InjectionOrderer lets an implementation order its injection methods.
// Methods run in ascending order; missing names default to 0. It is called on
// a zero value, so it must depend on the type only.
type InjectionOrderer interface {
	InjectionOrder() map[string]int
}

type preferredConstructor struct{ fn any }

// Inject marks a constructor as the one to use when a registration lists
// several.
func Inject(fn any) any { return preferredConstructor{fn: fn} }

func unwrapConstructor(c any) (fn any, preferred bool) {
	if p, ok := c.(preferredConstructor); ok {
		return p.fn, true
	}
	return c, false
}

// ── TagMetadata ───────────────────────────────────────────────────────────────

// TagMetadata is the default MetadataProvider. It reads struct tags:
//
//	inject:"key=primary,name=db,optional,parent"
//	default:"42"
//
// Fields of an implementation struct are injected when they carry the
// inject tag. Exported pointer-receiver methods named Inject or InjectXxx are
// injection methods.
type TagMetadata struct {
	Tag        string
	DefaultTag string
}

// NewTagMetadata returns a TagMetadata reading the given tag name
// ("inject" when empty).
func NewTagMetadata(tag string) *TagMetadata {
	if tag == "" {
		tag = "inject"
	}
	return &TagMetadata{Tag: tag, DefaultTag: "default"}
}

func (m *TagMetadata) Constructors(impl reflect.Type, ctors []any) ([]Constructor, error) {
	if len(ctors) == 0 {
		c, err := zeroConstructor(impl)
		if err != nil {
			return nil, err
		}
		return []Constructor{c}, nil
	}
	out := make([]Constructor, 0, len(ctors))
	for _, raw := range ctors {
		fn, preferred := unwrapConstructor(raw)
		c, err := m.constructor(fn)
		if err != nil {
			return nil, err
		}
		c.Preferred = preferred
		out = append(out, c)
	}
	return out, nil
}

func (m *TagMetadata) constructor(fn any) (Constructor, error) {
	if _, err := constructorResult(fn); err != nil {
		return Constructor{}, err
	}
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	deps, build, err := m.arguments(ft, 0)
	if err != nil {
		return Constructor{}, err
	}
	invoke := func(args []reflect.Value) (reflect.Value, error) {
		in := build(args)
		var out []reflect.Value
		if ft.IsVariadic() {
			out = fv.CallSlice(in)
		} else {
			out = fv.Call(in)
		}
		if len(out) == 2 && !out[1].IsNil() {
			return reflect.Value{}, out[1].Interface().(error)
		}
		return out[0], nil
	}
	return Constructor{Params: deps, Invoke: invoke}, nil
}

// arguments flattens the inputs of ft starting at index from. The returned
// builder turns flattened values back into call arguments.
func (m *TagMetadata) arguments(ft reflect.Type, from int) ([]Dependency, func([]reflect.Value) []reflect.Value, error) {
	var deps []Dependency
	type slot struct {
		typ    reflect.Type
		start  int
		fields [][]int // nil for plain arguments
	}
	slots := make([]slot, 0, ft.NumIn()-from)
	for i := from; i < ft.NumIn(); i++ {
		pt := ft.In(i)
		if !isParameterObject(pt) {
			slots = append(slots, slot{typ: pt, start: len(deps)})
			deps = append(deps, Dependency{Type: pt})
			continue
		}
		s := slot{typ: pt, start: len(deps)}
		for j := 0; j < pt.NumField(); j++ {
			f := pt.Field(j)
			if f.Anonymous && f.Type == inType {
				continue
			}
			if !f.IsExported() {
				return nil, nil, fmt.Errorf("%w: parameter object %s has unexported field %s", ErrInvalidRegistration, pt, f.Name)
			}
			d, skip, err := m.fieldDependency(f)
			if err != nil {
				return nil, nil, err
			}
			if skip {
				continue
			}
			s.fields = append(s.fields, f.Index)
			deps = append(deps, d)
		}
		if s.fields == nil {
			s.fields = [][]int{}
		}
		slots = append(slots, s)
	}
	build := func(args []reflect.Value) []reflect.Value {
		in := make([]reflect.Value, len(slots))
		for i, s := range slots {
			if s.fields == nil {
				in[i] = args[s.start]
				continue
			}
			obj := reflect.New(s.typ).Elem()
			for j, idx := range s.fields {
				obj.FieldByIndex(idx).Set(args[s.start+j])
			}
			in[i] = obj
		}
		return in
	}
	return deps, build, nil
}

func isParameterObject(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		if f := t.Field(i); f.Anonymous && f.Type == inType {
			return true
		}
	}
	return false
}

// fieldDependency reads the inject and default tags of f.
func (m *TagMetadata) fieldDependency(f reflect.StructField) (Dependency, bool, error) {
	d := Dependency{Name: f.Name, Type: f.Type}
	tag := f.Tag.Get(m.Tag)
	if tag == "-" {
		return d, true, nil
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		name, value, _ := strings.Cut(part, "=")
		switch name {
		case "":
		case "key":
			d.Key, d.Keyed = value, true
		case "name":
			d.Name = value
		case "optional":
			d.Optional = true
		case "parent":
			d.FromParent = true
		default:
			return d, false, fmt.Errorf("%w: unknown %s option %q on field %s", ErrInvalidRegistration, m.Tag, name, f.Name)
		}
	}
	if raw, ok := f.Tag.Lookup(m.DefaultTag); ok {
		v, err := parseDefault(f.Type, raw)
		if err != nil {
			return d, false, fmt.Errorf("%w: field %s: %v", ErrInvalidRegistration, f.Name, err)
		}
		d.Default, d.HasDefault = v, true
	}
	return d, false, nil
}

func (m *TagMetadata) Members(impl reflect.Type) ([]Member, error) {
	if impl.Kind() != reflect.Pointer || impl.Elem().Kind() != reflect.Struct {
		return nil, nil
	}
	var members []Member
	elem := impl.Elem()
	for i := 0; i < elem.NumField(); i++ {
		f := elem.Field(i)
		if _, ok := f.Tag.Lookup(m.Tag); !ok {
			continue
		}
		d, skip, err := m.fieldDependency(f)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		if !f.IsExported() {
			return nil, fmt.Errorf("%w: %s.%s is tagged for injection but unexported", ErrInvalidRegistration, elem, f.Name)
		}
		index := f.Index
		members = append(members, Member{
			Name: f.Name,
			Deps: []Dependency{d},
			Inject: func(target reflect.Value, args []reflect.Value) error {
				target.Elem().FieldByIndex(index).Set(args[0])
				return nil
			},
		})
	}

	methods, err := m.methods(impl)
	if err != nil {
		return nil, err
	}
	return append(members, methods...), nil
}

func (m *TagMetadata) methods(impl reflect.Type) ([]Member, error) {
	var order map[string]int
	if impl.Implements(reflect.TypeFor[InjectionOrderer]()) {
		order = reflect.New(impl.Elem()).Interface().(InjectionOrderer).InjectionOrder()
	}
	var out []Member
	for i := 0; i < impl.NumMethod(); i++ {
		meth := impl.Method(i)
		if !isInjectionMethod(meth.Name) {
			continue
		}
		mt := meth.Type
		if mt.NumOut() > 1 || (mt.NumOut() == 1 && mt.Out(0) != errorType) {
			return nil, fmt.Errorf("%w: injection method %s.%s must return nothing or error", ErrInvalidRegistration, impl, meth.Name)
		}
		deps, build, err := m.arguments(mt, 1)
		if err != nil {
			return nil, err
		}
		fn := meth.Func
		variadic := mt.IsVariadic()
		out = append(out, Member{
			Name: meth.Name,
			Deps: deps,
			Inject: func(target reflect.Value, args []reflect.Value) error {
				in := append([]reflect.Value{target}, build(args)...)
				var res []reflect.Value
				if variadic {
					res = fn.CallSlice(in)
				} else {
					res = fn.Call(in)
				}
				if len(res) == 1 && !res[0].IsNil() {
					return res[0].Interface().(error)
				}
				return nil
			},
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return order[out[i].Name] < order[out[j].Name] })
	return out, nil
}

// isInjectionMethod matches "Inject" and "InjectXxx" but not "Injection...".
func isInjectionMethod(name string) bool {
	if name == "Inject" {
		return true
	}
	rest, ok := strings.CutPrefix(name, "Inject")
	return ok && rest != "" && unicode.IsUpper(rune(rest[0]))
}

func zeroConstructor(impl reflect.Type) (Constructor, error) {
	var build func() reflect.Value
	switch impl.Kind() {
	case reflect.Interface:
		return Constructor{}, fmt.Errorf("%w: %s", ErrAbstractType, impl)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Invalid:
		return Constructor{}, fmt.Errorf("%w: %s has no zero-value constructor", ErrNoConstructor, impl)
	case reflect.Pointer:
		elem := impl.Elem()
		build = func() reflect.Value { return reflect.New(elem) }
	default:
		build = func() reflect.Value { return reflect.New(impl).Elem() }
	}
	return Constructor{Invoke: func([]reflect.Value) (reflect.Value, error) { return build(), nil }}, nil
}

var durationType = reflect.TypeFor[time.Duration]()

func parseDefault(t reflect.Type, raw string) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	if t == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return v, err
		}
		v.SetInt(int64(d))
		return v, nil
	}
	switch t.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return v, err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetFloat(f)
	default:
		return v, fmt.Errorf("default values are not supported for %s", t)
	}
	return v, nil
}
