package container

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// plan is the resolved construction metadata of one registration.
type plan struct {
	ctor    Constructor
	members []Member
}

func (c *Container) plan(reg *Registration) (*plan, error) {
	ck := reg.cacheKey()
	if p, ok := c.shared.plans.Load(ck); ok {
		return p.(*plan), nil
	}
	ctors, err := c.opts.metadata.Constructors(reg.implType, reg.ctors)
	if err != nil {
		return nil, err
	}
	ctor, ok := selectConstructor(ctors)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConstructor, reg.implType)
	}
	members, err := c.opts.metadata.Members(reg.implType)
	if err != nil {
		return nil, err
	}
	p, _ := c.shared.plans.LoadOrStore(ck, &plan{ctor: ctor, members: members})
	return p.(*plan), nil
}

// selectConstructor picks the first preferred constructor, or else the one
// with the most parameters. Ties go to the earliest.
func selectConstructor(ctors []Constructor) (Constructor, bool) {
	if len(ctors) == 0 {
		return Constructor{}, false
	}
	best := 0
	for i, ctor := range ctors {
		if ctor.Preferred {
			return ctor, true
		}
		if len(ctor.Params) > len(ctors[best].Params) {
			best = i
		}
	}
	return ctors[best], true
}

// construct builds a new instance of reg: factory, or constructor followed by
// member injection.
func (c *Container) construct(req *request, reg *Registration, params []Parameter) (any, error) {
	if reg.factory != nil {
		v, err := reg.factory(&requestResolver{req: req})
		if err != nil {
			return nil, c.wrap(reg, err)
		}
		if isNil(reflect.ValueOf(v)) {
			return nil, c.wrap(reg, ErrNilInstance)
		}
		c.shared.stats.created.Add(1)
		return v, nil
	}

	p, err := c.plan(reg)
	if err != nil {
		return nil, c.wrap(reg, err)
	}
	args, err := c.dependencies(req, reg, p.ctor.Params, params)
	if err != nil {
		return nil, err
	}
	rv, err := p.ctor.Invoke(args)
	if err != nil {
		return nil, c.wrap(reg, err)
	}
	if isNil(rv) {
		return nil, c.wrap(reg, ErrNilInstance)
	}
	for _, m := range p.members {
		margs, err := c.dependencies(req, reg, m.Deps, params)
		if err != nil {
			return nil, err
		}
		if err := m.Inject(rv, margs); err != nil {
			return nil, c.wrap(reg, fmt.Errorf("injecting %s: %w", m.Name, err))
		}
	}
	c.shared.stats.created.Add(1)
	return rv.Interface(), nil
}

func (c *Container) dependencies(req *request, reg *Registration, deps []Dependency, runtime []Parameter) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(deps))
	for i, d := range deps {
		v, err := c.dependency(req, reg, d, runtime)
		if err != nil {
			return nil, &ResolutionError{Service: reg.ServiceType(), Key: reg.key, Keyed: reg.keyed, Param: d.Type, Err: err}
		}
		args[i] = v
	}
	return args, nil
}

// dependency satisfies d. Sources in order: runtime parameters, registration
// parameters, contextual parameters, then the container itself (from the
// parent when d asks for it), then d's default, then the zero value when d is
// optional.
func (c *Container) dependency(req *request, reg *Registration, d Dependency, runtime []Parameter) (reflect.Value, error) {
	for _, group := range [][]Parameter{runtime, reg.params, c.registry.contextualParameters(reg.implType)} {
		for _, p := range group {
			if !p.Matches(d) {
				continue
			}
			v, err := p.Value(&requestResolver{req: req}, d)
			if err != nil {
				return reflect.Value{}, err
			}
			return coerce(v, d.Type)
		}
	}

	sk := d.serviceKey()
	var (
		v   any
		err error
	)
	if d.FromParent {
		v, err = c.fromParent(req, sk)
	} else {
		v, err = c.resolve(req, sk, nil)
	}
	if err != nil {
		if !notRegistered(err, sk) {
			return reflect.Value{}, err
		}
		switch {
		case d.HasDefault:
			return d.Default, nil
		case d.Optional:
			return reflect.Zero(d.Type), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: %w", ErrUnresolvableParameter, err)
	}
	return coerce(v, d.Type)
}

// fromParent resolves sk from the scope c was created from. The root falls
// back to its external parent, and to itself when it has none.
func (c *Container) fromParent(req *request, sk serviceKey) (any, error) {
	if p := c.parent; p != nil {
		return p.resolve(req.on(p), sk, nil)
	}
	if p := c.opts.parent; p != nil {
		if sk.keyed {
			return p.ResolveKeyed(sk.typ, sk.key)
		}
		return p.Resolve(sk.typ)
	}
	return c.resolve(req, sk, nil)
}

// activate runs the registration's callbacks, then the container hooks.
func (c *Container) activate(req *request, reg *Registration, v any) error {
	if len(reg.onActivated) == 0 && len(c.opts.hooks) == 0 {
		return nil
	}
	ev := ActivationEvent{Registration: reg, Instance: v, Resolver: &requestResolver{req: req}}
	for _, group := range [][]ActivationFunc{reg.onActivated, c.opts.hooks} {
		for _, fn := range group {
			if err := fn(ev); err != nil {
				c.logger().Error("activation failed",
					zap.String("scope", c.id),
					zap.Stringer("registration", reg),
					zap.Error(err),
				)
				return c.wrap(reg, fmt.Errorf("activation: %w", err))
			}
		}
	}
	return nil
}
