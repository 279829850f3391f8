package container

import (
	"fmt"

	"go.uber.org/multierr"
)

// Verify checks the registration graph without creating anything: every
// constructor-built registration must have usable metadata, its required
// dependencies must be resolvable, and no cycle may run through constructor
// parameters. Factories and instances are opaque and are not followed.
// Parameters supplied at runtime through ResolveWith are not known here.
func (c *Container) Verify() error {
	var errs error
	for _, reg := range c.registry.Registrations() {
		if reg.hasInstance || reg.factory != nil {
			continue
		}
		p, err := c.plan(reg)
		if err != nil {
			errs = multierr.Append(errs, c.wrap(reg, err))
			continue
		}
		for _, d := range planDependencies(p) {
			if c.covered(reg, d) || d.Optional || d.HasDefault {
				continue
			}
			sk := d.serviceKey()
			if !c.satisfiable(sk) {
				errs = multierr.Append(errs, &ResolutionError{
					Service: reg.ServiceType(), Key: reg.key, Keyed: reg.keyed, Param: d.Type,
					Err: fmt.Errorf("%w: %s is not registered", ErrUnresolvableParameter, sk),
				})
			}
		}
	}
	if errs != nil {
		return errs
	}
	return c.verifyAcyclic()
}

func planDependencies(p *plan) []Dependency {
	deps := append([]Dependency(nil), p.ctor.Params...)
	for _, m := range p.members {
		deps = append(deps, m.Deps...)
	}
	return deps
}

// covered reports whether a registration or contextual parameter supplies d.
func (c *Container) covered(reg *Registration, d Dependency) bool {
	for _, group := range [][]Parameter{reg.params, c.registry.contextualParameters(reg.implType)} {
		for _, p := range group {
			if p.Matches(d) {
				return true
			}
		}
	}
	return false
}

func (c *Container) satisfiable(sk serviceKey) bool {
	if c.registry.lookup(sk) != nil {
		return true
	}
	if !sk.keyed {
		if _, ok := c.registry.TryGetOpenGeneric(sk.typ); ok {
			return true
		}
		if _, ok := collectionElement(sk.typ); ok {
			return true
		}
	}
	if p := c.opts.parent; p != nil {
		if sk.keyed {
			return p.IsRegisteredKeyed(sk.typ, sk.key)
		}
		return p.IsRegistered(sk.typ)
	}
	return false
}

// edges returns the services the registration behind sk depends on.
func (c *Container) edges(sk serviceKey) []serviceKey {
	reg := c.registry.lookup(sk)
	if reg == nil && !sk.keyed {
		reg, _ = c.registry.TryGetOpenGeneric(sk.typ)
	}
	if reg == nil || reg.hasInstance || reg.factory != nil {
		return nil
	}
	p, err := c.plan(reg)
	if err != nil {
		return nil
	}
	var out []serviceKey
	for _, d := range planDependencies(p) {
		if !c.covered(reg, d) {
			out = append(out, d.serviceKey())
		}
	}
	return out
}

func (c *Container) verifyAcyclic() error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[serviceKey]int)
	var stack []serviceKey
	var visit func(sk serviceKey) error
	visit = func(sk serviceKey) error {
		switch state[sk] {
		case done:
			return nil
		case visiting:
			var path []string
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == sk {
					for _, s := range stack[i:] {
						path = append(path, s.String())
					}
					break
				}
			}
			return &CircularDependencyError{Service: sk.typ, Path: append(path, sk.String())}
		}
		state[sk] = visiting
		stack = append(stack, sk)
		for _, dep := range c.edges(sk) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[sk] = done
		return nil
	}
	for _, reg := range c.registry.Registrations() {
		for _, st := range reg.serviceTypes {
			if err := visit(serviceKey{typ: st, key: reg.key, keyed: reg.keyed}); err != nil {
				return err
			}
		}
	}
	return nil
}
