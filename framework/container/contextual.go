package container

import "reflect"

// ContextualBuilder implements the fluent contextual binding API.
//
//	// When PhotoService needs a Filesystem, give it the S3 one.
//	reg.When(reflect.TypeFor[*PhotoService]()).
//	    Needs(reflect.TypeFor[Filesystem]()).
//	    Give(func(r container.Resolver) (any, error) {
//	        return r.ResolveKeyed(reflect.TypeFor[Filesystem](), "s3")
//	    })
type ContextualBuilder struct {
	registry *Registry
	concrete reflect.Type
	needs    reflect.Type
}

// When starts a contextual binding chain for an implementation type.
func (r *Registry) When(concrete reflect.Type) *ContextualBuilder {
	return &ContextualBuilder{registry: r, concrete: concrete}
}

// Needs specifies which dependency type the implementation asks for.
func (b *ContextualBuilder) Needs(dependency reflect.Type) *ContextualBuilder {
	b.needs = dependency
	return b
}

// Give provides the factory used when the implementation resolves the
// dependency type. It fails once the registry is frozen.
func (b *ContextualBuilder) Give(factory Factory) error {
	needs := b.needs
	return b.registry.addContextual(b.concrete, ResolvedParameter(
		func(d Dependency) bool { return d.Type == needs },
		func(r Resolver, _ Dependency) (any, error) { return factory(r) },
	))
}

// GiveValue is a shorthand for Give when the value is pre-built.
//
//	reg.When(reflect.TypeFor[*Uploader]()).Needs(reflect.TypeFor[string]()).GiveValue("/tmp/photos")
func (b *ContextualBuilder) GiveValue(value any) error {
	return b.Give(func(Resolver) (any, error) { return value, nil })
}
