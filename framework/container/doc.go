// Package container provides a reflection-based dependency injection
// container with lifetimes, scopes, keyed services, open generics and
// service providers.
//
// # Lifecycle
//
//  1. Describe services: reg := container.NewRegistry(); reg.Register(...)
//  2. Build: c, err := container.Build(reg) freezes the registry
//  3. Resolve from c, or from scopes created with c.CreateScope()
//  4. Dispose: c.Close() releases owned instances in reverse creation order
//
// # Registrations
//
//	// Constructor, one instance per container lifetime
//	reg.Register(
//	    container.Implementation(NewConsoleLogger),
//	    container.AsType[Logger](),
//	    container.WithLifetime(container.Singleton),
//	)
//
//	// Factory, new instance per resolution
//	reg.Register(
//	    container.WithFactory(func(r container.Resolver) (any, error) {
//	        return &Clock{}, nil
//	    }),
//	    container.AsType[*Clock](),
//	)
//
//	// Pre-built value
//	reg.Register(container.WithInstance(cfg))
//
//	// Keyed, only reachable through ResolveKeyed or a key= tag
//	reg.Register(container.Implementation(NewRedisCache), container.AsType[Cache](), container.Keyed("redis"))
//
// # Resolving
//
//	logger, err := container.Resolve[Logger](c)
//	redis, err := container.ResolveKeyed[Cache](c, "redis")
//	all, err := container.ResolveAll[Handler](c)
//
// A constructor parameter of type []T or iter.Seq[T] receives every unkeyed
// registration of T.
//
// # Parameter objects and member injection
//
// A constructor may take a struct embedding container.In; each exported field
// is resolved on its own and may carry options:
//
//	type params struct {
//	    container.In
//	    Cache   Cache         `inject:"key=redis"`
//	    Metrics Metrics       `inject:"optional"`
//	    Timeout time.Duration `inject:"optional" default:"5s"`
//	}
//
// After construction, fields of the implementation tagged with inject are set,
// then methods named Inject or InjectXxx are called with resolved arguments.
//
// # Open generics
//
//	reg.AddOpenGeneric(
//	    container.OpenGeneric[Repository[any]](),
//	    container.OpenGeneric[*MemRepo[any]](),
//	    container.Scoped,
//	    NewMemRepo[User], NewMemRepo[Order],
//	)
//	users, err := container.Resolve[Repository[User]](scope)
//
// # Contextual parameters
//
//	reg.When(reflect.TypeFor[*PhotoService]()).
//	    Needs(reflect.TypeFor[Filesystem]()).
//	    Give(func(r container.Resolver) (any, error) {
//	        return r.ResolveKeyed(reflect.TypeFor[Filesystem](), "s3")
//	    })
//
// # Service providers
//
//	providers := container.NewProviderRegistry(reg)
//	providers.Register(&MailProvider{})
//	c, err := container.Build(reg, providers.Hook())
//	err = providers.Boot(c)
package container
