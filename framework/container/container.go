package container

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Resolver answers "give me an instance of type T" queries.
type Resolver interface {
	Resolve(t reflect.Type) (any, error)
	ResolveKeyed(t reflect.Type, key any) (any, error)
	// ResolveWith resolves t using params ahead of every other source for
	// the dependencies of the instance it creates.
	ResolveWith(t reflect.Type, params ...Parameter) (any, error)
	TryResolve(t reflect.Type) (any, bool)
	TryResolveKeyed(t reflect.Type, key any) (any, bool)
	// ResolveAll builds every unkeyed registration of t.
	ResolveAll(t reflect.Type) ([]any, error)
	IsRegistered(t reflect.Type) bool
	IsRegisteredKeyed(t reflect.Type, key any) bool
	CreateScope() (*Container, error)
}

// Disposable is released by the container that owns it. io.Closer
// implementations are released the same way.
type Disposable interface {
	Dispose() error
}

// ── Options ───────────────────────────────────────────────────────────────────

// Option configures a root container.
type Option func(*options)

type options struct {
	logger           *zap.Logger
	metadata         MetadataProvider
	parent           Resolver
	disposeDiscarded bool
	trackScopes      bool
	validate         bool
	hooks            []ActivationFunc
}

// WithLogger sets the sink for disposal, activation and scope diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetadataProvider replaces the default TagMetadata.
func WithMetadataProvider(m MetadataProvider) Option {
	return func(o *options) {
		if m != nil {
			o.metadata = m
		}
	}
}

// WithParent sets a resolver consulted for services this container can't satisfy.
func WithParent(r Resolver) Option {
	return func(o *options) { o.parent = r }
}

// WithDisposeDiscarded controls whether an instance that lost a creation
// race is disposed right away. Defaults to true.
func WithDisposeDiscarded(on bool) Option {
	return func(o *options) { o.disposeDiscarded = on }
}

// WithScopeTracking makes every container remember its live child scopes and
// dispose them before itself.
func WithScopeTracking(on bool) Option {
	return func(o *options) { o.trackScopes = on }
}

// WithValidation runs Verify during Build.
func WithValidation(on bool) Option {
	return func(o *options) { o.validate = on }
}

// WithActivationHook adds a callback run after every registration's own
// activation callbacks.
func WithActivationHook(fn ActivationFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.hooks = append(o.hooks, fn)
		}
	}
}

// ── Container ─────────────────────────────────────────────────────────────────

// Container resolves services from a frozen Registry. The root container owns
// singletons; scopes created with CreateScope are containers too and own their
// scoped instances.
type Container struct {
	registry *Registry
	opts     *options
	root     *Container
	parent   *Container
	id       string

	mu          sync.Mutex
	singletons  map[cacheKey]any
	scoped      map[cacheKey]any
	pending     map[cacheKey]*inflight
	disposables []tracked
	disposed    atomic.Bool
	scopes      *ScopeManager

	shared *shared
}

// tracked is an owned disposable instance and the cache slot it came from.
type tracked struct {
	key   cacheKey
	value any
}

// shared is the state common to a root container and all of its scopes.
type shared struct {
	plans sync.Map // cacheKey -> *plan
	stats counters
}

// Build freezes reg and returns the root container.
func Build(reg *Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("container: nil registry")
	}
	o := &options{
		logger:           zap.NewNop(),
		metadata:         NewTagMetadata(""),
		disposeDiscarded: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	reg.Freeze()

	c := &Container{
		registry:   reg,
		opts:       o,
		id:         uuid.NewString(),
		singletons: make(map[cacheKey]any),
		scoped:     make(map[cacheKey]any),
		pending:    make(map[cacheKey]*inflight),
		shared:     &shared{},
	}
	c.root = c
	if o.trackScopes {
		c.scopes = newScopeManager()
	}
	for _, r := range reg.Registrations() {
		if r.hasInstance && r.ownedInstance && isDisposable(r.instance) {
			c.disposables = append(c.disposables, tracked{key: r.cacheKey(), value: r.instance})
		}
	}
	if o.validate {
		if err := c.Verify(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ContainerOf returns the container r resolves from. It accepts a container
// and the resolvers the container hands to factories, activation callbacks
// and deferred providers.
func ContainerOf(r Resolver) (*Container, bool) {
	switch r := r.(type) {
	case *Container:
		return r, true
	case *requestResolver:
		return r.req.owner, true
	}
	return nil, false
}

// ID returns the container's identifier (a UUID).
func (c *Container) ID() string { return c.id }

// Registry returns the frozen registry the container resolves from.
func (c *Container) Registry() *Registry { return c.registry }

// Root returns the root container.
func (c *Container) Root() *Container { return c.root }

// Parent returns the container this scope was created from, or nil for the root.
func (c *Container) Parent() *Container { return c.parent }

// IsScope reports whether c was created with CreateScope.
func (c *Container) IsScope() bool { return c.parent != nil }

// Disposed reports whether Dispose (or Close) has run.
func (c *Container) Disposed() bool { return c.disposed.Load() }

// IsRegistered reports whether t can be resolved without falling back to
// collection synthesis.
func (c *Container) IsRegistered(t reflect.Type) bool {
	if c.registry.Get(t) != nil {
		return true
	}
	if _, ok := c.registry.TryGetOpenGeneric(t); ok {
		return true
	}
	return c.opts.parent != nil && c.opts.parent.IsRegistered(t)
}

// IsRegisteredKeyed reports whether (t, key) has a registration.
func (c *Container) IsRegisteredKeyed(t reflect.Type, key any) bool {
	if !comparableKey(key) {
		return false
	}
	if c.registry.GetKeyed(t, key) != nil {
		return true
	}
	return c.opts.parent != nil && c.opts.parent.IsRegisteredKeyed(t, key)
}

func (c *Container) logger() *zap.Logger { return c.opts.logger }

func (c *Container) alive() error {
	if c.disposed.Load() || c.root.disposed.Load() {
		return ErrDisposed
	}
	return nil
}

func (c *Container) wrap(reg *Registration, err error) error {
	return &ResolutionError{Service: reg.ServiceType(), Key: reg.key, Keyed: reg.keyed, Err: err}
}

func comparableKey(key any) bool {
	return key == nil || reflect.TypeOf(key).Comparable()
}

func keyError(t reflect.Type, key any) error {
	return &ResolutionError{Service: t, Key: fmt.Sprintf("%T", key), Keyed: true,
		Err: fmt.Errorf("%w: key of type %T is not comparable", ErrInvalidRegistration, key)}
}

// ── Stats ─────────────────────────────────────────────────────────────────────

// Stats are counters shared by a root container and its scopes.
type Stats struct {
	Resolutions int64 `json:"resolutions"`
	CacheHits   int64 `json:"cache_hits"`
	Created     int64 `json:"created"`
	Failures    int64 `json:"failures"`
}

type counters struct {
	resolutions atomic.Int64
	cacheHits   atomic.Int64
	created     atomic.Int64
	failures    atomic.Int64
}

// Stats returns a snapshot of the resolution counters.
func (c *Container) Stats() Stats {
	s := &c.shared.stats
	return Stats{
		Resolutions: s.resolutions.Load(),
		CacheHits:   s.cacheHits.Load(),
		Created:     s.created.Load(),
		Failures:    s.failures.Load(),
	}
}
