package container

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// ── ServiceProvider interface ─────────────────────────────────────────────────

// ServiceProvider groups the registrations of one feature.
//
// Register runs while the registry is still building. Boot runs once the
// container exists, so it is safe to resolve services there.
//
//	type MailProvider struct{ container.BaseProvider }
//
//	func (p *MailProvider) Register(reg *container.Registry) error {
//	    _, err := reg.Register(
//	        container.Implementation(mail.NewSMTP),
//	        container.AsType[mail.Mailer](),
//	        container.WithLifetime(container.Singleton),
//	    )
//	    return err
//	}
type ServiceProvider interface {
	// Register adds registrations. Do not resolve anything here.
	Register(reg *Registry) error

	// Boot is called after the container is built.
	Boot(r Resolver) error

	// Provides lists the service types a deferred provider registers.
	Provides() []reflect.Type

	// IsDeferred reports whether Boot waits until one of the Provides types
	// is first activated.
	IsDeferred() bool
}

// ── BaseProvider ──────────────────────────────────────────────────────────────

// BaseProvider is an embeddable struct with no-op Boot, Provides and
// IsDeferred.
type BaseProvider struct{}

func (p *BaseProvider) Boot(Resolver) error      { return nil }
func (p *BaseProvider) Provides() []reflect.Type { return nil }
func (p *BaseProvider) IsDeferred() bool         { return false }

// ── ProviderRegistry ──────────────────────────────────────────────────────────

type providerEntry struct {
	provider ServiceProvider
	provides []reflect.Type
	booted   atomic.Bool
}

func (e *providerEntry) covers(reg *Registration) bool {
	for _, st := range reg.serviceTypes {
		if slices.Contains(e.provides, st) {
			return true
		}
	}
	return false
}

// ProviderRegistry registers providers into a Registry and boots them once
// the container is built. Deferred providers are booted by an activation
// hook, so build the container with Hook():
//
//	providers := container.NewProviderRegistry(reg)
//	providers.Register(&MailProvider{})
//	c, _ := container.Build(reg, providers.Hook())
//	err := providers.Boot(c)
type ProviderRegistry struct {
	registry *Registry

	mu         sync.Mutex
	entries    []*providerEntry
	registered map[ServiceProvider]bool
	root       Resolver
}

// NewProviderRegistry returns a provider registry feeding reg.
func NewProviderRegistry(reg *Registry) *ProviderRegistry {
	return &ProviderRegistry{
		registry:   reg,
		registered: make(map[ServiceProvider]bool),
	}
}

// Register calls provider.Register. Registering the same provider twice is a
// no-op. It fails once the registry is frozen.
func (r *ProviderRegistry) Register(provider ServiceProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered[provider] {
		return nil
	}
	if r.registry.Frozen() {
		return fmt.Errorf("%w: cannot register provider %T", ErrRegistryFrozen, provider)
	}
	if err := provider.Register(r.registry); err != nil {
		return fmt.Errorf("registering provider %T: %w", provider, err)
	}
	r.registered[provider] = true
	r.entries = append(r.entries, &providerEntry{provider: provider, provides: provider.Provides()})
	return nil
}

// Hook returns the container option that boots deferred providers.
func (r *ProviderRegistry) Hook() Option {
	return WithActivationHook(r.activated)
}

// Boot boots every eager provider in registration order and remembers root
// for deferred ones. Every provider is booted even if an earlier one fails;
// the errors are combined.
func (r *ProviderRegistry) Boot(root Resolver) error {
	r.mu.Lock()
	if r.root != nil {
		r.mu.Unlock()
		return nil
	}
	r.root = root
	entries := slices.Clone(r.entries)
	r.mu.Unlock()

	var errs error
	for _, e := range entries {
		if e.provider.IsDeferred() || !e.booted.CompareAndSwap(false, true) {
			continue
		}
		if err := e.provider.Boot(root); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("booting provider %T: %w", e.provider, err))
		}
	}
	return errs
}

func (r *ProviderRegistry) activated(ev ActivationEvent) error {
	r.mu.Lock()
	root := r.root
	entries := r.entries
	r.mu.Unlock()
	if root == nil {
		return nil
	}
	for _, e := range entries {
		if !e.provider.IsDeferred() || !e.covers(ev.Registration) {
			continue
		}
		if !e.booted.CompareAndSwap(false, true) {
			continue
		}
		if err := e.provider.Boot(bootResolver(root, ev)); err != nil {
			return fmt.Errorf("booting deferred provider %T: %w", e.provider, err)
		}
	}
	return nil
}

// bootResolver resolves from root as part of the call that activated ev, so
// a deferred provider can resolve the instance whose activation booted it.
func bootResolver(root Resolver, ev ActivationEvent) Resolver {
	rr, ok := ev.Resolver.(*requestResolver)
	if !ok {
		return root
	}
	c, ok := root.(*Container)
	if !ok {
		return root
	}
	return &requestResolver{req: rr.req.detached(c)}
}

// Booted reports whether Boot has been called.
func (r *ProviderRegistry) Booted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root != nil
}

// Providers returns the registered providers in registration order.
func (r *ProviderRegistry) Providers() []ServiceProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServiceProvider, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.provider)
	}
	return out
}

// Deferred returns the deferred providers whose Boot has not run yet.
func (r *ProviderRegistry) Deferred() []ServiceProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ServiceProvider
	for _, e := range r.entries {
		if e.provider.IsDeferred() && !e.booted.Load() {
			out = append(out, e.provider)
		}
	}
	return out
}
