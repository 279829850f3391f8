package providers

import (
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/config"
	"github.com/km-arc/go-ioc/framework/container"
	"github.com/km-arc/go-ioc/framework/diagnostics"
	"github.com/km-arc/go-ioc/framework/routing"
)

// ── ConfigServiceProvider ─────────────────────────────────────────────────────

// ConfigServiceProvider binds the loaded configuration.
//
// Registered services:
//   - *config.Config (instance)
type ConfigServiceProvider struct {
	container.BaseProvider
	Config *config.Config
}

func (p *ConfigServiceProvider) Register(reg *container.Registry) error {
	if p.Config == nil {
		return errors.New("config provider: nil config")
	}
	_, err := reg.Register(container.WithInstance(p.Config))
	return err
}

// ── LoggingServiceProvider ────────────────────────────────────────────────────

// LoggingServiceProvider binds the application logger. The logger stays
// owned by the caller, which is expected to Sync it on shutdown.
//
// Registered services:
//   - *zap.Logger (instance)
type LoggingServiceProvider struct {
	container.BaseProvider
	Logger *zap.Logger
}

func (p *LoggingServiceProvider) Register(reg *container.Registry) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	_, err := reg.Register(container.WithInstance(logger))
	return err
}

func (p *LoggingServiceProvider) Boot(r container.Resolver) error {
	logger, err := container.Resolve[*zap.Logger](r)
	if err != nil {
		return err
	}
	logger.Debug("logging provider booted")
	return nil
}

// ── RoutingServiceProvider ────────────────────────────────────────────────────

// RoutingServiceProvider registers the HTTP router, built from the logger.
//
// Registered services:
//   - *routing.Router (singleton)
type RoutingServiceProvider struct {
	container.BaseProvider
}

func (p *RoutingServiceProvider) Register(reg *container.Registry) error {
	_, err := reg.Register(
		container.Implementation(routing.New),
		container.WithLifetime(container.Singleton),
	)
	return err
}

// ── DiagnosticsServiceProvider ────────────────────────────────────────────────

// DiagnosticsServiceProvider mounts the diagnostics endpoints on the router
// the first time the router is created. It registers nothing itself.
//
// Boot must receive the root container or a resolver backed by it.
type DiagnosticsServiceProvider struct {
	container.BaseProvider
	Prefix string // default: "/_container"
}

func (p *DiagnosticsServiceProvider) Register(*container.Registry) error { return nil }

func (p *DiagnosticsServiceProvider) IsDeferred() bool { return true }

func (p *DiagnosticsServiceProvider) Provides() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[*routing.Router]()}
}

func (p *DiagnosticsServiceProvider) Boot(r container.Resolver) error {
	c, ok := container.ContainerOf(r)
	if !ok {
		return fmt.Errorf("diagnostics provider: booted with %T, want *container.Container", r)
	}
	router, err := container.Resolve[*routing.Router](r)
	if err != nil {
		return err
	}
	cfg, err := container.Resolve[*config.Config](r)
	if err != nil {
		return err
	}
	prefix := p.Prefix
	if prefix == "" {
		prefix = "/_container"
	}
	router.Prefix(prefix, func(sub *routing.Router) {
		sub.Middleware(routing.CORS(cfg.Diagnostics.CORSOrigins))
		diagnostics.New(c).Routes(sub)
	})
	return nil
}
