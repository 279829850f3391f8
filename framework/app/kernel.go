package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/config"
	"github.com/km-arc/go-ioc/framework/container"
	"github.com/km-arc/go-ioc/framework/logging"
	"github.com/km-arc/go-ioc/framework/providers"
	"github.com/km-arc/go-ioc/framework/routing"
)

// Application owns the registry, the providers and, once built, the root
// container.
type Application struct {
	Config    *config.Config
	Logger    *zap.Logger
	Registry  *container.Registry
	Providers *container.ProviderRegistry

	mu        sync.Mutex
	container *container.Container
	server    *http.Server
}

// New loads configuration from the environment and bootstraps the
// application.
func New(envFiles ...string) (*Application, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, logger)
}

// NewWithConfig bootstraps the application from an already loaded
// configuration and registers the framework providers.
func NewWithConfig(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := container.NewRegistry()
	a := &Application{
		Config:    cfg,
		Logger:    logger,
		Registry:  reg,
		Providers: container.NewProviderRegistry(reg),
	}
	for _, p := range []container.ServiceProvider{
		&providers.ConfigServiceProvider{Config: cfg},
		&providers.LoggingServiceProvider{Logger: logger},
		&providers.RoutingServiceProvider{},
		&providers.DiagnosticsServiceProvider{},
	} {
		if err := a.Providers.Register(p); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Register adds a ServiceProvider. It fails after Build.
func (a *Application) Register(provider container.ServiceProvider) error {
	return a.Providers.Register(provider)
}

// Build freezes the registry, builds the root container and boots the eager
// providers. Calling it again returns the same container.
func (a *Application) Build() (*container.Container, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.container != nil {
		return a.container, nil
	}
	opts := append(a.Config.ContainerOptions(),
		container.WithLogger(a.Logger),
		a.Providers.Hook(),
	)
	c, err := container.Build(a.Registry, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.Providers.Boot(c); err != nil {
		return nil, multierr.Append(err, c.Close())
	}
	a.container = c
	a.Logger.Info("container built",
		zap.String("container", c.ID()),
		zap.String("env", a.Config.App.Env),
		zap.Int("registrations", len(a.Registry.Registrations())),
	)
	return c, nil
}

// Container returns the root container, or nil before Build.
func (a *Application) Container() *container.Container {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.container
}

// Router resolves the HTTP router, building the application if needed.
func (a *Application) Router() (*routing.Router, error) {
	c, err := a.Build()
	if err != nil {
		return nil, err
	}
	return container.Resolve[*routing.Router](c)
}

// Serve exposes the diagnostics endpoints on Config.Diagnostics.Addr until
// ctx is cancelled. It returns immediately when no address is configured.
func (a *Application) Serve(ctx context.Context) error {
	addr := a.Config.Diagnostics.Addr
	if addr == "" {
		return nil
	}
	router, err := a.Router()
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.server = nil
		a.mu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("diagnostics listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serving diagnostics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the diagnostics server and disposes the container.
func (a *Application) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	srv, c := a.server, a.container
	a.mu.Unlock()

	var errs error
	if srv != nil {
		errs = multierr.Append(errs, srv.Shutdown(ctx))
	}
	if c != nil {
		errs = multierr.Append(errs, c.Close())
	}
	_ = a.Logger.Sync()
	return errs
}
