package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/app"
	"github.com/km-arc/go-ioc/framework/container"
)

// ── Demo services ────────────────────────────────────────────────────────────

type Logger interface {
	Log(msg string, fields ...zap.Field)
}

type ConsoleLogger struct{ z *zap.Logger }

func NewConsoleLogger(z *zap.Logger) *ConsoleLogger { return &ConsoleLogger{z: z.Named("console")} }

func (l *ConsoleLogger) Log(msg string, fields ...zap.Field) { l.z.Info(msg, fields...) }

type User struct{ Name string }

type Order struct{ ID int }

type Repository[T any] interface {
	Add(item T)
	All() []T
}

type MemRepo[T any] struct {
	mu    sync.Mutex
	items []T
	log   Logger
}

func NewMemRepo[T any](log Logger) *MemRepo[T] { return &MemRepo[T]{log: log} }

func (r *MemRepo[T]) Add(item T) {
	r.mu.Lock()
	r.items = append(r.items, item)
	r.mu.Unlock()
	r.log.Log("repository add", zap.Any("item", item))
}

func (r *MemRepo[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}

type NeedsA interface{ A() }
type NeedsB interface{ B() }

type aService struct{ b NeedsB }
type bService struct{ a NeedsA }

func NewA(b NeedsB) *aService { return &aService{b: b} }
func NewB(a NeedsA) *bService { return &bService{a: a} }

func (*aService) A() {}
func (*bService) B() {}

// ── Demo provider ────────────────────────────────────────────────────────────

type DemoProvider struct{ container.BaseProvider }

func (p *DemoProvider) Register(reg *container.Registry) error {
	var errs []error
	_, err := reg.Register(
		container.Implementation(NewConsoleLogger),
		container.AsType[Logger](),
		container.WithLifetime(container.Singleton),
	)
	errs = append(errs, err)
	errs = append(errs, reg.AddOpenGeneric(
		container.OpenGeneric[Repository[any]](),
		container.OpenGeneric[*MemRepo[any]](),
		container.Transient,
		NewMemRepo[User], NewMemRepo[Order],
	))
	_, err = reg.Register(container.Implementation(NewA), container.AsType[NeedsA]())
	errs = append(errs, err)
	_, err = reg.Register(container.Implementation(NewB), container.AsType[NeedsB]())
	errs = append(errs, err)
	return multierr.Combine(errs...)
}

func main() {
	application, err := app.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := application.Logger

	if err := application.Register(&DemoProvider{}); err != nil {
		log.Fatal("register demo provider", zap.Error(err))
	}
	c, err := application.Build()
	if err != nil {
		log.Fatal("build container", zap.Error(err))
	}

	first := container.MustResolve[Logger](c)
	second := container.MustResolve[Logger](c)
	log.Info("singleton logger", zap.Bool("same_instance", first == second))

	users := container.MustResolve[Repository[User]](c)
	users.Add(User{Name: "alice"})
	log.Info("open generic repository", zap.Int("users", len(users.All())))

	if _, err := container.Resolve[NeedsA](c); err != nil {
		log.Info("circular dependency rejected", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := application.Serve(ctx); err != nil {
		log.Error("serve", zap.Error(err))
	}
	if err := application.Shutdown(context.Background()); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}
