package container_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-ioc/framework/container"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func mustRegister(t *testing.T, reg *container.Registry, opts ...container.RegistrationOption) *container.Registration {
	t.Helper()
	r, err := reg.Register(opts...)
	require.NoError(t, err)
	return r
}

func build(t *testing.T, register func(reg *container.Registry), opts ...container.Option) *container.Container {
	t.Helper()
	reg := container.NewRegistry()
	if register != nil {
		register(reg)
	}
	c, err := container.Build(reg, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Dispose)
	return c
}

func newScope(t *testing.T, c *container.Container) *container.Container {
	t.Helper()
	s, err := c.CreateScope()
	require.NoError(t, err)
	t.Cleanup(s.Dispose)
	return s
}

// ── services ─────────────────────────────────────────────────────────────────

type Logger interface {
	Log(msg string)
}

type consoleLogger struct {
	mu    sync.Mutex
	lines []string
}

func newConsoleLogger() *consoleLogger { return &consoleLogger{} }

func (l *consoleLogger) Log(msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, msg)
	l.mu.Unlock()
}

type NeedsA interface{ A() }
type NeedsB interface{ B() }

type aImpl struct{ b NeedsB }
type bImpl struct{ a NeedsA }

func newA(b NeedsB) *aImpl { return &aImpl{b: b} }
func newB(a NeedsA) *bImpl { return &bImpl{a: a} }

func (*aImpl) A() {}
func (*bImpl) B() {}

type Clock interface{ Now() int }

type fixedClock struct{ at int }

func (c *fixedClock) Now() int { return c.at }

// greeter depends on a Logger and an optional Clock.
type greeter struct {
	log   Logger
	clock Clock
}

func newGreeter(log Logger) *greeter { return &greeter{log: log} }

func newGreeterWithClock(log Logger, clock Clock) *greeter {
	return &greeter{log: log, clock: clock}
}

// ── disposables ──────────────────────────────────────────────────────────────

// closeLog records the order resources are released in.
type closeLog struct {
	mu    sync.Mutex
	names []string
}

func (l *closeLog) add(name string) {
	l.mu.Lock()
	l.names = append(l.names, name)
	l.mu.Unlock()
}

func (l *closeLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

type resource struct {
	name   string
	log    *closeLog
	err    error
	closed atomic.Int32
}

func (r *resource) Close() error {
	r.closed.Add(1)
	if r.log != nil {
		r.log.add(r.name)
	}
	return r.err
}

// disposer implements container.Disposable instead of io.Closer.
type disposer struct{ disposed atomic.Int32 }

func (d *disposer) Dispose() error {
	d.disposed.Add(1)
	return nil
}

type panicky struct{}

func (panicky) Close() error { panic("boom") }

func resourceFactory(name string, log *closeLog) container.Factory {
	return func(container.Resolver) (any, error) {
		return &resource{name: name, log: log}, nil
	}
}
