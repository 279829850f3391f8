package container_test

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-ioc/framework/container"
)

// ── Example scenario ──────────────────────────────────────────────────────────

func TestContainer_SingletonLoggerAndCircularPair(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.Implementation(newConsoleLogger),
			container.AsType[Logger](),
			container.WithLifetime(container.Singleton),
		)
		require.NoError(t, reg.AddOpenGeneric(
			container.OpenGeneric[Repo[any]](),
			container.OpenGeneric[*memRepo[any]](),
			container.Transient,
			newMemRepo[user],
		))
		mustRegister(t, reg, container.Implementation(newB), container.AsType[NeedsB]())
		mustRegister(t, reg, container.Implementation(newA), container.AsType[NeedsA]())
	})

	first, err := container.Resolve[Logger](c)
	require.NoError(t, err)
	second, err := container.Resolve[Logger](c)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = container.Resolve[NeedsA](c)
	require.ErrorIs(t, err, container.ErrCircularDependency)
	var circ *container.CircularDependencyError
	require.ErrorAs(t, err, &circ)
	assert.Equal(t, []string{"container_test.NeedsA", "container_test.NeedsB", "container_test.NeedsA"}, circ.Path)
	assert.Contains(t, err.Error(), "container_test.NeedsA -> container_test.NeedsB -> container_test.NeedsA")

	third, err := container.Resolve[Logger](c)
	require.NoError(t, err)
	assert.Same(t, first, third)
}

// ── Lifetimes ─────────────────────────────────────────────────────────────────

func TestContainer_Transient_NewInstanceEveryTime(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.Implementation(newConsoleLogger), container.AsType[Logger]())
	})

	a := container.MustResolve[Logger](c)
	b := container.MustResolve[Logger](c)
	assert.NotSame(t, a, b)
}

func TestContainer_Singleton_SharedAcrossScopes(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.Implementation(newConsoleLogger),
			container.AsType[Logger](),
			container.WithLifetime(container.Singleton),
		)
	})
	s1, s2 := newScope(t, c), newScope(t, c)

	root := container.MustResolve[Logger](c)
	assert.Same(t, root, container.MustResolve[Logger](s1))
	assert.Same(t, root, container.MustResolve[Logger](s2))
}

func TestContainer_Singleton_FirstResolvedFromScopeSurvivesScope(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.WithFactory(resourceFactory("single", nil)),
			container.AsType[*resource](),
			container.WithLifetime(container.Singleton),
		)
	})
	s, err := c.CreateScope()
	require.NoError(t, err)

	fromScope := container.MustResolve[*resource](s)
	require.NoError(t, s.Close())

	assert.Zero(t, fromScope.closed.Load(), "singletons belong to the root")
	assert.Same(t, fromScope, container.MustResolve[*resource](c))
}

func TestContainer_SingletonDependencyOfTransient(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.Implementation(newConsoleLogger),
			container.AsType[Logger](),
			container.WithLifetime(container.Singleton),
		)
		mustRegister(t, reg, container.Implementation(newGreeter))
	})

	g1 := container.MustResolve[*greeter](c)
	g2 := container.MustResolve[*greeter](c)
	assert.NotSame(t, g1, g2)
	assert.Same(t, g1.log, g2.log)
}

func TestContainer_Instance_ReturnedAsIs(t *testing.T) {
	clock := &fixedClock{at: 7}
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.WithInstance(clock), container.AsType[Clock]())
	})

	got, err := container.Resolve[Clock](c)
	require.NoError(t, err)
	assert.Same(t, clock, got)
}

// ── Constructors and factories ────────────────────────────────────────────────

func TestContainer_PrefersConstructorWithMostParameters(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.Implementation(newConsoleLogger), container.AsType[Logger]())
		mustRegister(t, reg, container.WithInstance(&fixedClock{at: 3}), container.AsType[Clock]())
		mustRegister(t, reg, container.Implementation(newGreeter, newGreeterWithClock))
	})

	g := container.MustResolve[*greeter](c)
	require.NotNil(t, g.clock)
	assert.Equal(t, 3, g.clock.Now())
}

func TestContainer_InjectMarksPreferredConstructor(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.Implementation(newConsoleLogger), container.AsType[Logger]())
		mustRegister(t, reg, container.WithInstance(&fixedClock{at: 3}), container.AsType[Clock]())
		mustRegister(t, reg, container.Implementation(container.Inject(newGreeter), newGreeterWithClock))
	})

	g := container.MustResolve[*greeter](c)
	assert.Nil(t, g.clock)
}

func TestContainer_ConstructorError(t *testing.T) {
	boom := errors.New("boom")
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.Implementation(func() (*fixedClock, error) { return nil, boom }))
	})

	_, err := container.Resolve[*fixedClock](c)
	assert.ErrorIs(t, err, boom)
	var re *container.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, reflect.TypeFor[*fixedClock](), re.Service)
}

func TestContainer_FactoryReturningNil(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.WithFactory(func(container.Resolver) (any, error) { return nil, nil }),
			container.AsType[Clock](),
		)
	})

	_, err := container.Resolve[Clock](c)
	assert.ErrorIs(t, err, container.ErrNilInstance)
}

func TestContainer_FactoryResolvesDependencies(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.Implementation(newConsoleLogger), container.AsType[Logger]())
		mustRegister(t, reg,
			container.WithFactory(func(r container.Resolver) (any, error) {
				log, err := container.Resolve[Logger](r)
				if err != nil {
					return nil, err
				}
				return newGreeter(log), nil
			}),
			container.AsType[*greeter](),
		)
	})

	g := container.MustResolve[*greeter](c)
	assert.NotNil(t, g.log)
}

func TestContainer_CircularDependencyThroughFactory(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.WithFactory(func(r container.Resolver) (any, error) {
				b, err := container.Resolve[NeedsB](r)
				if err != nil {
					return nil, err
				}
				return newA(b), nil
			}),
			container.AsType[NeedsA](),
		)
		mustRegister(t, reg, container.Implementation(newB), container.AsType[NeedsB]())
	})

	_, err := container.Resolve[NeedsA](c)
	assert.ErrorIs(t, err, container.ErrCircularDependency)
}

func TestContainer_AbstractImplementation(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.Concrete[Logger]())
	})

	_, err := container.Resolve[Logger](c)
	assert.ErrorIs(t, err, container.ErrAbstractType)
}

// ── Missing services ──────────────────────────────────────────────────────────

func TestContainer_NotRegistered(t *testing.T) {
	c := build(t, nil)

	_, err := container.Resolve[Clock](c)
	require.ErrorIs(t, err, container.ErrNotRegistered)
	assert.Equal(t, "container: resolving container_test.Clock: service not registered", err.Error())
}

func TestContainer_MissingDependencyNamesParameter(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.Implementation(newGreeter))
	})

	_, err := container.Resolve[*greeter](c)
	require.ErrorIs(t, err, container.ErrUnresolvableParameter)
	var re *container.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, reflect.TypeFor[Logger](), re.Param)
	assert.Contains(t, err.Error(), "parameter container_test.Logger")
}

func TestContainer_TryResolve(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.Implementation(newConsoleLogger), container.AsType[Logger]())
		mustRegister(t, reg, container.Implementation(newB), container.AsType[NeedsB]())
		mustRegister(t, reg, container.Implementation(newA), container.AsType[NeedsA]())
	})

	log, ok := container.TryResolve[Logger](c)
	assert.True(t, ok)
	assert.NotNil(t, log)

	_, ok = container.TryResolve[Clock](c)
	assert.False(t, ok)

	_, ok = container.TryResolve[NeedsA](c)
	assert.False(t, ok, "circular failures are reported as false")

	v, ok := c.TryResolveKeyed(clockType, "missing")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestContainer_IsRegistered(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.Implementation(newConsoleLogger), container.AsType[Logger]())
		mustRegister(t, reg, container.WithInstance(&fixedClock{}), container.AsType[Clock](), container.Keyed("utc"))
	})

	assert.True(t, c.IsRegistered(reflect.TypeFor[Logger]()))
	assert.False(t, c.IsRegistered(clockType))
	assert.True(t, c.IsRegisteredKeyed(clockType, "utc"))
	assert.False(t, c.IsRegisteredKeyed(clockType, "local"))
}

// ── Keyed services ────────────────────────────────────────────────────────────

func TestContainer_ResolveKeyed(t *testing.T) {
	utc, local := &fixedClock{at: 0}, &fixedClock{at: 2}
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.WithInstance(utc), container.AsType[Clock](), container.Keyed("utc"))
		mustRegister(t, reg, container.WithInstance(local), container.AsType[Clock](), container.Keyed("local"))
	})

	got, err := container.ResolveKeyed[Clock](c, "local")
	require.NoError(t, err)
	assert.Same(t, local, got)

	_, err = container.Resolve[Clock](c)
	assert.ErrorIs(t, err, container.ErrNotRegistered, "keyed registrations are invisible to plain lookups")

	_, err = container.ResolveKeyed[Clock](c, "mars")
	var re *container.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Keyed)
	assert.Equal(t, "mars", re.Key)
}

func TestContainer_KeyedSingletonsAreCachedPerKey(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		for _, key := range []string{"a", "b"} {
			mustRegister(t, reg,
				container.Concrete[*fixedClock](),
				container.AsType[Clock](),
				container.Keyed(key),
				container.WithLifetime(container.Singleton),
			)
		}
	})

	a1, _ := container.ResolveKeyed[Clock](c, "a")
	a2, _ := container.ResolveKeyed[Clock](c, "a")
	b, _ := container.ResolveKeyed[Clock](c, "b")
	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
}

func TestContainer_ResolveKeyed_NonComparableKey(t *testing.T) {
	c := build(t, nil)
	_, err := c.ResolveKeyed(clockType, []int{1})
	assert.ErrorIs(t, err, container.ErrInvalidRegistration)
}

// ── ResolveAll ────────────────────────────────────────────────────────────────

func TestContainer_ResolveAll_InRegistrationOrder(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		for i := 1; i <= 3; i++ {
			mustRegister(t, reg, container.WithInstance(&fixedClock{at: i}), container.AsType[Clock]())
		}
		mustRegister(t, reg, container.WithInstance(&fixedClock{at: 99}), container.AsType[Clock](), container.Keyed("x"))
	})

	clocks, err := container.ResolveAll[Clock](c)
	require.NoError(t, err)
	require.Len(t, clocks, 3)
	for i, clock := range clocks {
		assert.Equal(t, i+1, clock.Now())
	}
}

func TestContainer_ResolveAll_EmptyWhenNothingRegistered(t *testing.T) {
	c := build(t, nil)

	clocks, err := container.ResolveAll[Clock](c)
	require.NoError(t, err)
	assert.Empty(t, clocks)
}

type manualClock struct{ at int }

func (c *manualClock) Now() int { return c.at }

func TestContainer_LastRegistrationWinsButCollectionsSeeAll(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.Implementation(func() *fixedClock { return &fixedClock{at: 1} }),
			container.AsType[Clock](),
		)
		mustRegister(t, reg,
			container.Implementation(func() *manualClock { return &manualClock{at: 2} }),
			container.AsType[Clock](),
		)
		mustRegister(t, reg, container.Implementation(newSliceConsumer))
	})

	clock, err := container.Resolve[Clock](c)
	require.NoError(t, err)
	assert.IsType(t, &manualClock{}, clock)

	clocks := container.MustResolve[*sliceConsumer](c).clocks
	require.Len(t, clocks, 2)
	assert.IsType(t, &fixedClock{}, clocks[0])
	assert.IsType(t, &manualClock{}, clocks[1])
}

func TestContainerOf(t *testing.T) {
	var inside *container.Container
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.WithFactory(func(r container.Resolver) (any, error) {
				inside, _ = container.ContainerOf(r)
				return &fixedClock{}, nil
			}),
			container.AsType[Clock](),
			container.WithLifetime(container.Scoped),
		)
	})
	s := newScope(t, c)

	got, ok := container.ContainerOf(c)
	require.True(t, ok)
	assert.Same(t, c, got)

	container.MustResolve[Clock](s)
	assert.Same(t, s, inside)

	_, ok = container.ContainerOf(struct{ container.Resolver }{c})
	assert.False(t, ok)
}

// ── Fallback resolver ─────────────────────────────────────────────────────────

func TestContainer_FallsBackToParentResolver(t *testing.T) {
	clock := &fixedClock{at: 5}
	outer := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.WithInstance(clock), container.AsType[Clock]())
	})
	inner := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.Implementation(newConsoleLogger), container.AsType[Logger]())
		mustRegister(t, reg, container.Implementation(newGreeterWithClock))
	}, container.WithParent(outer))

	g := container.MustResolve[*greeter](inner)
	assert.Same(t, clock, g.clock)
	assert.True(t, inner.IsRegistered(clockType))

	clocks, err := container.ResolveAll[Clock](inner)
	require.NoError(t, err)
	assert.Len(t, clocks, 1)

	_, err = container.Resolve[NeedsA](inner)
	assert.ErrorIs(t, err, container.ErrNotRegistered)
}

// ── Activation ────────────────────────────────────────────────────────────────

func TestContainer_OnActivated_OncePerInstance(t *testing.T) {
	var transient, singleton atomic.Int32
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.Implementation(newConsoleLogger),
			container.AsType[Logger](),
			container.OnActivated(func(ev container.ActivationEvent) error {
				transient.Add(1)
				ev.Instance.(Logger).Log("activated")
				return nil
			}),
		)
		mustRegister(t, reg,
			container.Concrete[*fixedClock](),
			container.WithLifetime(container.Singleton),
			container.OnActivated(func(container.ActivationEvent) error {
				singleton.Add(1)
				return nil
			}),
		)
	})

	for i := 0; i < 3; i++ {
		container.MustResolve[Logger](c)
		container.MustResolve[*fixedClock](c)
	}
	assert.Equal(t, int32(3), transient.Load())
	assert.Equal(t, int32(1), singleton.Load())
}

func TestContainer_OnActivated_ErrorEvictsInstance(t *testing.T) {
	var attempts atomic.Int32
	log := &closeLog{}
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.WithFactory(resourceFactory("flaky", log)),
			container.AsType[*resource](),
			container.WithLifetime(container.Singleton),
			container.OnActivated(func(container.ActivationEvent) error {
				if attempts.Add(1) == 1 {
					return errors.New("not ready")
				}
				return nil
			}),
		)
	})

	_, err := container.Resolve[*resource](c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "activation: not ready")
	assert.Equal(t, []string{"flaky"}, log.all(), "the rejected instance is released")

	r, err := container.Resolve[*resource](c)
	require.NoError(t, err)
	assert.Same(t, r, container.MustResolve[*resource](c))
}

func TestContainer_OnActivated_SingletonHiddenUntilActivated(t *testing.T) {
	var created atomic.Int32
	started := make(chan struct{})
	proceed := make(chan struct{})
	log := &closeLog{}
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.WithFactory(func(container.Resolver) (any, error) {
				return &resource{name: fmt.Sprintf("r%d", created.Add(1)), log: log}, nil
			}),
			container.AsType[*resource](),
			container.WithLifetime(container.Singleton),
			container.OnActivated(func(ev container.ActivationEvent) error {
				if ev.Instance.(*resource).name != "r1" {
					return nil
				}
				close(started)
				<-proceed
				return errors.New("not ready")
			}),
		)
	})

	firstErr := make(chan error, 1)
	go func() {
		_, err := container.Resolve[*resource](c)
		firstErr <- err
	}()
	<-started

	type result struct {
		r   *resource
		err error
	}
	second := make(chan result, 1)
	go func() {
		r, err := container.Resolve[*resource](c)
		second <- result{r, err}
	}()

	select {
	case res := <-second:
		t.Fatalf("second caller returned before activation finished: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}
	close(proceed)

	require.ErrorContains(t, <-firstErr, "activation: not ready")
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "r2", res.r.name)
	assert.Same(t, res.r, container.MustResolve[*resource](c))
	assert.Equal(t, []string{"r1"}, log.all(), "only the rejected instance is released")
}

func TestContainer_ActivationHook(t *testing.T) {
	var seen []reflect.Type
	var mu sync.Mutex
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg, container.Implementation(newConsoleLogger), container.AsType[Logger]())
		mustRegister(t, reg, container.Implementation(newGreeter))
	}, container.WithActivationHook(func(ev container.ActivationEvent) error {
		mu.Lock()
		seen = append(seen, ev.Registration.ServiceType())
		mu.Unlock()
		return nil
	}))

	container.MustResolve[*greeter](c)
	assert.Equal(t, []reflect.Type{reflect.TypeFor[Logger](), reflect.TypeFor[*greeter]()}, seen)
}

// ── Concurrency ───────────────────────────────────────────────────────────────

func TestContainer_ConcurrentSingletonResolution(t *testing.T) {
	var created, activated atomic.Int32
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.WithFactory(func(container.Resolver) (any, error) {
				created.Add(1)
				return &resource{name: "shared"}, nil
			}),
			container.AsType[*resource](),
			container.WithLifetime(container.Singleton),
			container.OnActivated(func(container.ActivationEvent) error {
				activated.Add(1)
				return nil
			}),
		)
	})

	const n = 64
	results := make([]*resource, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = container.MustResolve[*resource](c)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, int32(1), activated.Load(), "activation runs for the published instance only")
	assert.Zero(t, results[0].closed.Load())
	assert.GreaterOrEqual(t, created.Load(), int32(1))
}

// ── Stats ─────────────────────────────────────────────────────────────────────

func TestContainer_Stats(t *testing.T) {
	c := build(t, func(reg *container.Registry) {
		mustRegister(t, reg,
			container.Implementation(newConsoleLogger),
			container.AsType[Logger](),
			container.WithLifetime(container.Singleton),
		)
	})

	container.MustResolve[Logger](c)
	container.MustResolve[Logger](c)
	_, _ = container.Resolve[Clock](c)

	s := c.Stats()
	assert.Equal(t, int64(3), s.Resolutions)
	assert.Equal(t, int64(1), s.Created)
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(1), s.Failures)
}

func TestMustResolve_Panics(t *testing.T) {
	c := build(t, nil)
	assert.Panics(t, func() { container.MustResolve[Clock](c) })
}
