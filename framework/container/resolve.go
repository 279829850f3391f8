package container

import (
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"
)

// ── Request chain ─────────────────────────────────────────────────────────────

type link struct {
	owner *Container
	sk    serviceKey
}

// chain is the path of services being resolved by one top-level request.
// It is shared by every nested resolution the request triggers, including
// those made from factories and activation callbacks.
type chain struct {
	path []link
}

func (ch *chain) push(l link) error {
	for i, p := range ch.path {
		if p == l {
			names := make([]string, 0, len(ch.path)-i+1)
			for _, q := range ch.path[i:] {
				names = append(names, q.sk.String())
			}
			names = append(names, l.sk.String())
			return &CircularDependencyError{Service: l.sk.typ, Path: names}
		}
	}
	ch.path = append(ch.path, l)
	return nil
}

func (ch *chain) pop() { ch.path = ch.path[:len(ch.path)-1] }

// callTree identifies one top-level request and everything it triggers.
type callTree struct{ _ byte }

type request struct {
	owner *Container
	chain *chain
	tree  *callTree
}

func newRequest(c *Container) *request {
	return &request{owner: c, chain: &chain{}, tree: &callTree{}}
}

func (req *request) on(c *Container) *request {
	if req.owner == c {
		return req
	}
	return &request{owner: c, chain: req.chain, tree: req.tree}
}

// detached returns a request on c with an empty chain that still belongs to
// req's call tree, so it sees the instances req is activating.
func (req *request) detached(c *Container) *request {
	return &request{owner: c, chain: &chain{}, tree: req.tree}
}

// requestResolver is the Resolver handed to factories, parameters and
// activation callbacks. It is only valid for the duration of that call.
type requestResolver struct{ req *request }

func (r *requestResolver) Resolve(t reflect.Type) (any, error) {
	return r.req.owner.resolve(r.req, serviceKey{typ: t}, nil)
}

func (r *requestResolver) ResolveKeyed(t reflect.Type, key any) (any, error) {
	if !comparableKey(key) {
		return nil, keyError(t, key)
	}
	return r.req.owner.resolve(r.req, serviceKey{typ: t, key: key, keyed: true}, nil)
}

func (r *requestResolver) ResolveWith(t reflect.Type, params ...Parameter) (any, error) {
	return r.req.owner.resolve(r.req, serviceKey{typ: t}, params)
}

func (r *requestResolver) TryResolve(t reflect.Type) (any, bool) {
	v, err := r.Resolve(t)
	return v, err == nil
}

func (r *requestResolver) TryResolveKeyed(t reflect.Type, key any) (any, bool) {
	v, err := r.ResolveKeyed(t, key)
	return v, err == nil
}

func (r *requestResolver) ResolveAll(t reflect.Type) ([]any, error) {
	return r.req.owner.resolveAll(r.req, t)
}

func (r *requestResolver) IsRegistered(t reflect.Type) bool { return r.req.owner.IsRegistered(t) }

func (r *requestResolver) IsRegisteredKeyed(t reflect.Type, key any) bool {
	return r.req.owner.IsRegisteredKeyed(t, key)
}

func (r *requestResolver) CreateScope() (*Container, error) { return r.req.owner.CreateScope() }

// ── Public resolution API ─────────────────────────────────────────────────────

// Resolve returns an instance of t.
func (c *Container) Resolve(t reflect.Type) (any, error) {
	return c.top(serviceKey{typ: t}, nil)
}

// ResolveKeyed returns the instance registered for (t, key).
func (c *Container) ResolveKeyed(t reflect.Type, key any) (any, error) {
	if !comparableKey(key) {
		return nil, keyError(t, key)
	}
	return c.top(serviceKey{typ: t, key: key, keyed: true}, nil)
}

// ResolveWith resolves t with runtime parameters. They apply to the instance
// created for this call only, not to its transitive dependencies, and are
// ignored when a cached scoped or singleton instance already exists.
func (c *Container) ResolveWith(t reflect.Type, params ...Parameter) (any, error) {
	return c.top(serviceKey{typ: t}, params)
}

// TryResolve is Resolve reporting any failure as false.
func (c *Container) TryResolve(t reflect.Type) (any, bool) {
	v, err := c.Resolve(t)
	return v, err == nil
}

// TryResolveKeyed is ResolveKeyed reporting any failure as false.
func (c *Container) TryResolveKeyed(t reflect.Type, key any) (any, bool) {
	v, err := c.ResolveKeyed(t, key)
	return v, err == nil
}

// ResolveAll returns an instance of every unkeyed registration of t in
// registration order. It returns an empty slice when there are none.
func (c *Container) ResolveAll(t reflect.Type) ([]any, error) {
	out, err := c.resolveAll(newRequest(c), t)
	if err != nil {
		c.shared.stats.failures.Add(1)
	}
	return out, err
}

func (c *Container) top(sk serviceKey, params []Parameter) (any, error) {
	v, err := c.resolve(newRequest(c), sk, params)
	if err != nil {
		c.shared.stats.failures.Add(1)
		c.logger().Debug("resolution failed",
			zap.String("scope", c.id),
			zap.Stringer("service", sk),
			zap.Error(err),
		)
	}
	return v, err
}

// ── Resolution ────────────────────────────────────────────────────────────────

// resolve serves sk for req. req.owner must be c.
func (c *Container) resolve(req *request, sk serviceKey, params []Parameter) (any, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	if sk.typ == nil {
		return nil, fmt.Errorf("%w: nil service type", ErrNotRegistered)
	}
	if err := req.chain.push(link{owner: c, sk: sk}); err != nil {
		return nil, err
	}
	defer req.chain.pop()
	c.shared.stats.resolutions.Add(1)

	reg := c.registry.lookup(sk)
	if reg == nil && !sk.keyed {
		reg, _ = c.registry.TryGetOpenGeneric(sk.typ)
	}
	if reg != nil {
		return c.instance(req, reg, params)
	}

	if !sk.keyed {
		if elem, ok := collectionElement(sk.typ); ok {
			regs := c.registry.GetAll(elem)
			if len(regs) > 0 || c.opts.parent == nil {
				return c.collection(req, sk.typ, elem, regs)
			}
		}
	}
	if p := c.opts.parent; p != nil {
		if sk.keyed {
			return p.ResolveKeyed(sk.typ, sk.key)
		}
		return p.Resolve(sk.typ)
	}
	return nil, &ResolutionError{Service: sk.typ, Key: sk.key, Keyed: sk.keyed, Err: ErrNotRegistered}
}

// instance applies reg's lifetime.
func (c *Container) instance(req *request, reg *Registration, params []Parameter) (any, error) {
	switch {
	case reg.hasInstance:
		c.shared.stats.cacheHits.Add(1)
		return reg.instance, nil
	case reg.lifetime == Singleton:
		root := c.root
		return root.cached(req.on(root), reg, params, root.singletons)
	case reg.lifetime == Scoped:
		return c.cached(req, reg, params, c.scoped)
	default:
		return c.create(req, reg, params)
	}
}

// inflight is an instance whose activation callbacks are running. It is
// published to the cache only once they succeed.
type inflight struct {
	tree  *callTree
	value any
	done  chan struct{}
}

// cached returns the instance stored for reg in cache, creating it when
// missing. Construction runs without the lock so that nested resolutions
// can proceed; when two goroutines race, the first constructed instance is
// activated and the other is discarded. Callers from other call trees wait
// until activation finishes and retry if it failed.
func (c *Container) cached(req *request, reg *Registration, params []Parameter, cache map[cacheKey]any) (any, error) {
	ck := reg.cacheKey()
	for {
		v, f, err := c.cachedValue(req, ck, cache)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
		if f != nil {
			<-f.done
			continue
		}

		v, err = c.construct(req, reg, params)
		if err != nil {
			return nil, err
		}
		f, err = c.claim(req, reg, ck, v, cache)
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		return c.settle(req, reg, ck, f, cache)
	}
}

// cachedValue returns the published instance for ck, or the in-flight one when it
// belongs to req's call tree, or the in-flight entry to wait for.
func (c *Container) cachedValue(req *request, ck cacheKey, cache map[cacheKey]any) (any, *inflight, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return nil, nil, ErrDisposed
	}
	if v, ok := cache[ck]; ok {
		c.shared.stats.cacheHits.Add(1)
		return v, nil, nil
	}
	if f, ok := c.pending[ck]; ok {
		if f.tree == req.tree {
			c.shared.stats.cacheHits.Add(1)
			return f.value, nil, nil
		}
		return nil, f, nil
	}
	return nil, nil, nil
}

// claim marks v as the instance being activated for ck. It returns nil when
// another instance got there first; v is discarded.
func (c *Container) claim(req *request, reg *Registration, ck cacheKey, v any, cache map[cacheKey]any) (*inflight, error) {
	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		c.discard(reg, v)
		return nil, ErrDisposed
	}
	_, published := cache[ck]
	_, busy := c.pending[ck]
	if published || busy {
		c.mu.Unlock()
		c.discard(reg, v)
		return nil, nil
	}
	f := &inflight{tree: req.tree, value: v, done: make(chan struct{})}
	c.pending[ck] = f
	c.mu.Unlock()
	return f, nil
}

// settle runs the activation callbacks of f and publishes it on success.
// A rejected instance is released and never cached.
func (c *Container) settle(req *request, reg *Registration, ck cacheKey, f *inflight, cache map[cacheKey]any) (v any, err error) {
	activated := false
	defer func() {
		c.mu.Lock()
		delete(c.pending, ck)
		if activated && c.disposed.Load() {
			activated, err = false, ErrDisposed
		}
		if activated {
			cache[ck] = f.value
			if owns(reg, f.value) {
				c.disposables = append(c.disposables, tracked{key: ck, value: f.value})
			}
		}
		c.mu.Unlock()
		close(f.done)
		if !activated {
			v = nil
			if owns(reg, f.value) {
				c.release(f.value)
			}
		}
	}()

	if err := c.activate(req, reg, f.value); err != nil {
		return nil, err
	}
	activated = true
	return f.value, nil
}

// create builds a transient instance. Transients are never tracked.
func (c *Container) create(req *request, reg *Registration, params []Parameter) (any, error) {
	v, err := c.construct(req, reg, params)
	if err != nil {
		return nil, err
	}
	if err := c.activate(req, reg, v); err != nil {
		if owns(reg, v) {
			c.release(v)
		}
		return nil, err
	}
	return v, nil
}

func (c *Container) resolveAll(req *request, t reflect.Type) ([]any, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: nil service type", ErrNotRegistered)
	}
	regs := c.registry.GetAll(t)
	if len(regs) == 0 {
		if p := c.opts.parent; p != nil {
			return p.ResolveAll(t)
		}
		return []any{}, nil
	}
	if err := req.chain.push(link{owner: c, sk: serviceKey{typ: reflect.SliceOf(t)}}); err != nil {
		return nil, err
	}
	defer req.chain.pop()
	out := make([]any, 0, len(regs))
	for _, reg := range regs {
		v, err := c.instance(req, reg, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ── Collections ───────────────────────────────────────────────────────────────

// collectionElement recognises []T and iter.Seq[T].
func collectionElement(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() == reflect.Slice {
		return t.Elem(), true
	}
	if isSeq(t) {
		return t.In(0).In(0), true
	}
	return nil, false
}

func isSeq(t reflect.Type) bool {
	if t.Kind() != reflect.Func || t.PkgPath() != "iter" || !strings.HasPrefix(t.Name(), "Seq[") {
		return false
	}
	if t.NumIn() != 1 || t.NumOut() != 0 {
		return false
	}
	yield := t.In(0)
	return yield.Kind() == reflect.Func && yield.NumIn() == 1 && yield.NumOut() == 1
}

func (c *Container) collection(req *request, t, elem reflect.Type, regs []*Registration) (any, error) {
	values := make([]reflect.Value, 0, len(regs))
	for _, reg := range regs {
		v, err := c.instance(req, reg, nil)
		if err != nil {
			return nil, err
		}
		rv, err := coerce(v, elem)
		if err != nil {
			return nil, c.wrap(reg, err)
		}
		values = append(values, rv)
	}
	if t.Kind() == reflect.Slice {
		return reflect.Append(reflect.MakeSlice(t, 0, len(values)), values...).Interface(), nil
	}
	seq := reflect.MakeFunc(t, func(in []reflect.Value) []reflect.Value {
		yield := in[0]
		for _, v := range values {
			if !yield.Call([]reflect.Value{v})[0].Bool() {
				break
			}
		}
		return nil
	})
	return seq.Interface(), nil
}

// ── Generic helpers ───────────────────────────────────────────────────────────

// Resolve returns an instance of T.
//
//	users, err := container.Resolve[UserService](c)
func Resolve[T any](r Resolver) (T, error) {
	v, err := r.Resolve(reflect.TypeFor[T]())
	if err != nil {
		var zero T
		return zero, err
	}
	return assert[T](v)
}

// ResolveKeyed returns the instance of T registered under key.
func ResolveKeyed[T any](r Resolver, key any) (T, error) {
	v, err := r.ResolveKeyed(reflect.TypeFor[T](), key)
	if err != nil {
		var zero T
		return zero, err
	}
	return assert[T](v)
}

// MustResolve is Resolve that panics on failure. Use it only during startup.
func MustResolve[T any](r Resolver) T {
	v, err := Resolve[T](r)
	if err != nil {
		panic(err)
	}
	return v
}

// TryResolve returns an instance of T and whether resolution succeeded.
func TryResolve[T any](r Resolver) (T, bool) {
	v, err := Resolve[T](r)
	return v, err == nil
}

// ResolveAll returns an instance of every unkeyed registration of T.
func ResolveAll[T any](r Resolver) ([]T, error) {
	vs, err := r.ResolveAll(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		t, err := assert[T](v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func assert[T any](v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("container: resolved %T is not a %s", v, reflect.TypeFor[T]())
	}
	return t, nil
}
