package container

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CreateScope returns a child container. Scoped services resolved from it are
// cached in the scope and disposed with it; singletons still come from the
// root. Disposing the parent does not dispose its scopes unless the root was
// built WithScopeTracking.
func (c *Container) CreateScope() (*Container, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	s := &Container{
		registry: c.registry,
		opts:     c.opts,
		root:     c.root,
		parent:   c,
		id:       uuid.NewString(),
		scoped:   make(map[cacheKey]any),
		pending:  make(map[cacheKey]*inflight),
		shared:   c.shared,
	}
	if c.opts.trackScopes {
		s.scopes = newScopeManager()
		if err := c.scopes.add(s); err != nil {
			return nil, err
		}
	}
	c.logger().Debug("scope created",
		zap.String("scope", s.id),
		zap.String("parent", c.id),
	)
	return s, nil
}

// Scopes returns the ids of the live scopes below c, depth first. It is
// empty unless scope tracking is on.
func (c *Container) Scopes() []string {
	if c.scopes == nil {
		return nil
	}
	return c.scopes.ids()
}

// TracksScopes reports whether the root was built WithScopeTracking.
func (c *Container) TracksScopes() bool { return c.opts.trackScopes }

// ScopeManager tracks the live child scopes of one container.
type ScopeManager struct {
	mu     sync.Mutex
	live   []*Container
	closed bool
}

func newScopeManager() *ScopeManager { return &ScopeManager{} }

func (m *ScopeManager) add(s *Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisposed
	}
	m.live = append(m.live, s)
	return nil
}

func (m *ScopeManager) remove(s *Container) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := slices.Index(m.live, s); i >= 0 {
		m.live = slices.Delete(m.live, i, i+1)
	}
}

// Len returns the number of live direct children.
func (m *ScopeManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *ScopeManager) ids() []string {
	m.mu.Lock()
	live := slices.Clone(m.live)
	m.mu.Unlock()
	out := make([]string, 0, len(live))
	for _, s := range live {
		out = append(out, s.id)
		out = append(out, s.Scopes()...)
	}
	return out
}

// closeAll disposes the live scopes, newest first, and refuses new ones.
func (m *ScopeManager) closeAll() error {
	m.mu.Lock()
	m.closed = true
	live := m.live
	m.live = nil
	m.mu.Unlock()

	var errs error
	for i := len(live) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, live[i].Close())
	}
	return errs
}
