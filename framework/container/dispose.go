package container

import (
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func isDisposable(v any) bool {
	switch v.(type) {
	case Disposable, io.Closer:
		return true
	}
	return false
}

// owns reports whether the container must dispose v.
func owns(reg *Registration, v any) bool {
	return !reg.externallyOwned && isDisposable(v)
}

func disposeValue(v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("container: panic disposing %T: %v", v, r)
		}
	}()
	switch d := v.(type) {
	case Disposable:
		return d.Dispose()
	case io.Closer:
		return d.Close()
	}
	return nil
}

// release disposes v outside of the container's tracking.
func (c *Container) release(v any) {
	if err := disposeValue(v); err != nil {
		c.logger().Warn("dispose failed",
			zap.String("scope", c.id),
			zap.String("type", fmt.Sprintf("%T", v)),
			zap.Error(err),
		)
	}
}

// discard drops an instance that lost a creation race.
func (c *Container) discard(reg *Registration, v any) {
	if !c.opts.disposeDiscarded || !owns(reg, v) {
		return
	}
	c.logger().Debug("disposing discarded instance",
		zap.String("scope", c.id),
		zap.Stringer("registration", reg),
	)
	c.release(v)
}

// Close disposes the container: child scopes first when scope tracking is
// on, then every owned instance in reverse creation order. A failing or
// panicking instance does not stop the others; their errors are combined.
// Close is idempotent and every later resolution fails with ErrDisposed.
func (c *Container) Close() error {
	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		return nil
	}
	c.disposed.Store(true)
	items := c.disposables
	c.disposables = nil
	clear(c.singletons)
	clear(c.scoped)
	c.mu.Unlock()

	var errs error
	if c.scopes != nil {
		errs = multierr.Append(errs, c.scopes.closeAll())
	}
	for i := len(items) - 1; i >= 0; i-- {
		v := items[i].value
		if err := disposeValue(v); err != nil {
			c.logger().Warn("dispose failed",
				zap.String("scope", c.id),
				zap.String("type", fmt.Sprintf("%T", v)),
				zap.Error(err),
			)
			errs = multierr.Append(errs, err)
		}
	}
	if c.parent != nil && c.parent.scopes != nil {
		c.parent.scopes.remove(c)
	}
	c.logger().Debug("container disposed",
		zap.String("scope", c.id),
		zap.Int("released", len(items)),
	)
	return errs
}

// Dispose is Close without the error. Failures are still logged.
func (c *Container) Dispose() { _ = c.Close() }
