package container

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ── Sentinel errors ───────────────────────────────────────────────────────────

var (
	// ErrRegistryFrozen is returned when a registry is modified after Freeze.
	ErrRegistryFrozen = errors.New("container: registry is frozen")
	// ErrInvalidRegistration is returned for malformed registrations.
	ErrInvalidRegistration = errors.New("container: invalid registration")
	// ErrOpenGeneric is returned for malformed open generic registrations.
	ErrOpenGeneric = errors.New("container: invalid open generic registration")

	// ErrNotRegistered is returned when no registration satisfies a request.
	ErrNotRegistered = errors.New("container: service not registered")
	// ErrAbstractType is returned when an interface type would have to be
	// instantiated directly.
	ErrAbstractType = errors.New("container: cannot instantiate abstract type")
	// ErrNoConstructor is returned when an implementation has no usable constructor.
	ErrNoConstructor = errors.New("container: no suitable constructor")
	// ErrNilInstance is returned when a factory or constructor yields nil.
	ErrNilInstance = errors.New("container: nil instance")
	// ErrUnresolvableParameter is returned when a required dependency can't
	// be satisfied and declares no default.
	ErrUnresolvableParameter = errors.New("container: unresolvable parameter")
	// ErrCircularDependency matches every *CircularDependencyError.
	ErrCircularDependency = errors.New("container: circular dependency")
	// ErrDisposed is returned by every operation on a disposed container.
	ErrDisposed = errors.New("container: disposed")
)

// ── ResolutionError ───────────────────────────────────────────────────────────

// ResolutionError reports a failed resolution of Service (and Key when the
// request was keyed). Param is set when the failure happened while resolving
// one of the service's dependencies.
type ResolutionError struct {
	Service reflect.Type
	Key     any
	Keyed   bool
	Param   reflect.Type
	Err     error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("container: resolving ")
	b.WriteString(typeName(e.Service))
	if e.Keyed {
		fmt.Fprintf(&b, " (key %v)", e.Key)
	}
	if e.Param != nil {
		b.WriteString(": parameter ")
		b.WriteString(typeName(e.Param))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(strings.TrimPrefix(e.Err.Error(), "container: "))
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// notRegistered reports whether err is the direct "not registered" miss for
// exactly sk, as opposed to a miss deeper in the dependency graph.
func notRegistered(err error, sk serviceKey) bool {
	re, ok := err.(*ResolutionError)
	if !ok || re.Err != ErrNotRegistered {
		return false
	}
	return re.Service == sk.typ && re.Keyed == sk.keyed && re.Key == sk.key
}

// ── CircularDependencyError ───────────────────────────────────────────────────

// CircularDependencyError is returned when a service is requested while it is
// already being resolved higher up in the same call tree. Path lists the
// resolution chain from the outermost request to the repeated service.
type CircularDependencyError struct {
	Service reflect.Type
	Path    []string
}

func (e *CircularDependencyError) Error() string {
	return "container: circular dependency detected: " + strings.Join(e.Path, " -> ")
}

// Is lets errors.Is(err, ErrCircularDependency) match.
func (e *CircularDependencyError) Is(target error) bool {
	return target == ErrCircularDependency
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
