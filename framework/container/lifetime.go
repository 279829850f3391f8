package container

// Lifetime controls how instances produced by a Registration are reused.
type Lifetime uint8

const (
	// Transient registrations produce a new instance on every request.
	Transient Lifetime = iota
	// Scoped registrations produce one instance per scope.
	Scoped
	// Singleton registrations produce one instance per root container.
	Singleton
)

func (l Lifetime) String() string {
	switch l {
	case Transient:
		return "transient"
	case Scoped:
		return "scoped"
	case Singleton:
		return "singleton"
	default:
		return "unknown"
	}
}

func (l Lifetime) valid() bool { return l <= Singleton }
