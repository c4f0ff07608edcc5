package domain

// LookupStatus tags the outcome of a point read against a store or service.
type LookupStatus int

// Lookup outcomes.
const (
	LookupOK LookupStatus = iota
	LookupNotFound
	LookupTransportError
)

func (s LookupStatus) String() string {
	switch s {
	case LookupOK:
		return "ok"
	case LookupNotFound:
		return "not_found"
	case LookupTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Lookup keeps "absent" and "could not ask" apart so callers can tell a
// terminal condition from a retryable one.
type Lookup[T any] struct {
	Status LookupStatus
	Value  T
	Err    error
}

// Found wraps a successful read.
func Found[T any](v T) Lookup[T] { return Lookup[T]{Status: LookupOK, Value: v} }

// Missing reports that the record does not exist.
func Missing[T any]() Lookup[T] { return Lookup[T]{Status: LookupNotFound} }

// Failed reports a transport or backend failure.
func Failed[T any](err error) Lookup[T] { return Lookup[T]{Status: LookupTransportError, Err: err} }

// OK reports whether the lookup produced a value.
func (l Lookup[T]) OK() bool { return l.Status == LookupOK }

// NotFound reports whether the record is absent.
func (l Lookup[T]) NotFound() bool { return l.Status == LookupNotFound }

// Get returns the value and the transport error, if any. A missing record
// yields the zero value and a nil error.
func (l Lookup[T]) Get() (T, bool, error) {
	return l.Value, l.Status == LookupOK, l.Err
}
