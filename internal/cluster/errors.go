package cluster

import "fmt"

// ErrKind separates the failure classes the system distinguishes. Validation
// failures are terminal refusals of a well-formed request; discovery and
// replication failures are infrastructure faults a caller may retry; storage
// failures are fatal at startup.
type ErrKind int

const (
	KindValidation ErrKind = iota
	KindDiscovery
	KindReplication
	KindStorage
)

func (k ErrKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDiscovery:
		return "discovery"
	case KindReplication:
		return "replication"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// Err is an error with a failure class attached, so callers can tell an
// expected refusal from a retryable infrastructure fault.
type Err struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Err) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Err) Unwrap() error { return e.Err }

// Retryable reports whether the caller may reasonably retry the operation.
// Discovery and replication faults are transient by nature; validation
// refusals and storage corruption are not.
func (e *Err) Retryable() bool {
	return e.Kind == KindDiscovery || e.Kind == KindReplication
}

// WrapErr attaches a failure class and operation name to err.
func WrapErr(kind ErrKind, op string, err error) *Err {
	return &Err{Kind: kind, Op: op, Err: err}
}
