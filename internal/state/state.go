// Package state persists step results across runs. Results are keyed by
// target, step, and idempotency key; a successful result under the current
// key lets a later run skip the step entirely.
package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudstep/orchestrate/internal/plan"
)

// Store is the persistence backend for step results. Implementations must be
// safe for concurrent use within one process. Any error a Store returns is
// fatal to the run that observed it; the executor never guesses at state.
type Store interface {
	// Get retrieves the result recorded for (target, step, key).
	Get(ctx context.Context, target, step, key string) (plan.StepResult, bool, error)

	// Put records the result for (target, step, key), overwriting any
	// previous record under the same key.
	Put(ctx context.Context, target, step, key string, result plan.StepResult) error

	// List returns the most recent result for every step recorded under
	// target.
	List(ctx context.Context, target string) ([]plan.StepResult, error)

	// Purge removes all records for target.
	Purge(ctx context.Context, target string) error

	// Close releases backend resources.
	Close() error
}

// Error is a failed state store operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("state store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// DefaultURL is the store used when none is configured.
const DefaultURL = "file:.orchestrate"

// Open selects and connects a store from a URL-style spec:
//
//	file:DIR                       JSON lines under DIR, one file per target
//	memory:                        process-local, lost on exit
//	etcd:HOST:PORT[,HOST:PORT...]  etcd cluster
//	postgres://...                 PostgreSQL connection string
//
// An empty spec selects DefaultURL.
func Open(ctx context.Context, spec string) (Store, error) {
	if spec == "" {
		spec = DefaultURL
	}
	scheme, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("state spec %q: missing scheme", spec)
	}
	switch scheme {
	case "file":
		if rest == "" {
			rest = ".orchestrate"
		}
		return NewFile(rest), nil
	case "memory":
		return NewMemory(), nil
	case "etcd":
		if rest == "" {
			return nil, fmt.Errorf("state spec %q: no etcd endpoints", spec)
		}
		return NewEtcd(ctx, strings.Split(rest, ","))
	case "postgres", "postgresql":
		return NewPostgres(ctx, spec)
	default:
		return nil, fmt.Errorf("state spec %q: unsupported scheme %q (file, memory, etcd, postgres)", spec, scheme)
	}
}
