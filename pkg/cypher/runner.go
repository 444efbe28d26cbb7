package cypher

import (
	"context"

	"github.com/orneryd/grom/pkg/graph"
)

// Runner executes compiled statements against a graph store. The embedded
// engines in pkg/memstore implement it; any engine that accepts the emitted
// dialect can stand in.
type Runner interface {
	// Run executes one statement and returns its rows. Implementations
	// must honor ctx cancellation and return the context error unwrapped.
	Run(ctx context.Context, st *Statement) (*graph.Rows, error)
}

// Session is a transactional runner. Statements run within it observe the
// session's own uncommitted writes and nothing from other sessions.
type Session interface {
	Runner

	// Commit atomically applies the session's writes.
	Commit(ctx context.Context) error

	// Rollback discards the session's writes.
	Rollback(ctx context.Context) error
}

// Beginner is implemented by runners that support transactions.
type Beginner interface {
	Begin(ctx context.Context) (Session, error)
}
