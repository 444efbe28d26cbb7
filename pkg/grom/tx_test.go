package grom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/grom/pkg/graph"
)

func TestTxCommitPublishes(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Dispose()

	alice := &Person{Name: "Alice"}
	require.NoError(t, tx.CreateNode(ctx, alice))

	// Inside: visible. Outside: not yet.
	var inside Person
	require.NoError(t, tx.GetNode(ctx, alice.ID, &inside))
	var outside Person
	assert.Equal(t, graph.ENotFound, graph.ErrorCode(g.GetNode(ctx, alice.ID, &outside)))

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, TxCommitted, tx.State())

	require.NoError(t, g.GetNode(ctx, alice.ID, &outside))
	assert.Equal(t, "Alice", outside.Name)
}

func TestTxRollbackDiscards(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	alice := &Person{Name: "Alice"}
	require.NoError(t, tx.CreateNode(ctx, alice))
	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, TxRolledBack, tx.State())

	var p Person
	assert.Equal(t, graph.ENotFound, graph.ErrorCode(g.GetNode(ctx, alice.ID, &p)))
}

func TestTxFinishedRejectsOperations(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	err = tx.CreateNode(ctx, &Person{Name: "Bob"})
	require.Error(t, err)
	assert.Equal(t, graph.ETxState, graph.ErrorCode(err))
	assert.Contains(t, err.Error(), "committed")

	assert.Equal(t, graph.ETxState, graph.ErrorCode(tx.Commit(ctx)))
	assert.Equal(t, graph.ETxState, graph.ErrorCode(tx.Rollback(ctx)))

	var p Person
	assert.Equal(t, graph.ETxState, graph.ErrorCode(tx.GetNode(ctx, "x", &p)))
	_, err = tx.Run(ctx, mustPlan(t, NodesOf[*Person]()))
	assert.Equal(t, graph.ETxState, graph.ErrorCode(err))
}

func TestTxDisposeImplicitRollback(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	alice := &Person{Name: "Alice"}
	require.NoError(t, tx.CreateNode(ctx, alice))

	tx.Dispose()
	assert.Equal(t, TxDisposed, tx.State())
	tx.Dispose() // idempotent

	var p Person
	assert.Equal(t, graph.ENotFound, graph.ErrorCode(g.GetNode(ctx, alice.ID, &p)))
}

func TestTxDisposeAfterCommitKeepsWrites(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	alice := &Person{Name: "Alice"}
	require.NoError(t, tx.CreateNode(ctx, alice))
	require.NoError(t, tx.Commit(ctx))
	tx.Dispose()
	assert.Equal(t, TxDisposed, tx.State(), "Dispose always lands in disposed")

	var p Person
	assert.NoError(t, g.GetNode(ctx, alice.ID, &p), "committed writes survive Dispose")
}

func TestTxQueriesSeeStagedWrites(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()
	require.NoError(t, g.CreateNode(ctx, &Person{Name: "Alice"}))

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Dispose()
	require.NoError(t, tx.CreateNode(ctx, &Person{Name: "Bob"}))

	inside, err := QueryNodes[*Person](ctx, tx, mustPlan(t, NodesOf[*Person]()))
	require.NoError(t, err)
	assert.Len(t, inside, 2)

	outside, err := QueryNodes[*Person](ctx, g, mustPlan(t, NodesOf[*Person]()))
	require.NoError(t, err)
	assert.Len(t, outside, 1)
}
