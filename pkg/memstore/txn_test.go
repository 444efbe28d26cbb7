package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/grom/pkg/cypher"
	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/schema"
)

func TestTxnReadYourWrites(t *testing.T) {
	s := New()
	tx, err := s.Begin()
	require.NoError(t, err)

	n := &Node{Labels: []string{"Person"}, Props: map[string]any{"name": "Alice"}}
	require.NoError(t, tx.CreateNode(n))

	// Visible inside the transaction, invisible outside until commit.
	got, err := tx.GetNode(n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Props["name"])

	_, err = s.GetNode(n.ID)
	assert.Equal(t, graph.ENotFound, graph.ErrorCode(err))

	require.NoError(t, tx.Commit())
	committed, err := s.GetNode(n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", committed.Props["name"])
}

func TestTxnRollbackDiscardsWrites(t *testing.T) {
	s := New()
	tx, err := s.Begin()
	require.NoError(t, err)

	n := &Node{Labels: []string{"Person"}}
	require.NoError(t, tx.CreateNode(n))
	require.NoError(t, tx.Rollback())

	_, err = s.GetNode(n.ID)
	assert.Equal(t, graph.ENotFound, graph.ErrorCode(err))
}

func TestTxnFinishedRejectsEverything(t *testing.T) {
	s := New()
	for _, finish := range []func(tx EngineTx) error{
		func(tx EngineTx) error { return tx.Commit() },
		func(tx EngineTx) error { return tx.Rollback() },
	} {
		tx, err := s.Begin()
		require.NoError(t, err)
		require.NoError(t, finish(tx))

		assert.Equal(t, graph.ETxState, graph.ErrorCode(tx.CreateNode(&Node{Labels: []string{"X"}})))
		_, err = tx.GetNodesByLabel("")
		assert.Equal(t, graph.ETxState, graph.ErrorCode(err))
		assert.Equal(t, graph.ETxState, graph.ErrorCode(tx.Commit()))
		assert.Equal(t, graph.ETxState, graph.ErrorCode(tx.Rollback()))
	}
}

func TestTxnCommitAllOrNothing(t *testing.T) {
	reg := schema.NewRegistry()
	d, err := schema.NewNodeDescriptor("User", nil, []schema.Property{
		{Name: "email", Kind: graph.KindString, Unique: true, Required: true},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Register(d))
	require.NoError(t, reg.Initialize())
	s := New(WithRegistry(reg))

	require.NoError(t, s.CreateNode(&Node{Labels: []string{"User"}, Props: map[string]any{"email": "a@example.com"}}))

	tx, err := s.Begin()
	require.NoError(t, err)
	ok := &Node{Labels: []string{"User"}, Props: map[string]any{"email": "b@example.com"}}
	dup := &Node{Labels: []string{"User"}, Props: map[string]any{"email": "a@example.com"}}
	require.NoError(t, tx.CreateNode(ok))
	require.NoError(t, tx.CreateNode(dup), "uniqueness is global state, checked at commit")

	err = tx.Commit()
	require.Error(t, err)
	assert.Equal(t, graph.EConflict, graph.ErrorCode(err))

	// The conflicting batch left nothing behind, the clean node included.
	_, err = s.GetNode(ok.ID)
	assert.Equal(t, graph.ENotFound, graph.ErrorCode(err))
}

func TestTxnCommitConflictWithConcurrentDelete(t *testing.T) {
	s := New()
	n := &Node{Labels: []string{"Person"}}
	require.NoError(t, s.CreateNode(n))

	tx, err := s.Begin()
	require.NoError(t, err)
	n.Props = map[string]any{"name": "renamed"}
	require.NoError(t, tx.UpdateNode(n))

	require.NoError(t, s.DeleteNode(n.ID))

	err = tx.Commit()
	require.Error(t, err)
	assert.Equal(t, graph.EConflict, graph.ErrorCode(err))
}

func TestTxnDeleteStagedCreate(t *testing.T) {
	s := New()
	tx, err := s.Begin()
	require.NoError(t, err)

	n := &Node{Labels: []string{"Person"}}
	require.NoError(t, tx.CreateNode(n))
	require.NoError(t, tx.DeleteNode(n.ID))
	require.NoError(t, tx.Commit())

	_, err = s.GetNode(n.ID)
	assert.Equal(t, graph.ENotFound, graph.ErrorCode(err))
}

func TestTxnStatementsSeeStagedWrites(t *testing.T) {
	s := New()
	require.NoError(t, s.CreateNode(&Node{Labels: []string{"Person"}, Props: map[string]any{"name": "Alice"}}))

	c := NewClient(s)
	session, err := c.Begin(context.Background())
	require.NoError(t, err)
	defer session.Rollback(context.Background())

	st, err := cypher.CreateNode([]string{"Person"}, map[string]any{"name": "Bob"})
	require.NoError(t, err)
	_, err = session.Run(context.Background(), st)
	require.NoError(t, err)

	inside, err := session.Run(context.Background(), &cypher.Statement{Text: "MATCH (n:Person)\nRETURN n"})
	require.NoError(t, err)
	assert.Equal(t, 2, inside.Len())

	outside, err := c.Run(context.Background(), &cypher.Statement{Text: "MATCH (n:Person)\nRETURN n"})
	require.NoError(t, err)
	assert.Equal(t, 1, outside.Len())
}

func TestSessionCommitPublishes(t *testing.T) {
	s := New()
	c := NewClient(s)
	session, err := c.Begin(context.Background())
	require.NoError(t, err)

	st, err := cypher.CreateNode([]string{"Person"}, map[string]any{"name": "Bob"})
	require.NoError(t, err)
	_, err = session.Run(context.Background(), st)
	require.NoError(t, err)
	require.NoError(t, session.Commit(context.Background()))

	rows, err := c.Run(context.Background(), &cypher.Statement{Text: "MATCH (n:Person)\nRETURN n"})
	require.NoError(t, err)
	assert.Equal(t, 1, rows.Len())
}
