package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/grom/pkg/cypher"
	"github.com/orneryd/grom/pkg/graph"
)

func TestBadgerRoundTrip(t *testing.T) {
	b, err := NewBadgerStoreInMemory(nil)
	require.NoError(t, err)
	defer b.Close()

	n := &Node{Labels: []string{"Person"}, Props: map[string]any{
		"name": "Alice", "age": int64(30), "tags": []string{"a", "b"},
	}}
	require.NoError(t, b.CreateNode(n))

	got, err := b.GetNode(n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.Labels, got.Labels)
	assert.Equal(t, "Alice", got.Props["name"])
	assert.Equal(t, int64(30), got.Props["age"], "integers survive storage without becoming floats")
	assert.Equal(t, []string{"a", "b"}, got.Props["tags"])
}

func TestBadgerAdjacency(t *testing.T) {
	b, err := NewBadgerStoreInMemory(nil)
	require.NoError(t, err)
	defer b.Close()

	a := &Node{Labels: []string{"Person"}}
	c := &Node{Labels: []string{"Person"}}
	require.NoError(t, b.CreateNode(a))
	require.NoError(t, b.CreateNode(c))
	r := &Relationship{Type: "KNOWS", StartID: a.ID, EndID: c.ID}
	require.NoError(t, b.CreateRelationship(r))

	out, err := b.GetOutgoing(a.ID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, r.ID, out[0].ID)

	in, err := b.GetIncoming(c.ID)
	require.NoError(t, err)
	require.Len(t, in, 1)

	require.NoError(t, b.DeleteNode(c.ID))
	_, err = b.GetRelationship(r.ID)
	assert.Equal(t, graph.ENotFound, graph.ErrorCode(err))
	out, err = b.GetOutgoing(a.ID)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	b, err := NewBadgerStore(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	n := &Node{Labels: []string{"Person"}, Props: map[string]any{"name": "Alice"}}
	require.NoError(t, b.CreateNode(n))
	require.NoError(t, b.Close())

	reopened, err := NewBadgerStore(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetNode(n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Props["name"])
}

func TestBadgerEncryptedReopen(t *testing.T) {
	dir := t.TempDir()
	opts := BadgerOptions{Dir: dir, Passphrase: "correct horse battery staple"}

	b, err := NewBadgerStore(opts)
	require.NoError(t, err)
	n := &Node{Labels: []string{"Secret"}}
	require.NoError(t, b.CreateNode(n))
	require.NoError(t, b.Close())

	// The same passphrase opens the store again.
	reopened, err := NewBadgerStore(opts)
	require.NoError(t, err)
	_, err = reopened.GetNode(n.ID)
	assert.NoError(t, err)
	require.NoError(t, reopened.Close())

	// A different passphrase derives a different data key.
	_, err = NewBadgerStore(BadgerOptions{Dir: dir, Passphrase: "wrong"})
	assert.Error(t, err)
}

func TestBadgerStatements(t *testing.T) {
	b, err := NewBadgerStoreInMemory(nil)
	require.NoError(t, err)
	defer b.Close()
	c := NewClient(b)

	st, err := cypher.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
	require.NoError(t, err)
	rows, err := c.Run(context.Background(), st)
	require.NoError(t, err)
	require.Equal(t, 1, rows.Len())

	session, err := c.Begin(context.Background())
	require.NoError(t, err)
	st, err = cypher.CreateNode([]string{"Person"}, map[string]any{"name": "Bob"})
	require.NoError(t, err)
	_, err = session.Run(context.Background(), st)
	require.NoError(t, err)
	require.NoError(t, session.Commit(context.Background()))

	all, err := c.Run(context.Background(), &cypher.Statement{Text: "MATCH (n:Person)\nRETURN n"})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Len())
}
