package memstore

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/grom/pkg/graph"
)

func TestExportImportRoundTrip(t *testing.T) {
	src := New()
	alice := &Node{Labels: []string{"Person"}, Props: map[string]any{
		"name": "Alice", "age": int64(30), "score": 2.5, "tags": []any{"a", "b"},
	}}
	bob := &Node{Labels: []string{"Person"}, Props: map[string]any{"name": "Bob"}}
	require.NoError(t, src.CreateNode(alice))
	require.NoError(t, src.CreateNode(bob))
	require.NoError(t, src.CreateRelationship(&Relationship{
		Type: "KNOWS", StartID: alice.ID, EndID: bob.ID,
		Props: map[string]any{"since": int64(2020)},
	}))

	var buf bytes.Buffer
	require.NoError(t, ExportJSON(src, &buf))

	dst := New()
	require.NoError(t, ImportJSON(dst, &buf))

	got, err := dst.GetNode(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Person"}, got.Labels)
	assert.Equal(t, int64(30), got.Props["age"], "integral numbers survive as int64")
	assert.Equal(t, 2.5, got.Props["score"])
	assert.Equal(t, []any{"a", "b"}, got.Props["tags"])

	rels, err := dst.GetOutgoing(alice.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, bob.ID, rels[0].EndID)
	assert.Equal(t, int64(2020), rels[0].Props["since"])
}

func TestExportDeterministic(t *testing.T) {
	s := New()
	require.NoError(t, s.CreateNode(&Node{ID: "b", Labels: []string{"X"}}))
	require.NoError(t, s.CreateNode(&Node{ID: "a", Labels: []string{"X"}}))

	var first, second bytes.Buffer
	require.NoError(t, ExportJSON(s, &first))
	require.NoError(t, ExportJSON(s, &second))
	assert.Equal(t, first.String(), second.String())
	assert.Less(t, strings.Index(first.String(), `"a"`), strings.Index(first.String(), `"b"`),
		"records are ordered by ID")
}

func TestImportConflictsWithExisting(t *testing.T) {
	s := New()
	require.NoError(t, s.CreateNode(&Node{ID: "n1", Labels: []string{"X"}}))

	err := ImportJSON(s, strings.NewReader(`{"nodes":[{"id":"n1","labels":["X"],"properties":{}}],"relationships":[]}`))
	assert.Equal(t, graph.EConflict, graph.ErrorCode(err))
}

func TestImportRejectsMalformedJSON(t *testing.T) {
	err := ImportJSON(New(), strings.NewReader("{nope"))
	assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
}
