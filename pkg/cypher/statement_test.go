package cypher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/grom/pkg/cypher"
	"github.com/orneryd/grom/pkg/graph"
)

func TestCreateNode(t *testing.T) {
	t.Run("labels and flattened props", func(t *testing.T) {
		st, err := cypher.CreateNode([]string{"Employee", "Person"}, map[string]any{
			"name": "Alice",
			"address": map[string]any{
				"city": "Oslo",
			},
		})
		require.NoError(t, err)

		assert.Equal(t, "CREATE (n:Employee:Person)\nSET n = $props\nRETURN id(n) AS id", st.Text)
		assert.Equal(t, map[string]any{
			"props": map[string]any{
				"name":         "Alice",
				"address.city": "Oslo",
			},
		}, st.Params)
	})

	t.Run("no labels", func(t *testing.T) {
		_, err := cypher.CreateNode(nil, nil)
		require.Error(t, err)
		assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
	})

	t.Run("nil props become an empty bag", func(t *testing.T) {
		st, err := cypher.CreateNode([]string{"Person"}, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"props": map[string]any{}}, st.Params)
	})

	t.Run("awkward label is quoted", func(t *testing.T) {
		st, err := cypher.CreateNode([]string{"Home Office"}, nil)
		require.NoError(t, err)
		assert.Contains(t, st.Text, "CREATE (n:`Home Office`)")
	})
}

func TestCreateRelationship(t *testing.T) {
	st, err := cypher.CreateRelationship("KNOWS", "a1", "b2", map[string]any{"since": 1999})
	require.NoError(t, err)

	assert.Equal(t,
		"MATCH (a), (b)\nWHERE id(a) = $start AND id(b) = $end\n"+
			"CREATE (a)-[r:KNOWS]->(b)\nSET r = $props\nRETURN id(r) AS id",
		st.Text)
	assert.Equal(t, map[string]any{
		"start": "a1",
		"end":   "b2",
		"props": map[string]any{"since": int64(1999)},
	}, st.Params)

	_, err = cypher.CreateRelationship("", "a1", "b2", nil)
	require.Error(t, err)
	assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
}

func TestLookupAndDeleteStatements(t *testing.T) {
	assert.Equal(t, "MATCH (n)\nWHERE id(n) = $id\nRETURN n", cypher.NodeByID("x").Text)
	assert.Equal(t, map[string]any{"id": "x"}, cypher.NodeByID("x").Params)

	assert.Equal(t, "MATCH ()-[r]->()\nWHERE id(r) = $id\nRETURN r", cypher.RelationshipByID("x").Text)

	assert.Equal(t, "MATCH (n)\nWHERE id(n) = $id\nDETACH DELETE n", cypher.DeleteNode("x").Text)
	assert.Equal(t, "MATCH ()-[r]->()\nWHERE id(r) = $id\nDELETE r", cypher.DeleteRelationship("x").Text)
}

func TestUpdateStatements(t *testing.T) {
	st, err := cypher.UpdateNode("x", map[string]any{"age": 31})
	require.NoError(t, err)
	assert.Equal(t, "MATCH (n)\nWHERE id(n) = $id\nSET n = $props\nRETURN id(n) AS id", st.Text)
	assert.Equal(t, map[string]any{"id": "x", "props": map[string]any{"age": int64(31)}}, st.Params)

	st, err = cypher.UpdateRelationship("x", map[string]any{"weight": 0.5})
	require.NoError(t, err)
	assert.Equal(t, "MATCH ()-[r]->()\nWHERE id(r) = $id\nSET r = $props\nRETURN id(r) AS id", st.Text)
	assert.Equal(t, map[string]any{"id": "x", "props": map[string]any{"weight": 0.5}}, st.Params)
}
