package memstore

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/grom/pkg/cypher"
	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/query"
	"github.com/orneryd/grom/pkg/schema"
)

// seedChain builds Alice -KNOWS-> Bob -KNOWS-> Charlie and returns the node
// IDs keyed by name.
func seedChain(t *testing.T) (*Store, *Client, map[string]string) {
	t.Helper()
	s := New()
	ids := make(map[string]string)
	for _, name := range []string{"Alice", "Bob", "Charlie"} {
		n := &Node{Labels: []string{"Person"}, Props: map[string]any{"name": name}}
		require.NoError(t, s.CreateNode(n))
		ids[name] = n.ID
	}
	for _, edge := range [][2]string{{"Alice", "Bob"}, {"Bob", "Charlie"}} {
		r := &Relationship{Type: "KNOWS", StartID: ids[edge[0]], EndID: ids[edge[1]]}
		require.NoError(t, s.CreateRelationship(r))
	}
	return s, NewClient(s), ids
}

func runPlan(t *testing.T, c *Client, b *query.Builder) *graph.Rows {
	t.Helper()
	plan, err := b.Plan()
	require.NoError(t, err)
	st, err := cypher.Compile(plan)
	require.NoError(t, err)
	rows, err := c.Run(context.Background(), st)
	require.NoError(t, err)
	return rows
}

// names extracts the "name" property of every node in a single-column
// result, sorted.
func names(t *testing.T, rows *graph.Rows) []string {
	t.Helper()
	require.Len(t, rows.Columns, 1)
	col := rows.Columns[0]
	var out []string
	for i := range rows.Records {
		nv, ok := rows.Records[i][col].(*graph.NodeValue)
		require.True(t, ok, "row %d is %T", i, rows.Records[i][col])
		out = append(out, nv.Props["name"].(string))
	}
	sort.Strings(out)
	return out
}

func personNamed(name string) *query.Builder {
	return query.Nodes("Person").Where(query.Eq(query.Property("name"), query.Value(name)))
}

func TestTraverseDepthOne(t *testing.T) {
	_, c, _ := seedChain(t)
	rows := runPlan(t, c, personNamed("Alice").Traverse("KNOWS", "Person"))
	assert.Equal(t, []string{"Bob"}, names(t, rows))
}

func TestTraverseDepthRange(t *testing.T) {
	_, c, _ := seedChain(t)
	rows := runPlan(t, c, personNamed("Alice").
		Traverse("KNOWS", "Person", query.WithDepthRange(1, 2)))
	assert.Equal(t, []string{"Bob", "Charlie"}, names(t, rows))

	rows = runPlan(t, c, personNamed("Alice").
		Traverse("KNOWS", "Person", query.WithDepth(2)))
	assert.Equal(t, []string{"Charlie"}, names(t, rows))
}

func TestReverseTraverse(t *testing.T) {
	_, c, _ := seedChain(t)
	rows := runPlan(t, c, personNamed("Bob").
		Traverse("KNOWS", "Person", query.WithDirection(graph.Incoming)))
	assert.Equal(t, []string{"Alice"}, names(t, rows))
}

func TestTraverseDirections(t *testing.T) {
	_, c, _ := seedChain(t)

	out := runPlan(t, c, personNamed("Bob").
		Traverse("KNOWS", "Person", query.WithDirection(graph.Outgoing)))
	assert.Equal(t, []string{"Charlie"}, names(t, out))

	both := runPlan(t, c, personNamed("Bob").
		Traverse("KNOWS", "Person", query.WithDirection(graph.Both)))
	assert.Equal(t, []string{"Alice", "Charlie"}, names(t, both))
}

func TestTraverseDiamondDistinct(t *testing.T) {
	// A -> B -> D and A -> C -> D: two paths reach D at depth 2, so an
	// undeduplicated traversal yields D twice and Distinct collapses it.
	s := New()
	ids := make(map[string]string)
	for _, name := range []string{"A", "B", "C", "D"} {
		n := &Node{Labels: []string{"Person"}, Props: map[string]any{"name": name}}
		require.NoError(t, s.CreateNode(n))
		ids[name] = n.ID
	}
	for _, e := range [][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}} {
		require.NoError(t, s.CreateRelationship(&Relationship{Type: "KNOWS", StartID: ids[e[0]], EndID: ids[e[1]]}))
	}
	c := NewClient(s)

	from := func() *query.Builder {
		return query.Nodes("Person").
			Where(query.Eq(query.Property("name"), query.Value("A"))).
			Traverse("KNOWS", "Person", query.WithDepth(2))
	}

	plain := runPlan(t, c, from())
	assert.Equal(t, []string{"D", "D"}, names(t, plain))

	distinct := runPlan(t, c, from().Distinct())
	assert.Equal(t, []string{"D"}, names(t, distinct))
}

func TestTraverseCycleTerminates(t *testing.T) {
	// A <-> B cycle: relationship uniqueness per path bounds the walk, so a
	// wide depth range still terminates.
	s := New()
	a := &Node{Labels: []string{"Person"}, Props: map[string]any{"name": "A"}}
	b := &Node{Labels: []string{"Person"}, Props: map[string]any{"name": "B"}}
	require.NoError(t, s.CreateNode(a))
	require.NoError(t, s.CreateNode(b))
	require.NoError(t, s.CreateRelationship(&Relationship{Type: "KNOWS", StartID: a.ID, EndID: b.ID}))
	require.NoError(t, s.CreateRelationship(&Relationship{Type: "KNOWS", StartID: b.ID, EndID: a.ID}))
	c := NewClient(s)

	rows := runPlan(t, c, query.Nodes("Person").
		Where(query.Eq(query.Property("name"), query.Value("A"))).
		Traverse("KNOWS", "Person", query.WithDepthRange(1, 10)))
	assert.Equal(t, []string{"A", "B"}, names(t, rows))
}

func TestWhereConjunction(t *testing.T) {
	s := New()
	for _, p := range []map[string]any{
		{"name": "Alice", "age": int64(30)},
		{"name": "Bob", "age": int64(30)},
		{"name": "Alice", "age": int64(40)},
	} {
		require.NoError(t, s.CreateNode(&Node{Labels: []string{"Person"}, Props: p}))
	}
	c := NewClient(s)

	a := query.Eq(query.Property("name"), query.Value("Alice"))
	b := query.Eq(query.Property("age"), query.Value(30))

	chained := runPlan(t, c, query.Nodes("Person").Where(a).Where(b))
	combined := runPlan(t, c, query.Nodes("Person").Where(query.And(a, b)))

	assert.Equal(t, names(t, combined), names(t, chained))
	assert.Equal(t, []string{"Alice"}, names(t, chained))
}

func TestOrderSkipTake(t *testing.T) {
	s := New()
	for _, name := range []string{"dave", "alice", "carol", "bob"} {
		require.NoError(t, s.CreateNode(&Node{Labels: []string{"Person"}, Props: map[string]any{"name": name}}))
	}
	c := NewClient(s)

	base := func() *query.Builder {
		return query.Nodes("Person").OrderBy(query.Property("name"))
	}

	window := runPlan(t, c, base().Skip(1).Take(2))
	assert.Equal(t, []string{"bob", "carol"}, names(t, window))

	assert.Equal(t, 0, runPlan(t, c, base().Take(0)).Len())
	assert.Equal(t, 4, runPlan(t, c, base().Take(100)).Len())
}

func TestGroupByAggregates(t *testing.T) {
	s := New()
	for _, p := range []map[string]any{
		{"name": "Alice", "city": "Oslo", "age": int64(30)},
		{"name": "Bob", "city": "Oslo", "age": int64(40)},
		{"name": "Carol", "city": "Bergen", "age": int64(50)},
	} {
		require.NoError(t, s.CreateNode(&Node{Labels: []string{"Person"}, Props: p}))
	}
	c := NewClient(s)

	rows := runPlan(t, c, query.Nodes("Person").
		GroupBy(
			[]query.Field{query.F("city", query.Property("city"))},
			query.Aggregate{Name: "total", Fn: query.AggCount},
			query.Aggregate{Name: "oldest", Fn: query.AggMax, Arg: query.Property("age")},
		).
		OrderBy(query.Property("city")))

	require.Equal(t, 2, rows.Len())
	assert.Equal(t, graph.Record{"city": "Bergen", "total": int64(1), "oldest": int64(50)}, rows.Records[0])
	assert.Equal(t, graph.Record{"city": "Oslo", "total": int64(2), "oldest": int64(40)}, rows.Records[1])
}

func TestCountOnEmptyInput(t *testing.T) {
	s := New()
	c := NewClient(s)
	rows := runPlan(t, c, query.Nodes("Person").
		GroupBy(nil, query.Aggregate{Name: "total", Fn: query.AggCount}))
	require.Equal(t, 1, rows.Len())
	assert.Equal(t, int64(0), rows.Records[0]["total"])
}

func TestSegmentsYieldTriples(t *testing.T) {
	_, c, ids := seedChain(t)
	rows := runPlan(t, c, query.PathSegments("Person", "KNOWS", "Person", graph.Outgoing).
		OrderBy(query.PropertyOf(query.RefStart, "name")))

	require.Equal(t, 2, rows.Len())
	start := rows.Records[0]["start"].(*graph.NodeValue)
	rel := rows.Records[0]["rel"].(*graph.RelValue)
	end := rows.Records[0]["end"].(*graph.NodeValue)
	assert.Equal(t, ids["Alice"], start.ID)
	assert.Equal(t, "KNOWS", rel.Type)
	assert.Equal(t, ids["Bob"], end.ID)
}

func TestCreateStatementRoundTrip(t *testing.T) {
	s := New()
	c := NewClient(s)

	st, err := cypher.CreateNode([]string{"Person"}, map[string]any{"name": "Alice", "age": 30})
	require.NoError(t, err)
	rows, err := c.Run(context.Background(), st)
	require.NoError(t, err)
	id, ok := rows.Value(0, "id")
	require.True(t, ok)

	stored, err := s.GetNode(id.(string))
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.Props["name"])
	assert.Equal(t, int64(30), stored.Props["age"])
}

func TestCreateRelationshipMissingEndpoint(t *testing.T) {
	s := New()
	n := &Node{Labels: []string{"Person"}, Props: map[string]any{"name": "Alice"}}
	require.NoError(t, s.CreateNode(n))
	c := NewClient(s)

	st, err := cypher.CreateRelationship("KNOWS", n.ID, "no-such-node", nil)
	require.NoError(t, err)
	rows, err := c.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 0, rows.Len(), "matching zero endpoints creates nothing")
}

func TestDeleteRequiresDetach(t *testing.T) {
	s, c, ids := seedChain(t)

	st := &cypher.Statement{
		Text:   "MATCH (n)\nWHERE id(n) = $id\nDELETE n",
		Params: map[string]any{"id": ids["Bob"]},
	}
	_, err := c.Run(context.Background(), st)
	require.Error(t, err)
	assert.Equal(t, graph.EConflict, graph.ErrorCode(err))

	_, err = c.Run(context.Background(), cypher.DeleteNode(ids["Bob"]))
	require.NoError(t, err)
	_, err = s.GetNode(ids["Bob"])
	assert.Equal(t, graph.ENotFound, graph.ErrorCode(err))

	// Bob's relationships went with him.
	out, err := s.GetOutgoing(ids["Alice"])
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDeleteAbsentIsNoop(t *testing.T) {
	_, c, _ := seedChain(t)
	_, err := c.Run(context.Background(), cypher.DeleteNode("no-such-node"))
	assert.NoError(t, err)
}

func TestValidationRunsAfterSet(t *testing.T) {
	reg := schema.NewRegistry()
	d, err := schema.NewNodeDescriptor("Todo", nil, []schema.Property{
		{Name: "note", Kind: graph.KindString, Required: true},
		{Name: "done", Kind: graph.KindBool},
		{Name: "due", Kind: graph.KindTime},
		{Name: "priority", Kind: graph.KindInt},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Register(d))
	require.NoError(t, reg.Initialize())

	s := New(WithRegistry(reg))
	c := NewClient(s)

	st, err := cypher.CreateNode([]string{"Todo"}, map[string]any{"note": "water plants", "done": false})
	require.NoError(t, err)
	_, err = c.Run(context.Background(), st)
	assert.NoError(t, err, "the property bag arrives via SET after CREATE; validation must see the final bag")
}

func TestCaseSensitivePropertyNames(t *testing.T) {
	reg := schema.NewRegistry()
	d, err := schema.NewNodeDescriptor("Todo", nil, []schema.Property{
		{Name: "note", Kind: graph.KindString, Required: true},
		{Name: "done", Kind: graph.KindBool},
		{Name: "due", Kind: graph.KindTime},
		{Name: "priority", Kind: graph.KindInt},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Register(d))
	require.NoError(t, reg.Initialize())
	s := New(WithRegistry(reg))
	c := NewClient(s)

	ok, err := cypher.CreateNode([]string{"Todo"}, map[string]any{
		"note": "water plants", "done": false, "priority": 2,
	})
	require.NoError(t, err)
	_, err = c.Run(context.Background(), ok)
	require.NoError(t, err)

	bad, err := cypher.CreateNode([]string{"Todo"}, map[string]any{
		"Note": "water plants", "Done": false, "Priority": 2,
	})
	require.NoError(t, err)
	_, err = c.Run(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
	assert.Contains(t, err.Error(), "note")
}

func TestCompositeKeyUniqueness(t *testing.T) {
	reg := schema.NewRegistry()
	d, err := schema.NewNodeDescriptor("Employee", nil, []schema.Property{
		{Name: "companyId", Kind: graph.KindString, Key: true},
		{Name: "employeeNumber", Kind: graph.KindInt, Key: true},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Register(d))
	require.NoError(t, reg.Initialize())
	s := New(WithRegistry(reg))
	c := NewClient(s)

	create := func(company string, number int) error {
		st, err := cypher.CreateNode([]string{"Employee"}, map[string]any{
			"companyId": company, "employeeNumber": number,
		})
		require.NoError(t, err)
		_, err = c.Run(context.Background(), st)
		return err
	}

	require.NoError(t, create("acme", 7))

	err = create("acme", 7)
	require.Error(t, err)
	assert.Equal(t, graph.EConflict, graph.ErrorCode(err))

	assert.NoError(t, create("acme", 8), "changing one key component clears the conflict")
	assert.NoError(t, create("initech", 7))
}

func TestRunCancelledContext(t *testing.T) {
	_, c, _ := seedChain(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Run(ctx, cypher.NodeByID("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunEmptyStatement(t *testing.T) {
	_, c, _ := seedChain(t)
	_, err := c.Run(context.Background(), &cypher.Statement{})
	assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
}

func TestUnknownParameter(t *testing.T) {
	_, c, _ := seedChain(t)
	st := &cypher.Statement{Text: "MATCH (n)\nWHERE id(n) = $missing\nRETURN n"}
	_, err := c.Run(context.Background(), st)
	require.Error(t, err)
	assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
}
