package grom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/query"
)

func seedPeople(t *testing.T, g *Graph) map[string]*Person {
	t.Helper()
	ctx := context.Background()
	out := make(map[string]*Person)
	for _, p := range []*Person{
		{Name: "Alice", Age: 30},
		{Name: "Bob", Age: 25},
		{Name: "Carol", Age: 35},
	} {
		require.NoError(t, g.CreateNode(ctx, p))
		out[p.Name] = p
	}
	return out
}

func TestQueryNodesTyped(t *testing.T) {
	g := newGraph(t)
	seedPeople(t, g)

	adults, err := QueryNodes[*Person](context.Background(), g, mustPlan(t,
		NodesOf[*Person]().
			Where(query.Gte(query.Property("age"), query.Value(30))).
			OrderBy(query.Property("name"))))
	require.NoError(t, err)
	require.Len(t, adults, 2)
	assert.Equal(t, "Alice", adults[0].Name)
	assert.Equal(t, "Carol", adults[1].Name)
	assert.NotEmpty(t, adults[0].ID, "decoded entities carry their identity")
}

func TestQueryNodesWindow(t *testing.T) {
	g := newGraph(t)
	seedPeople(t, g)

	page, err := QueryNodes[*Person](context.Background(), g, mustPlan(t,
		NodesOf[*Person]().OrderBy(query.Property("age")).Skip(1).Take(1)))
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Alice", page[0].Name)

	empty, err := QueryNodes[*Person](context.Background(), g, mustPlan(t,
		NodesOf[*Person]().Take(0)))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestQueryRelationshipsTyped(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()
	people := seedPeople(t, g)
	require.NoError(t, g.Relate(ctx, people["Alice"], &Knows{Since: 2019}, people["Bob"]))
	require.NoError(t, g.Relate(ctx, people["Bob"], &Knows{Since: 2021}, people["Carol"]))

	recent, err := QueryRelationships[*Knows](ctx, g, mustPlan(t,
		RelationshipsOf[*Knows]().
			Where(query.Gt(query.Property("since"), query.Value(2020)))))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 2021, recent[0].Since)
	start, end := recent[0].Endpoints()
	assert.Equal(t, people["Bob"].ID, start)
	assert.Equal(t, people["Carol"].ID, end)
}

func TestQuerySegmentsTyped(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()
	people := seedPeople(t, g)
	require.NoError(t, g.Relate(ctx, people["Alice"], &Knows{Since: 2019}, people["Bob"]))

	segs, err := QuerySegments[*Person, *Knows, *Person](ctx, g, mustPlan(t,
		query.PathSegments("Person", "KNOWS", "Person", graph.Outgoing)))
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "Alice", segs[0].Start.Name)
	assert.Equal(t, 2019, segs[0].Rel.Since)
	assert.Equal(t, "Bob", segs[0].End.Name)
}

func TestQueryTraversalTyped(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()
	people := seedPeople(t, g)
	require.NoError(t, g.Relate(ctx, people["Alice"], &Knows{}, people["Bob"]))
	require.NoError(t, g.Relate(ctx, people["Bob"], &Knows{}, people["Carol"]))

	reachable, err := QueryNodes[*Person](ctx, g, mustPlan(t,
		NodesOf[*Person]().
			Where(query.Eq(query.Property("name"), query.Value("Alice"))).
			Traverse("KNOWS", "Person", query.WithDepthRange(1, 2)).
			OrderBy(query.Property("name"))))
	require.NoError(t, err)
	require.Len(t, reachable, 2)
	assert.Equal(t, "Bob", reachable[0].Name)
	assert.Equal(t, "Carol", reachable[1].Name)
}

func TestQueryNodesRejectsShapedPlans(t *testing.T) {
	g := newGraph(t)
	seedPeople(t, g)

	_, err := QueryNodes[*Person](context.Background(), g, mustPlan(t,
		NodesOf[*Person]().Select(query.F("name", query.Property("name")))))
	require.Error(t, err)
	assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
}

func TestRunShapedPlan(t *testing.T) {
	g := newGraph(t)
	seedPeople(t, g)

	rows, err := g.Run(context.Background(), mustPlan(t,
		NodesOf[*Person]().
			GroupBy(nil, query.Aggregate{Name: "total", Fn: query.AggCount})))
	require.NoError(t, err)
	require.Equal(t, 1, rows.Len())
	assert.Equal(t, int64(3), rows.Records[0]["total"])
}

func TestNodesOfDerivesLabel(t *testing.T) {
	plan := mustPlan(t, NodesOf[*Employee]())
	src, ok := plan.Steps[0].(query.Source)
	require.True(t, ok)
	assert.Equal(t, "Employee", src.Label)
	assert.False(t, src.Rel)

	rel := mustPlan(t, RelationshipsOf[*Knows]())
	rsrc, ok := rel.Steps[0].(query.Source)
	require.True(t, ok)
	assert.Equal(t, "KNOWS", rsrc.Label)
	assert.True(t, rsrc.Rel)
}

func TestFirstAndSingle(t *testing.T) {
	g := newGraph(t)
	seedPeople(t, g)
	ctx := context.Background()

	youngest, err := FirstNode[*Person](ctx, g, mustPlan(t,
		NodesOf[*Person]().OrderBy(query.Property("age"))))
	require.NoError(t, err)
	assert.Equal(t, "Bob", youngest.Name)

	_, err = FirstNode[*Person](ctx, g, mustPlan(t,
		NodesOf[*Person]().Where(query.Eq(query.Property("name"), query.Value("Dave")))))
	assert.Equal(t, graph.ENotFound, graph.ErrorCode(err))

	missing, err := FirstNodeOrZero[*Person](ctx, g, mustPlan(t,
		NodesOf[*Person]().Where(query.Eq(query.Property("name"), query.Value("Dave")))))
	require.NoError(t, err)
	assert.Nil(t, missing)

	carol, err := SingleNode[*Person](ctx, g, mustPlan(t,
		NodesOf[*Person]().Where(query.Eq(query.Property("name"), query.Value("Carol")))))
	require.NoError(t, err)
	assert.Equal(t, 35, carol.Age)

	_, err = SingleNode[*Person](ctx, g, mustPlan(t, NodesOf[*Person]()))
	assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))

	_, err = SingleNodeOrZero[*Person](ctx, g, mustPlan(t, NodesOf[*Person]()))
	assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
}

func TestCountAndAny(t *testing.T) {
	g := newGraph(t)
	seedPeople(t, g)
	ctx := context.Background()

	n, err := Count(ctx, g, mustPlan(t, NodesOf[*Person]()))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = Count(ctx, g, mustPlan(t,
		NodesOf[*Person]().Where(query.Gte(query.Property("age"), query.Value(30)))))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Paginated plans count the rows they actually yield.
	n, err = Count(ctx, g, mustPlan(t,
		NodesOf[*Person]().OrderBy(query.Property("age")).Skip(1)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, err := Any(ctx, g, mustPlan(t,
		NodesOf[*Person]().Where(query.Gte(query.Property("age"), query.Value(100)))))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Any(ctx, g, mustPlan(t, NodesOf[*Person]()))
	require.NoError(t, err)
	assert.True(t, ok)
}
