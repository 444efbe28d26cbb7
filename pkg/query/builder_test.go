package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/grom/pkg/graph"
)

func TestBuilderStepSequence(t *testing.T) {
	plan, err := Nodes("Person").
		Where(Eq(Property("name"), Value("Alice"))).
		Traverse("KNOWS", "Person", WithDepthRange(1, 2)).
		OrderBy(Property("name")).
		ThenByDesc(Property("age")).
		Skip(1).
		Take(2).
		Plan()
	require.NoError(t, err)

	require.Len(t, plan.Steps, 6)
	assert.Equal(t, Source{Label: "Person"}, plan.Steps[0])
	assert.IsType(t, Filter{}, plan.Steps[1])

	tr, ok := plan.Steps[2].(Traverse)
	require.True(t, ok)
	assert.Equal(t, "KNOWS", tr.RelType)
	assert.Equal(t, 1, tr.MinDepth)
	assert.Equal(t, 2, tr.MaxDepth)
	assert.Equal(t, graph.Outgoing, tr.Direction)
	assert.Equal(t, YieldEndNodes, tr.Yield)

	ob, ok := plan.Steps[3].(OrderBy)
	require.True(t, ok)
	require.Len(t, ob.Keys, 2)
	assert.False(t, ob.Keys[0].Desc)
	assert.True(t, ob.Keys[1].Desc)

	assert.Equal(t, Skip{N: 1}, plan.Steps[4])
	assert.Equal(t, Take{N: 2}, plan.Steps[5])
}

func TestTraverseDefaultsAndOptions(t *testing.T) {
	plan, err := Nodes("Person").Traverse("KNOWS", "").Plan()
	require.NoError(t, err)
	tr := plan.Steps[1].(Traverse)
	assert.Equal(t, 1, tr.MinDepth, "default depth is exactly one hop")
	assert.Equal(t, 1, tr.MaxDepth)
	assert.Equal(t, graph.Outgoing, tr.Direction)

	plan, err = Nodes("Person").
		Traverse("KNOWS", "", WithDepth(3), WithDirection(graph.Incoming), WithYield(YieldRelationships)).
		Plan()
	require.NoError(t, err)
	tr = plan.Steps[1].(Traverse)
	assert.Equal(t, 3, tr.MinDepth)
	assert.Equal(t, 3, tr.MaxDepth)
	assert.Equal(t, graph.Incoming, tr.Direction)
	assert.Equal(t, YieldRelationships, tr.Yield)
}

// Options apply in order: Reversed flips whatever direction is in effect,
// and a later WithDirection overrides the flip.
func TestTraverseReversed(t *testing.T) {
	plan, err := Nodes("Person").Traverse("KNOWS", "", Reversed()).Plan()
	require.NoError(t, err)
	assert.Equal(t, graph.Incoming, plan.Steps[1].(Traverse).Direction)

	plan, err = Nodes("Person").Traverse("KNOWS", "", WithDirection(graph.Incoming), Reversed()).Plan()
	require.NoError(t, err)
	assert.Equal(t, graph.Outgoing, plan.Steps[1].(Traverse).Direction)

	plan, err = Nodes("Person").Traverse("KNOWS", "", Reversed(), WithDirection(graph.Both)).Plan()
	require.NoError(t, err)
	assert.Equal(t, graph.Both, plan.Steps[1].(Traverse).Direction)

	plan, err = Nodes("Person").Traverse("KNOWS", "", WithDirection(graph.Both), Reversed()).Plan()
	require.NoError(t, err)
	assert.Equal(t, graph.Both, plan.Steps[1].(Traverse).Direction, "Both reverses to itself")
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*Plan, error)
	}{
		{"negative depth", func() (*Plan, error) {
			return Nodes("A").Traverse("R", "", WithDepth(-1)).Plan()
		}},
		{"inverted range", func() (*Plan, error) {
			return Nodes("A").Traverse("R", "", WithDepthRange(2, 1)).Plan()
		}},
		{"then-by without order-by", func() (*Plan, error) {
			return Nodes("A").ThenBy(Property("x")).Plan()
		}},
		{"order-by twice", func() (*Plan, error) {
			return Nodes("A").OrderBy(Property("x")).OrderBy(Property("y")).Plan()
		}},
		{"skip after take", func() (*Plan, error) {
			return Nodes("A").Take(5).Skip(2).Plan()
		}},
		{"negative skip", func() (*Plan, error) {
			return Nodes("A").Skip(-1).Plan()
		}},
		{"negative take", func() (*Plan, error) {
			return Nodes("A").Take(-1).Plan()
		}},
		{"filter after projection", func() (*Plan, error) {
			return Nodes("A").Select(F("x", Property("x"))).Where(Eq(Property("x"), Value(1))).Plan()
		}},
		{"traverse after grouping", func() (*Plan, error) {
			return Nodes("A").
				GroupBy([]Field{F("k", Property("k"))}, Aggregate{Name: "n", Fn: AggCount}).
				Traverse("R", "").Plan()
		}},
		{"traverse from relationships", func() (*Plan, error) {
			return Relationships("KNOWS").Traverse("LIKES", "").Plan()
		}},
		{"group by without aggregates", func() (*Plan, error) {
			return Nodes("A").GroupBy([]Field{F("k", Property("k"))}).Plan()
		}},
		{"empty select", func() (*Plan, error) {
			return Nodes("A").Select().Plan()
		}},
		{"distinct after order", func() (*Plan, error) {
			return Nodes("A").OrderBy(Property("x")).Distinct().Plan()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			require.Error(t, err)
			assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
		})
	}
}

func TestJoinOnPropagatesSideErrors(t *testing.T) {
	bad := Nodes("A").Skip(-1)
	_, err := JoinOn(bad, Nodes("B"), Eq(PropertyOf(RefLeft, "x"), PropertyOf(RefRight, "x"))).Plan()
	require.Error(t, err)

	_, err = JoinOn(Nodes("A"), Nodes("B"), nil).Plan()
	require.Error(t, err)

	plan, err := JoinOn(
		Nodes("A").Where(Eq(Property("x"), Value(1))),
		Nodes("B"),
		Eq(PropertyOf(RefLeft, "id"), PropertyOf(RefRight, "ref")),
	).Plan()
	require.NoError(t, err)
	j, ok := plan.Steps[0].(Join)
	require.True(t, ok)
	assert.Len(t, j.Left.Steps, 2)
	assert.Len(t, j.Right.Steps, 1)
}

// A frozen plan does not observe later builder calls.
func TestPlanIsFrozen(t *testing.T) {
	b := Nodes("Person").Where(Eq(Property("x"), Value(1)))
	plan1, err := b.Plan()
	require.NoError(t, err)

	b.Take(5)
	plan2, err := b.Plan()
	require.NoError(t, err)

	assert.Len(t, plan1.Steps, 2)
	assert.Len(t, plan2.Steps, 3)
}

func TestBooleanFolding(t *testing.T) {
	assert.Nil(t, And())

	single := Eq(Property("a"), Value(1))
	assert.Equal(t, single, And(single))

	tree := And(
		Eq(Property("a"), Value(1)),
		Eq(Property("b"), Value(2)),
		Eq(Property("c"), Value(3)),
	)
	outer, ok := tree.(Binary)
	require.True(t, ok)
	assert.Equal(t, OpAnd, outer.Op)
	inner, ok := outer.L.(Binary)
	require.True(t, ok)
	assert.Equal(t, OpAnd, inner.Op)

	or := Or(Eq(Property("a"), Value(1)), Eq(Property("b"), Value(2)))
	assert.Equal(t, OpOr, or.(Binary).Op)
}

func TestSegmentsRoot(t *testing.T) {
	plan, err := PathSegments("Person", "KNOWS", "Person", graph.Both).
		Where(Eq(PropertyOf(RefStart, "name"), Value("Alice"))).
		Plan()
	require.NoError(t, err)
	seg, ok := plan.Steps[0].(Segments)
	require.True(t, ok)
	assert.Equal(t, graph.Both, seg.Direction)
}
