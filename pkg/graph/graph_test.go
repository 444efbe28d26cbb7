package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirection(t *testing.T) {
	tests := []struct {
		name     string
		d        Direction
		str      string
		reversed Direction
	}{
		{"outgoing", Outgoing, "outgoing", Incoming},
		{"incoming", Incoming, "incoming", Outgoing},
		{"both", Both, "both", Both},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.str, tt.d.String())
			assert.Equal(t, tt.reversed, tt.d.Reverse())
		})
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

type person struct {
	Node `grom:"Person"`
	Name string `grom:"name"`
}

type knows struct {
	Relationship `grom:"KNOWS"`
	Since        int `grom:"since"`
}

func TestBindIDAssignsOnce(t *testing.T) {
	p := &person{Name: "Alice"}
	assert.Empty(t, p.EntityID())

	p.BindID("n-1")
	assert.Equal(t, "n-1", p.EntityID())

	// Identity never changes after the first assignment.
	p.BindID("n-2")
	assert.Equal(t, "n-1", p.EntityID())
}

func TestRelationshipEndpoints(t *testing.T) {
	k := &knows{Since: 2020}
	k.BindEndpoints("a", "b")
	start, end := k.Endpoints()
	assert.Equal(t, "a", start)
	assert.Equal(t, "b", end)

	k.BindEndpoints("x", "y")
	start, end = k.Endpoints()
	assert.Equal(t, "a", start, "endpoints are assign-once")
	assert.Equal(t, "b", end)
}

func TestEntityInterfaces(t *testing.T) {
	// Static and dynamic entities satisfy the same contracts.
	var _ NodeEntity = &person{}
	var _ NodeEntity = &DynamicNode{}
	var _ RelationshipEntity = &knows{}
	var _ RelationshipEntity = &DynamicRelationship{}

	dyn := &DynamicNode{Labels: []string{"Todo"}, Props: map[string]any{"title": "x"}}
	dyn.BindID("d-1")
	dyn.BindID("d-2")
	assert.Equal(t, "d-1", dyn.EntityID())
}
