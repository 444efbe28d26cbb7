package grom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/grom/pkg/graph"
)

func TestEncodeSkipsNilPointerFields(t *testing.T) {
	type profile struct {
		graph.Node `grom:"Profile"`
		Name       string  `grom:"name"`
		Bio        *string `grom:"bio"`
	}

	enc, err := encodeNodeEntity(&profile{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Profile"}, enc.labels)
	_, present := enc.props["bio"]
	assert.False(t, present, "nil pointer fields are absent, not null")

	bio := "hello"
	enc, err = encodeNodeEntity(&profile{Name: "x", Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "hello", enc.props["bio"])
}

func TestEncodeRejectsUnlabeledRelationship(t *testing.T) {
	type unlabeled struct {
		graph.Relationship
	}
	_, err := encodeRelEntity(&unlabeled{})
	require.Error(t, err)
	assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
}

func TestEncodeDynamicRelationshipNeedsType(t *testing.T) {
	_, err := encodeRelEntity(&graph.DynamicRelationship{})
	require.Error(t, err)
	assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
}

func TestDecodeCoercesNumbers(t *testing.T) {
	type counter struct {
		graph.Node `grom:"Counter"`
		Count      int     `grom:"count"`
		Ratio      float64 `grom:"ratio"`
	}

	var c counter
	err := decodeNodeValue(&graph.NodeValue{
		ID:     "1",
		Labels: []string{"Counter"},
		// Engines hand back canonical values; whole floats still land in
		// integer fields.
		Props: map[string]any{"count": float64(7), "ratio": int64(2)},
	}, &c)
	require.NoError(t, err)
	assert.Equal(t, 7, c.Count)
	assert.Equal(t, 2.0, c.Ratio)
	assert.Equal(t, "1", c.ID)
}

func TestDecodeSkipsAbsentProps(t *testing.T) {
	var p Person
	err := decodeNodeValue(&graph.NodeValue{
		ID:     "1",
		Labels: []string{"Person"},
		Props:  map[string]any{"name": "Alice"},
	}, &p)
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name)
	assert.Zero(t, p.Age)
}
