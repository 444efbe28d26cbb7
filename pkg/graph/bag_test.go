package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeValue(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		input any
		want  any
		ok    bool
	}{
		{"string", "hello", "hello", true},
		{"bool", true, true, true},
		{"int", 42, int64(42), true},
		{"int32", int32(7), int64(7), true},
		{"uint", uint(9), int64(9), true},
		{"uint64 in range", uint64(100), int64(100), true},
		{"uint64 overflow", uint64(1 << 63), nil, false},
		{"float32", float32(2.5), float64(2.5), true},
		{"float64", 3.14, 3.14, true},
		{"time", now, now, true},
		{"string list", []string{"a", "b"}, []string{"a", "b"}, true},
		{"any list of strings", []any{"a", "b"}, []string{"a", "b"}, true},
		{"any list mixed", []any{"a", 1}, nil, false},
		{"nil", nil, nil, true},
		{"struct", struct{}{}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeValue(tt.input)
			if !tt.ok {
				require.Error(t, err)
				assert.Equal(t, EInvalid, ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindString, KindOf("x"))
	assert.Equal(t, KindInt, KindOf(int64(1)))
	assert.Equal(t, KindFloat, KindOf(1.5))
	assert.Equal(t, KindBool, KindOf(false))
	assert.Equal(t, KindTime, KindOf(time.Now()))
	assert.Equal(t, KindStringList, KindOf([]string{"a"}))
	// Unnormalized values classify as invalid.
	assert.Equal(t, KindInvalid, KindOf(42))
}

func TestFlattenProps(t *testing.T) {
	flat, err := FlattenProps(map[string]any{
		"name": "Alice",
		"age":  30,
		"address": map[string]any{
			"city": "Oslo",
			"geo":  map[string]any{"lat": 59.9, "lon": 10.7},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"name":            "Alice",
		"age":             int64(30),
		"address.city":    "Oslo",
		"address.geo.lat": 59.9,
		"address.geo.lon": 10.7,
	}, flat)
}

func TestFlattenPropsCollision(t *testing.T) {
	_, err := FlattenProps(map[string]any{
		"address.city": "literal",
		"address":      map[string]any{"city": "nested"},
	})
	require.Error(t, err)
	assert.Equal(t, EInvalid, ErrorCode(err))
}

func TestUnflattenRoundTrip(t *testing.T) {
	flat := map[string]any{
		"name":            "Alice",
		"address.city":    "Oslo",
		"address.geo.lat": 59.9,
	}

	nested := UnflattenProps(flat)
	assert.Equal(t, map[string]any{
		"name": "Alice",
		"address": map[string]any{
			"city": "Oslo",
			"geo":  map[string]any{"lat": 59.9},
		},
	}, nested)

	again, err := FlattenProps(nested)
	require.NoError(t, err)
	assert.Equal(t, flat, again)
}
