package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/grom/pkg/graph"
)

func TestKeyImpliesUniqueRequiredIndexed(t *testing.T) {
	d, err := NewNodeDescriptor("Employee", nil, []Property{
		{Name: "companyId", Kind: graph.KindString, Key: true},
		{Name: "employeeNumber", Kind: graph.KindString, Key: true},
		{Name: "nickname", Kind: graph.KindString},
	})
	require.NoError(t, err)

	for _, name := range []string{"companyId", "employeeNumber"} {
		p, ok := d.Property(name)
		require.True(t, ok, name)
		assert.True(t, p.Unique, "%s unique", name)
		assert.True(t, p.Required, "%s required", name)
		assert.True(t, p.Indexed, "%s indexed", name)
	}

	assert.Equal(t, []string{"companyId", "employeeNumber"}, d.KeyProperties())
	assert.Empty(t, d.UniqueProperties(), "key properties are not separate unique constraints")

	nick, _ := d.Property("nickname")
	assert.False(t, nick.Unique)
}

func TestDescriptorRejectsBadRules(t *testing.T) {
	tests := []struct {
		name string
		prop Property
	}{
		{"negative min length", Property{Name: "a", Kind: graph.KindString, Rules: Rules{MinLength: Int(-1)}}},
		{"max below min length", Property{Name: "a", Kind: graph.KindString, Rules: Rules{MinLength: Int(5), MaxLength: Int(2)}}},
		{"max below min value", Property{Name: "a", Kind: graph.KindInt, Rules: Rules{MinValue: Float(5), MaxValue: Float(2)}}},
		{"length rule on int", Property{Name: "a", Kind: graph.KindInt, Rules: Rules{MinLength: Int(1)}}},
		{"range rule on string", Property{Name: "a", Kind: graph.KindString, Rules: Rules{MinValue: Float(1)}}},
		{"enum on bool", Property{Name: "a", Kind: graph.KindBool, Rules: Rules{Enum: []string{"x"}}}},
		{"empty enum value", Property{Name: "a", Kind: graph.KindString, Rules: Rules{Enum: []string{""}}}},
		{"duplicate enum value", Property{Name: "a", Kind: graph.KindString, Rules: Rules{Enum: []string{"x", "x"}}}},
		{"bad pattern", Property{Name: "a", Kind: graph.KindString, Rules: Rules{Pattern: "("}}},
		{"bad name", Property{Name: "9lives", Kind: graph.KindString}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNodeDescriptor("Thing", nil, []Property{tt.prop})
			require.Error(t, err)
			assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
		})
	}
}

func TestDescriptorRejectsDuplicatesAndRelKeys(t *testing.T) {
	_, err := NewNodeDescriptor("Thing", nil, []Property{
		{Name: "a", Kind: graph.KindString},
		{Name: "a", Kind: graph.KindString},
	})
	require.Error(t, err)

	// Case-sensitive names: Title and title are distinct declarations.
	_, err = NewNodeDescriptor("Thing", nil, []Property{
		{Name: "title", Kind: graph.KindString},
		{Name: "Title", Kind: graph.KindString},
	})
	require.NoError(t, err)

	_, err = NewRelationshipDescriptor("KNOWS", []Property{
		{Name: "since", Kind: graph.KindInt, Key: true},
	})
	require.Error(t, err, "node keys do not apply to relationships")
}

func TestAllLabels(t *testing.T) {
	d, err := NewNodeDescriptor("Employee", []string{"Person", "Agent"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Employee", "Person", "Agent"}, d.AllLabels())
}
