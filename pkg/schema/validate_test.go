package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/orneryd/grom/pkg/graph"
)

func todoDescriptor(t *testing.T) *Descriptor {
	t.Helper()
	d, err := NewNodeDescriptor("Todo", nil, []Property{
		{Name: "title", Kind: graph.KindString, Required: true,
			Rules: Rules{MinLength: Int(1), MaxLength: Int(200)}},
		{Name: "status", Kind: graph.KindString,
			Rules: Rules{Enum: []string{"open", "done"}}},
		{Name: "priority", Kind: graph.KindInt,
			Rules: Rules{MinValue: Float(0), MaxValue: Float(9)}},
		{Name: "slug", Kind: graph.KindString,
			Rules: Rules{Pattern: `[a-z0-9-]+`}},
	})
	require.NoError(t, err)
	return d
}

// rules extracts the violated rule names from a validation error.
func rules(err error) []string {
	ge, ok := err.(*graph.Error)
	if !ok {
		return nil
	}
	var out []string
	for _, e := range multierr.Errors(ge.Err) {
		if v, ok := e.(Violation); ok {
			out = append(out, v.Rule)
		}
	}
	return out
}

func TestValidateRules(t *testing.T) {
	d := todoDescriptor(t)

	tests := []struct {
		name  string
		props map[string]any
		want  []string // violated rules, nil means valid
	}{
		{"valid", map[string]any{"title": "write tests", "status": "open", "priority": int64(3)}, nil},
		{"required missing", map[string]any{"status": "open"}, []string{RuleRequired}},
		{"required empty string", map[string]any{"title": ""}, []string{RuleRequired}},
		{"required nil", map[string]any{"title": nil}, []string{RuleRequired}},
		{"too long", map[string]any{"title": strings.Repeat("x", 201)}, []string{RuleMaxLength}},
		{"below min value", map[string]any{"title": "t", "priority": int64(-1)}, []string{RuleMinValue}},
		{"above max value", map[string]any{"title": "t", "priority": int64(10)}, []string{RuleMaxValue}},
		{"whole float accepted as int", map[string]any{"title": "t", "priority": 3.0}, nil},
		{"fractional float rejected as int", map[string]any{"title": "t", "priority": 3.5}, []string{RuleKind}},
		{"enum exact match", map[string]any{"title": "t", "status": "done"}, nil},
		{"enum case mismatch", map[string]any{"title": "t", "status": "Done"}, []string{RuleEnum}},
		{"enum unknown", map[string]any{"title": "t", "status": "parked"}, []string{RuleEnum}},
		{"pattern mismatch", map[string]any{"title": "t", "slug": "Not A Slug"}, []string{RulePattern}},
		{"pattern partial match is not enough", map[string]any{"title": "t", "slug": "ok-slug!"}, []string{RulePattern}},
		{"undeclared property", map[string]any{"title": "t", "color": "red"}, []string{RuleUndeclared}},
		{"wrong kind", map[string]any{"title": int64(5)}, []string{RuleKind}},
		{"several at once", map[string]any{"status": "parked", "color": "red"}, []string{RuleUndeclared, RuleRequired, RuleEnum}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Validate(tt.props)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
			assert.ElementsMatch(t, tt.want, rules(err))
		})
	}
}

// Property names are case-sensitive: supplying "Title" against a schema
// declaring "title" is an undeclared property AND leaves the required
// property missing.
func TestValidateCaseSensitiveNames(t *testing.T) {
	d := todoDescriptor(t)

	err := d.Validate(map[string]any{"Title": "wrong case"})
	require.Error(t, err)
	assert.ElementsMatch(t, []string{RuleUndeclared, RuleRequired}, rules(err))

	ge, ok := err.(*graph.Error)
	require.True(t, ok)
	msgs := make([]string, 0)
	for _, e := range multierr.Errors(ge.Err) {
		msgs = append(msgs, e.Error())
	}
	assert.Contains(t, msgs, "Todo.Title: property is not declared on the schema")
	assert.Contains(t, msgs, "Todo.title: required property is missing or empty")
}

func TestValidateNoSchemaMeansNoRules(t *testing.T) {
	// An empty descriptor still enforces the closed world; absence of a
	// descriptor altogether is handled by callers (validation is skipped).
	d, err := NewNodeDescriptor("Anything", nil, nil)
	require.NoError(t, err)

	err = d.Validate(map[string]any{"x": "y"})
	require.Error(t, err)
	assert.ElementsMatch(t, []string{RuleUndeclared}, rules(err))

	assert.NoError(t, d.Validate(nil))
}

func TestViolationRendering(t *testing.T) {
	v := Violation{Label: "Employee", Properties: []string{"companyId", "employeeNumber"},
		Rule: RuleNodeKey, Detail: "key already in use"}
	assert.Equal(t, "Employee.(companyId,employeeNumber): key already in use", v.Error())

	single := Violation{Label: "Todo", Properties: []string{"title"}, Rule: RuleRequired, Detail: "missing"}
	assert.Equal(t, "Todo.title: missing", single.Error())
}
