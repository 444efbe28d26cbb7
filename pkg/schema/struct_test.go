package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/grom/pkg/graph"
)

type testPerson struct {
	graph.Node `grom:"Person"`
	Name       string   `grom:"name,required,minlen=1,maxlen=120"`
	Email      string   `grom:"email,unique"`
	Age        int      `grom:"age,min=0,max=150"`
	Tags       []string `grom:"tags"`
	Bio        *string
	Joined     time.Time `grom:"joined"`
	hidden     string
	Secret     string `grom:"-"`
}

type testEmployee struct {
	testPerson     `grom:"Employee"`
	CompanyID      string `grom:"companyId,key"`
	EmployeeNumber string `grom:"employeeNumber,key"`
	Level          string `grom:"level,enum=junior|senior|principal"`
}

type testAddress struct {
	City string `grom:"city"`
	Zip  string `grom:"zip"`
}

type testContact struct {
	graph.Node `grom:"Contact"`
	Address    testAddress `grom:"address"`
}

type testKnows struct {
	graph.Relationship `grom:"KNOWS"`
	Since              int `grom:"since,min=1900"`
}

func TestStructPerson(t *testing.T) {
	d, err := Struct[testPerson]()
	require.NoError(t, err)

	assert.Equal(t, "Person", d.Label)
	assert.False(t, d.Rel)
	assert.Empty(t, d.Parents)

	name, ok := d.Property("name")
	require.True(t, ok)
	assert.True(t, name.Required)
	assert.Equal(t, graph.KindString, name.Kind)
	assert.Equal(t, 1, *name.Rules.MinLength)
	assert.Equal(t, 120, *name.Rules.MaxLength)

	email, _ := d.Property("email")
	assert.True(t, email.Unique)
	assert.True(t, email.Indexed, "unique implies indexed")

	age, _ := d.Property("age")
	assert.Equal(t, graph.KindInt, age.Kind)
	assert.Equal(t, 0.0, *age.Rules.MinValue)

	tags, _ := d.Property("tags")
	assert.Equal(t, graph.KindStringList, tags.Kind)

	// Untagged exported pointer field maps to its lower-camel name.
	bio, ok := d.Property("bio")
	require.True(t, ok)
	assert.Equal(t, graph.KindString, bio.Kind)
	assert.False(t, bio.Required)

	joined, _ := d.Property("joined")
	assert.Equal(t, graph.KindTime, joined.Kind)

	// Unexported and grom:"-" fields stay out of the schema.
	_, ok = d.Property("hidden")
	assert.False(t, ok)
	_, ok = d.Property("secret")
	assert.False(t, ok)
}

func TestStructEmployeeHierarchy(t *testing.T) {
	d, err := Struct[testEmployee]()
	require.NoError(t, err)

	assert.Equal(t, "Employee", d.Label)
	assert.Equal(t, []string{"Employee", "Person"}, d.AllLabels())

	// Inherited property keeps its rules and gains the embed hop in its
	// field path.
	name, ok := d.Property("name")
	require.True(t, ok)
	assert.True(t, name.Required)
	assert.Equal(t, []int{0, 1}, name.FieldPath)

	assert.Equal(t, []string{"companyId", "employeeNumber"}, d.KeyProperties())

	level, _ := d.Property("level")
	assert.Equal(t, []string{"junior", "senior", "principal"}, level.Rules.Enum)
}

func TestStructNestedFlattening(t *testing.T) {
	d, err := Struct[testContact]()
	require.NoError(t, err)

	city, ok := d.Property("address.city")
	require.True(t, ok)
	assert.Equal(t, graph.KindString, city.Kind)
	assert.Equal(t, []int{1, 0}, city.FieldPath)

	_, ok = d.Property("address.zip")
	assert.True(t, ok)
	_, ok = d.Property("address")
	assert.False(t, ok, "nested structs are not properties themselves")
}

func TestStructRelationship(t *testing.T) {
	d, err := Struct[testKnows]()
	require.NoError(t, err)
	assert.Equal(t, "KNOWS", d.Label)
	assert.True(t, d.Rel)

	since, ok := d.Property("since")
	require.True(t, ok)
	assert.Equal(t, 1900.0, *since.Rules.MinValue)
}

func TestStructRejectsMalformedEntities(t *testing.T) {
	type noMarker struct {
		Name string
	}
	type noLabel struct {
		graph.Node
		Name string
	}
	type badOption struct {
		graph.Node `grom:"Bad"`
		Name       string `grom:"name,shiny"`
	}
	type requiredPointer struct {
		graph.Node `grom:"Bad"`
		Name       *string `grom:"name,required"`
	}
	type badSlice struct {
		graph.Node `grom:"Bad"`
		Scores     []int `grom:"scores"`
	}

	for name, fn := range map[string]func() error{
		"no marker":        func() error { _, err := Struct[noMarker](); return err },
		"no label tag":     func() error { _, err := Struct[noLabel](); return err },
		"unknown option":   func() error { _, err := Struct[badOption](); return err },
		"required pointer": func() error { _, err := Struct[requiredPointer](); return err },
		"non-string slice": func() error { _, err := Struct[badSlice](); return err },
	} {
		t.Run(name, func(t *testing.T) {
			err := fn()
			require.Error(t, err)
			assert.Equal(t, graph.EInvalid, graph.ErrorCode(err))
		})
	}
}

func TestLowerCamel(t *testing.T) {
	tests := map[string]string{
		"Name":    "name",
		"URL":     "url",
		"IDToken": "idToken",
		"HTMLRef": "htmlRef",
		"age":     "age",
	}
	for in, want := range tests {
		assert.Equal(t, want, lowerCamel(in), in)
	}
}
