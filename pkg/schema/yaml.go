package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/grom/pkg/graph"
)

// YAML schema files declare the same descriptors as struct tags or
// literals, for deployments that register schemas without recompiling.
//
// See ExampleSchemaYAML for the full grammar.

type yamlFile struct {
	Nodes         []yamlEntity `yaml:"nodes"`
	Relationships []yamlEntity `yaml:"relationships"`
}

type yamlEntity struct {
	Label      string         `yaml:"label"`
	Type       string         `yaml:"type"`
	Parents    []string       `yaml:"parents"`
	Properties []yamlProperty `yaml:"properties"`
}

type yamlProperty struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	Key       bool     `yaml:"key"`
	Required  bool     `yaml:"required"`
	Unique    bool     `yaml:"unique"`
	Indexed   bool     `yaml:"indexed"`
	Fulltext  bool     `yaml:"fulltext"`
	MinLength *int     `yaml:"min_length"`
	MaxLength *int     `yaml:"max_length"`
	Pattern   string   `yaml:"pattern"`
	Min       *float64 `yaml:"min"`
	Max       *float64 `yaml:"max"`
	Enum      []string `yaml:"enum"`
}

type sliceSource []*Descriptor

func (s sliceSource) Descriptors() ([]*Descriptor, error) { return s, nil }

// LoadYAML reads a schema file and returns it as a registration source.
func LoadYAML(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &graph.Error{Op: "schema.LoadYAML", Err: err}
	}
	src, err := ParseYAML(data)
	if err != nil {
		return nil, &graph.Error{Op: "schema.LoadYAML", Msg: path, Err: err}
	}
	return src, nil
}

// ParseYAML parses schema YAML into a registration source. Descriptors are
// built eagerly so malformed files fail here, not at Initialize.
func ParseYAML(data []byte) (Source, error) {
	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &graph.Error{Code: graph.EInvalid, Msg: "malformed schema yaml", Err: err}
	}

	out := make(sliceSource, 0, len(file.Nodes)+len(file.Relationships))
	for _, e := range file.Nodes {
		props, err := yamlProps(e.Label, e.Properties)
		if err != nil {
			return nil, err
		}
		d, err := NewNodeDescriptor(e.Label, e.Parents, props)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	for _, e := range file.Relationships {
		name := e.Type
		if name == "" {
			name = e.Label
		}
		props, err := yamlProps(name, e.Properties)
		if err != nil {
			return nil, err
		}
		d, err := NewRelationshipDescriptor(name, props)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func yamlProps(owner string, in []yamlProperty) ([]Property, error) {
	props := make([]Property, 0, len(in))
	for _, yp := range in {
		kind, err := kindFromName(yp.Kind)
		if err != nil {
			return nil, invalidProp(owner, yp.Name, err.Error())
		}
		props = append(props, Property{
			Name:     yp.Name,
			Kind:     kind,
			Key:      yp.Key,
			Required: yp.Required,
			Unique:   yp.Unique,
			Indexed:  yp.Indexed,
			FullText: yp.Fulltext,
			Rules: Rules{
				MinLength: yp.MinLength,
				MaxLength: yp.MaxLength,
				Pattern:   yp.Pattern,
				MinValue:  yp.Min,
				MaxValue:  yp.Max,
				Enum:      yp.Enum,
			},
		})
	}
	return props, nil
}

func kindFromName(name string) (graph.Kind, error) {
	switch name {
	case "":
		return graph.KindInvalid, nil // any kind
	case "string":
		return graph.KindString, nil
	case "integer", "int":
		return graph.KindInt, nil
	case "float":
		return graph.KindFloat, nil
	case "boolean", "bool":
		return graph.KindBool, nil
	case "datetime":
		return graph.KindTime, nil
	case "strings", "string_list":
		return graph.KindStringList, nil
	default:
		return graph.KindInvalid, fmt.Errorf("unknown property kind %q", name)
	}
}

// ExampleSchemaYAML documents the schema file grammar.
const ExampleSchemaYAML = `# grom schema declarations
nodes:
  - label: Person
    properties:
      - name: name
        kind: string
        required: true
        min_length: 1
        max_length: 120
      - name: email
        kind: string
        unique: true
        pattern: "[^@]+@[^@]+"
  - label: Employee
    parents: [Person]
    properties:
      - name: companyId
        kind: string
        key: true
      - name: employeeNumber
        kind: string
        key: true
      - name: level
        kind: string
        enum: [junior, senior, principal]

relationships:
  - type: WORKS_FOR
    properties:
      - name: since
        kind: integer
        min: 1900
`
