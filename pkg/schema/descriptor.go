// Package schema declares entity descriptors and validates property bags
// against them.
//
// A Descriptor is the validated, immutable form of one entity declaration:
// a node label (plus any parent labels) or a relationship type, with its
// property set and per-property rules. Descriptors come from three sources
// that all converge on the same type:
//
//   - Struct[T]: reflection over grom struct tags
//   - NewNodeDescriptor / NewRelationshipDescriptor: struct literals
//   - LoadYAML / ParseYAML: schema files
//
// The Registry collects descriptors, builds them once under a mutex, and
// serves lookups afterwards. Validation is closed-world: when a descriptor
// exists for a label, every supplied property must be declared on it.
package schema

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/orneryd/grom/pkg/graph"
)

// Rules holds the declarative validation bounds for one property. Nil
// pointer fields mean "no bound". Enum applies to string properties only
// and requires an exact, case-sensitive match.
type Rules struct {
	MinLength *int
	MaxLength *int
	Pattern   string
	MinValue  *float64
	MaxValue  *float64
	Enum      []string
}

// Int returns a pointer to v, for rule literals.
func Int(v int) *int { return &v }

// Float returns a pointer to v, for rule literals.
func Float(v float64) *float64 { return &v }

// Property describes one declared property. Names are case-sensitive and
// may contain dots only when they address a flattened nested field.
type Property struct {
	Name     string
	Kind     graph.Kind // KindInvalid means any kind is accepted
	Key      bool       // part of the node key; implies Unique, Required, Indexed
	Required bool
	Unique   bool
	Indexed  bool
	FullText bool
	Rules    Rules

	// FieldPath is the reflect index path into the Go struct for
	// struct-derived descriptors; nil otherwise.
	FieldPath []int

	pattern *regexp.Regexp
}

// Descriptor is the built schema for one entity kind. Immutable after
// construction.
type Descriptor struct {
	Label   string   // primary node label or relationship type
	Parents []string // parent labels, most-derived first (nodes only)
	Rel     bool

	// GoType is the declaring struct type for struct-derived descriptors;
	// nil for dynamic and YAML descriptors.
	GoType reflect.Type

	props  []Property
	byName map[string]*Property
	keys   []string
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// NewNodeDescriptor builds a node descriptor from literals. Parent labels
// list the labels the entity also carries, most-derived first.
func NewNodeDescriptor(label string, parents []string, props []Property) (*Descriptor, error) {
	return build(label, parents, props, false, nil)
}

// NewRelationshipDescriptor builds a relationship descriptor from literals.
func NewRelationshipDescriptor(relType string, props []Property) (*Descriptor, error) {
	return build(relType, nil, props, true, nil)
}

func build(label string, parents []string, props []Property, rel bool, goType reflect.Type) (*Descriptor, error) {
	if !namePattern.MatchString(label) {
		return nil, &graph.Error{Code: graph.EInvalid, Msg: fmt.Sprintf("invalid label or relationship type %q", label)}
	}
	for _, p := range parents {
		if !namePattern.MatchString(p) {
			return nil, &graph.Error{Code: graph.EInvalid, Msg: fmt.Sprintf("invalid parent label %q on %s", p, label)}
		}
	}

	d := &Descriptor{
		Label:   label,
		Parents: append([]string(nil), parents...),
		Rel:     rel,
		GoType:  goType,
		props:   make([]Property, 0, len(props)),
		byName:  make(map[string]*Property, len(props)),
	}

	for _, p := range props {
		if !namePattern.MatchString(p.Name) {
			return nil, invalidProp(label, p.Name, "invalid property name")
		}
		if _, dup := d.byName[p.Name]; dup {
			return nil, invalidProp(label, p.Name, "duplicate property name")
		}
		// A key property is always unique, required, and indexed.
		if p.Key {
			if rel {
				return nil, invalidProp(label, p.Name, "key properties apply to node labels only")
			}
			p.Unique = true
			p.Required = true
			p.Indexed = true
		}
		if p.Unique {
			p.Indexed = true
		}
		if err := checkRules(label, &p); err != nil {
			return nil, err
		}
		d.props = append(d.props, p)
		d.byName[p.Name] = &d.props[len(d.props)-1]
		if p.Key {
			d.keys = append(d.keys, p.Name)
		}
	}
	return d, nil
}

func invalidProp(label, name, msg string) error {
	return &graph.Error{Code: graph.EInvalid, Msg: fmt.Sprintf("%s.%s: %s", label, name, msg)}
}

func checkRules(label string, p *Property) error {
	r := &p.Rules
	if r.MinLength != nil && *r.MinLength < 0 {
		return invalidProp(label, p.Name, "min length must not be negative")
	}
	if r.MinLength != nil && r.MaxLength != nil && *r.MaxLength < *r.MinLength {
		return invalidProp(label, p.Name, "max length below min length")
	}
	if r.MinValue != nil && r.MaxValue != nil && *r.MaxValue < *r.MinValue {
		return invalidProp(label, p.Name, "max value below min value")
	}
	if (r.MinLength != nil || r.MaxLength != nil || r.Pattern != "") &&
		p.Kind != graph.KindInvalid && p.Kind != graph.KindString {
		return invalidProp(label, p.Name, "length and pattern rules require a string property")
	}
	if (r.MinValue != nil || r.MaxValue != nil) &&
		p.Kind != graph.KindInvalid && p.Kind != graph.KindInt && p.Kind != graph.KindFloat {
		return invalidProp(label, p.Name, "range rules require a numeric property")
	}
	if len(r.Enum) > 0 {
		if p.Kind != graph.KindInvalid && p.Kind != graph.KindString {
			return invalidProp(label, p.Name, "enum rules require a string property")
		}
		seen := make(map[string]bool, len(r.Enum))
		for _, v := range r.Enum {
			if v == "" {
				return invalidProp(label, p.Name, "enum values must not be empty")
			}
			if seen[v] {
				return invalidProp(label, p.Name, "duplicate enum value "+v)
			}
			seen[v] = true
		}
	}
	if r.Pattern != "" {
		// Patterns match the whole value, Neo4j =~ style.
		re, err := regexp.Compile(`\A(?:` + r.Pattern + `)\z`)
		if err != nil {
			return invalidProp(label, p.Name, "invalid pattern: "+err.Error())
		}
		p.pattern = re
	}
	return nil
}

// AllLabels returns the full label set the entity carries, most-derived
// first. For relationships it is just the type.
func (d *Descriptor) AllLabels() []string {
	out := make([]string, 0, 1+len(d.Parents))
	out = append(out, d.Label)
	out = append(out, d.Parents...)
	return out
}

// Properties returns the declared properties in declaration order.
func (d *Descriptor) Properties() []Property {
	return d.props
}

// Property looks up a declared property by exact, case-sensitive name.
func (d *Descriptor) Property(name string) (*Property, bool) {
	p, ok := d.byName[name]
	return p, ok
}

// KeyProperties returns the names of the node-key properties in declaration
// order. Empty when the entity declares no key.
func (d *Descriptor) KeyProperties() []string {
	return d.keys
}

// UniqueProperties returns the names of single-property unique constraints,
// excluding key properties (the key is enforced as one composite
// constraint).
func (d *Descriptor) UniqueProperties() []string {
	var out []string
	for i := range d.props {
		if d.props[i].Unique && !d.props[i].Key {
			out = append(out, d.props[i].Name)
		}
	}
	return out
}
