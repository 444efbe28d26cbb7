package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/orneryd/grom/pkg/graph"
)

var (
	nodeMarkerType = reflect.TypeOf(graph.Node{})
	relMarkerType  = reflect.TypeOf(graph.Relationship{})
	timeType       = reflect.TypeOf(time.Time{})
)

// Struct derives a descriptor from a typed entity declaration.
//
// The entity embeds graph.Node or graph.Relationship and names its label in
// the embed tag. Embedding another entity type instead inherits that type's
// properties and appends its labels as parents, so
//
//	type Person struct {
//		graph.Node `grom:"Person"`
//		Name string `grom:"name,required"`
//	}
//	type Employee struct {
//		Person         `grom:"Employee"`
//		EmployeeNumber string `grom:"employeeNumber,key"`
//	}
//
// yields an Employee descriptor carrying labels [Employee, Person] and both
// property sets. Field tags accept a storage name followed by options:
// required, unique, key, indexed, fulltext, enum=a|b|c, min=, max=,
// minlen=, maxlen=. Untagged exported fields map to their lower-camel name.
func Struct[T any]() (*Descriptor, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, &graph.Error{Code: graph.EInvalid, Msg: fmt.Sprintf("entity type must be a struct, got %s", t.Kind())}
	}
	return structDescriptor(t)
}

// MustStruct is Struct for package-level declarations; it panics on a
// malformed entity type.
func MustStruct[T any]() *Descriptor {
	d, err := Struct[T]()
	if err != nil {
		panic(err)
	}
	return d
}

var typeDescriptors sync.Map // reflect.Type -> *Descriptor

// TypeDescriptor is Struct for callers holding a reflect.Type instead of a
// type parameter. Results are cached per type; descriptors are immutable so
// sharing is safe.
func TypeDescriptor(t reflect.Type) (*Descriptor, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, &graph.Error{Code: graph.EInvalid, Msg: fmt.Sprintf("entity type must be a struct, got %s", t.Kind())}
	}
	if cached, ok := typeDescriptors.Load(t); ok {
		return cached.(*Descriptor), nil
	}
	d, err := structDescriptor(t)
	if err != nil {
		return nil, err
	}
	actual, _ := typeDescriptors.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

func structDescriptor(t reflect.Type) (*Descriptor, error) {
	var (
		label   string
		parents []string
		rel     bool
		found   bool
		props   []Property
	)

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)

		if f.Anonymous {
			tagName, _ := splitTag(f.Tag.Get("grom"))
			switch {
			case f.Type == nodeMarkerType, f.Type == relMarkerType:
				if found {
					return nil, markerErr(t, "multiple entity markers")
				}
				if tagName == "" {
					return nil, markerErr(t, "embedded marker needs a label tag, e.g. `grom:\"Person\"`")
				}
				found = true
				label = tagName
				rel = f.Type == relMarkerType
			default:
				if f.Type.Kind() != reflect.Struct {
					return nil, markerErr(t, "unsupported embedded field "+f.Name)
				}
				parent, err := structDescriptor(f.Type)
				if err != nil {
					return nil, err
				}
				if found {
					return nil, markerErr(t, "multiple entity markers")
				}
				if tagName == "" {
					return nil, markerErr(t, "embedded parent entity needs a label tag")
				}
				found = true
				label = tagName
				rel = parent.Rel
				if !rel {
					parents = parent.AllLabels()
				}
				for _, p := range parent.props {
					p.FieldPath = append([]int{i}, p.FieldPath...)
					props = append(props, p)
				}
			}
			continue
		}

		if f.PkgPath != "" {
			continue // unexported
		}

		fieldProps, err := fieldProperties(t, f, "", []int{i})
		if err != nil {
			return nil, err
		}
		props = append(props, fieldProps...)
	}

	if !found {
		return nil, markerErr(t, "no embedded graph.Node or graph.Relationship marker")
	}
	return build(label, parents, props, rel, t)
}

func markerErr(t reflect.Type, msg string) error {
	return &graph.Error{Code: graph.EInvalid, Msg: fmt.Sprintf("entity %s: %s", t.Name(), msg)}
}

// fieldProperties maps one struct field to its declared properties. Nested
// structs expand recursively into dotted names.
func fieldProperties(owner reflect.Type, f reflect.StructField, prefix string, path []int) ([]Property, error) {
	tag := f.Tag.Get("grom")
	name, opts := splitTag(tag)
	if name == "-" {
		return nil, nil
	}
	if name == "" {
		name = lowerCamel(f.Name)
	}
	if prefix != "" {
		name = prefix + "." + name
	}

	ft := f.Type
	optional := false
	for ft.Kind() == reflect.Pointer {
		ft = ft.Elem()
		optional = true
	}

	// Nested non-entity structs flatten into dotted property names.
	if ft.Kind() == reflect.Struct && ft != timeType {
		if hasEntityMarker(ft) {
			return nil, markerErr(owner, fmt.Sprintf("field %s: entities cannot nest other entities", f.Name))
		}
		if len(opts) > 0 {
			return nil, markerErr(owner, fmt.Sprintf("field %s: options apply to leaf properties, not nested structs", f.Name))
		}
		var out []Property
		for i := 0; i < ft.NumField(); i++ {
			nf := ft.Field(i)
			if nf.PkgPath != "" || nf.Anonymous {
				continue
			}
			nested, err := fieldProperties(owner, nf, name, append(append([]int{}, path...), i))
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
		return out, nil
	}

	kind, err := kindOfType(ft)
	if err != nil {
		return nil, markerErr(owner, fmt.Sprintf("field %s: %v", f.Name, err))
	}

	p := Property{
		Name:      name,
		Kind:      kind,
		FieldPath: append([]int{}, path...),
	}
	if err := applyOptions(&p, opts); err != nil {
		return nil, markerErr(owner, fmt.Sprintf("field %s: %v", f.Name, err))
	}
	if optional && p.Required {
		return nil, markerErr(owner, fmt.Sprintf("field %s: pointer fields are optional and cannot be required", f.Name))
	}
	return []Property{p}, nil
}

func hasEntityMarker(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		if f.Type == nodeMarkerType || f.Type == relMarkerType {
			return true
		}
		if f.Type.Kind() == reflect.Struct && hasEntityMarker(f.Type) {
			return true
		}
	}
	return false
}

func kindOfType(t reflect.Type) (graph.Kind, error) {
	switch t.Kind() {
	case reflect.String:
		return graph.KindString, nil
	case reflect.Bool:
		return graph.KindBool, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return graph.KindInt, nil
	case reflect.Float32, reflect.Float64:
		return graph.KindFloat, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			return graph.KindStringList, nil
		}
		return graph.KindInvalid, fmt.Errorf("slice properties must be []string, got %s", t)
	case reflect.Struct:
		if t == timeType {
			return graph.KindTime, nil
		}
	}
	return graph.KindInvalid, fmt.Errorf("unsupported property type %s", t)
}

func splitTag(tag string) (name string, opts []string) {
	if tag == "" {
		return "", nil
	}
	parts := strings.Split(tag, ",")
	return strings.TrimSpace(parts[0]), parts[1:]
}

func applyOptions(p *Property, opts []string) error {
	for _, opt := range opts {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		key, value, hasValue := strings.Cut(opt, "=")
		switch key {
		case "required":
			p.Required = true
		case "unique":
			p.Unique = true
		case "key":
			p.Key = true
		case "indexed":
			p.Indexed = true
		case "fulltext":
			p.FullText = true
		case "enum":
			if !hasValue || value == "" {
				return fmt.Errorf("enum option needs values, e.g. enum=a|b")
			}
			p.Rules.Enum = strings.Split(value, "|")
		case "minlen", "maxlen":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("option %s needs an integer, got %q", key, value)
			}
			if key == "minlen" {
				p.Rules.MinLength = Int(n)
			} else {
				p.Rules.MaxLength = Int(n)
			}
		case "min", "max":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("option %s needs a number, got %q", key, value)
			}
			if key == "min" {
				p.Rules.MinValue = Float(f)
			} else {
				p.Rules.MaxValue = Float(f)
			}
		default:
			return fmt.Errorf("unknown tag option %q", key)
		}
	}
	return nil
}

func lowerCamel(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	// Leading initialisms lowercase wholesale: "URL" -> "url", "IDToken" -> "idToken".
	i := 0
	for i < len(r) && unicode.IsUpper(r[i]) {
		i++
	}
	if i == 0 {
		return s
	}
	if i == len(r) {
		return strings.ToLower(s)
	}
	if i > 1 {
		i--
	}
	return strings.ToLower(string(r[:i])) + string(r[i:])
}
