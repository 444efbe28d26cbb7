package grom

import (
	"fmt"
	"reflect"
	"time"

	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/schema"
)

// Entity (de)serialization: typed and dynamic entities convert to and from
// the flattened property-bag encoding the storage layer speaks. Typed
// entities ride their descriptor's field paths; dynamic entities flatten
// and unflatten their property maps.

// encoded is an entity reduced to its wire parts.
type encoded struct {
	labels  []string // node label set, most derived first
	relType string
	props   map[string]any // flattened, canonical values
}

func encodeNodeEntity(e graph.NodeEntity) (encoded, error) {
	const op = "grom.encode"
	switch t := e.(type) {
	case nil:
		return encoded{}, &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil entity"}
	case *graph.DynamicNode:
		if len(t.Labels) == 0 {
			return encoded{}, &graph.Error{Code: graph.EInvalid, Op: op, Msg: "dynamic node needs at least one label"}
		}
		props, err := graph.FlattenProps(t.Props)
		if err != nil {
			return encoded{}, err
		}
		return encoded{labels: append([]string(nil), t.Labels...), props: props}, nil
	default:
		d, props, err := encodeStruct(e)
		if err != nil {
			return encoded{}, err
		}
		if d.Rel {
			return encoded{}, &graph.Error{Code: graph.EInvalid, Op: op,
				Msg: fmt.Sprintf("%T declares a relationship, not a node", e)}
		}
		return encoded{labels: d.AllLabels(), props: props}, nil
	}
}

func encodeRelEntity(e graph.RelationshipEntity) (encoded, error) {
	const op = "grom.encode"
	switch t := e.(type) {
	case nil:
		return encoded{}, &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil entity"}
	case *graph.DynamicRelationship:
		if t.Type == "" {
			return encoded{}, &graph.Error{Code: graph.EInvalid, Op: op, Msg: "dynamic relationship needs a type"}
		}
		props, err := graph.FlattenProps(t.Props)
		if err != nil {
			return encoded{}, err
		}
		return encoded{relType: t.Type, props: props}, nil
	default:
		d, props, err := encodeStruct(e)
		if err != nil {
			return encoded{}, err
		}
		if !d.Rel {
			return encoded{}, &graph.Error{Code: graph.EInvalid, Op: op,
				Msg: fmt.Sprintf("%T declares a node, not a relationship", e)}
		}
		return encoded{relType: d.Label, props: props}, nil
	}
}

// encodeStruct reads a typed entity's declared properties into a flat bag.
// Nil pointer fields are absent; everything else stores its canonical value,
// zero or not, so updates replace rather than merge.
func encodeStruct(e graph.Entity) (*schema.Descriptor, map[string]any, error) {
	rv := reflect.ValueOf(e)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, nil, &graph.Error{Code: graph.EInvalid, Op: "grom.encode",
			Msg: fmt.Sprintf("entities must be non-nil pointers, got %T", e)}
	}
	d, err := schema.TypeDescriptor(rv.Type())
	if err != nil {
		return nil, nil, err
	}

	sv := rv.Elem()
	props := make(map[string]any, len(d.Properties()))
	for _, p := range d.Properties() {
		fv := sv.FieldByIndex(p.FieldPath)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		nv, err := graph.NormalizeValue(fv.Interface())
		if err != nil {
			return nil, nil, &graph.Error{Op: "grom.encode", Msg: fmt.Sprintf("property %q", p.Name), Err: err}
		}
		props[p.Name] = nv
	}
	return d, props, nil
}

func decodeNodeValue(nv *graph.NodeValue, out graph.NodeEntity) error {
	const op = "grom.decode"
	if nv == nil {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil node value"}
	}
	if dyn, ok := out.(*graph.DynamicNode); ok {
		dyn.Labels = append([]string(nil), nv.Labels...)
		dyn.Props = graph.UnflattenProps(nv.Props)
		dyn.BindID(nv.ID)
		return nil
	}
	if err := decodeStruct(out, nv.Props); err != nil {
		return err
	}
	out.BindID(nv.ID)
	return nil
}

func decodeRelValue(rv *graph.RelValue, out graph.RelationshipEntity) error {
	const op = "grom.decode"
	if rv == nil {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil relationship value"}
	}
	if dyn, ok := out.(*graph.DynamicRelationship); ok {
		dyn.Type = rv.Type
		dyn.Props = graph.UnflattenProps(rv.Props)
		dyn.BindID(rv.ID)
		dyn.BindEndpoints(rv.StartID, rv.EndID)
		return nil
	}
	if err := decodeStruct(out, rv.Props); err != nil {
		return err
	}
	out.BindID(rv.ID)
	out.BindEndpoints(rv.StartID, rv.EndID)
	return nil
}

func decodeStruct(e graph.Entity, props map[string]any) error {
	rv := reflect.ValueOf(e)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &graph.Error{Code: graph.EInvalid, Op: "grom.decode",
			Msg: fmt.Sprintf("decode target must be a non-nil pointer, got %T", e)}
	}
	d, err := schema.TypeDescriptor(rv.Type())
	if err != nil {
		return err
	}

	sv := rv.Elem()
	for _, p := range d.Properties() {
		v, ok := props[p.Name]
		if !ok || v == nil {
			continue
		}
		fv := sv.FieldByIndex(p.FieldPath)
		if fv.Kind() == reflect.Pointer {
			fv.Set(reflect.New(fv.Type().Elem()))
			fv = fv.Elem()
		}
		if err := setField(fv, v); err != nil {
			return &graph.Error{Code: graph.EInvalid, Op: "grom.decode",
				Msg: fmt.Sprintf("property %q: %v", p.Name, err)}
		}
	}
	return nil
}

// setField assigns a canonical value to a struct field, coercing across the
// numeric kinds the property encoding collapses.
func setField(fv reflect.Value, v any) error {
	switch fv.Kind() {
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		fv.SetString(s)
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := asInt(v)
		if !ok {
			return fmt.Errorf("expected integer, got %T", v)
		}
		fv.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		i, ok := asInt(v)
		if !ok || i < 0 {
			return fmt.Errorf("expected non-negative integer, got %v", v)
		}
		fv.SetUint(uint64(i))
	case reflect.Float32, reflect.Float64:
		switch n := v.(type) {
		case float64:
			fv.SetFloat(n)
		case int64:
			fv.SetFloat(float64(n))
		default:
			return fmt.Errorf("expected number, got %T", v)
		}
	case reflect.Slice:
		ss, ok := v.([]string)
		if !ok {
			return fmt.Errorf("expected string list, got %T", v)
		}
		fv.Set(reflect.ValueOf(append([]string(nil), ss...)))
	case reflect.Struct:
		t, ok := v.(time.Time)
		if !ok || fv.Type() != reflect.TypeOf(time.Time{}) {
			return fmt.Errorf("expected datetime, got %T", v)
		}
		fv.Set(reflect.ValueOf(t))
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
