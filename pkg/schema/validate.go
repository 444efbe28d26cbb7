package schema

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/multierr"

	"github.com/orneryd/grom/pkg/graph"
)

// Rule names carried on violations. Callers branch on these, not on
// message text.
const (
	RuleRequired   = "required"
	RuleKind       = "type"
	RuleMinLength  = "min_length"
	RuleMaxLength  = "max_length"
	RuleMinValue   = "min_value"
	RuleMaxValue   = "max_value"
	RulePattern    = "pattern"
	RuleEnum       = "enum"
	RuleUndeclared = "undeclared"
	RuleUnique     = "unique"
	RuleNodeKey    = "node_key"
)

// Violation describes one failed rule. Properties holds a single name for
// per-property rules and the whole key set for composite key violations.
type Violation struct {
	Label      string
	Properties []string
	Rule       string
	Detail     string
}

// Error renders "Label.property: detail" or, for composite violations,
// "Label.(a,b): detail".
func (v Violation) Error() string {
	var prop string
	switch len(v.Properties) {
	case 0:
		prop = "?"
	case 1:
		prop = v.Properties[0]
	default:
		prop = "(" + strings.Join(v.Properties, ",") + ")"
	}
	return fmt.Sprintf("%s.%s: %s", v.Label, prop, v.Detail)
}

func violation(label, prop, rule, detail string) Violation {
	return Violation{Label: label, Properties: []string{prop}, Rule: rule, Detail: detail}
}

// Validate checks a flattened property bag against the descriptor and
// returns nil or a single *graph.Error with code EInvalid wrapping every
// violation found. Values must be normalized (graph.FlattenProps output).
//
// Validation is all-or-nothing for the caller: any violation means the
// entity must not be persisted. Uniqueness and key collisions are storage
// concerns and are not checked here.
func (d *Descriptor) Validate(props map[string]any) error {
	var errs error

	// Closed world: everything supplied must be declared, with an exact
	// case-sensitive name match.
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := d.byName[name]; !ok {
			errs = multierr.Append(errs, violation(d.Label, name, RuleUndeclared,
				"property is not declared on the schema"))
		}
	}

	for i := range d.props {
		p := &d.props[i]
		v, present := props[p.Name]
		if !present || v == nil || v == "" {
			if p.Required {
				errs = multierr.Append(errs, violation(d.Label, p.Name, RuleRequired,
					"required property is missing or empty"))
			}
			continue
		}
		errs = multierr.Append(errs, p.check(d.Label, v))
	}

	if errs == nil {
		return nil
	}
	return &graph.Error{
		Code: graph.EInvalid,
		Msg:  fmt.Sprintf("validation failed for %s", d.Label),
		Err:  errs,
	}
}

// check applies kind and rule checks to a present, non-empty value.
func (p *Property) check(label string, v any) error {
	kind := graph.KindOf(v)
	if kind == graph.KindInvalid {
		return violation(label, p.Name, RuleKind, fmt.Sprintf("unsupported value type %T", v))
	}

	if p.Kind != graph.KindInvalid && kind != p.Kind {
		// JSON decoding turns integers into float64; accept whole floats
		// where an integer is declared, and integers where a float is.
		coerced := false
		if p.Kind == graph.KindInt && kind == graph.KindFloat {
			if f := v.(float64); f == float64(int64(f)) {
				v = int64(f)
				kind = graph.KindInt
				coerced = true
			}
		} else if p.Kind == graph.KindFloat && kind == graph.KindInt {
			v = float64(v.(int64))
			kind = graph.KindFloat
			coerced = true
		}
		if !coerced {
			return violation(label, p.Name, RuleKind,
				fmt.Sprintf("expected %s, got %s", p.Kind, kind))
		}
	}

	var errs error
	r := &p.Rules

	if s, ok := v.(string); ok {
		n := utf8.RuneCountInString(s)
		if r.MinLength != nil && n < *r.MinLength {
			errs = multierr.Append(errs, violation(label, p.Name, RuleMinLength,
				fmt.Sprintf("length %d below minimum %d", n, *r.MinLength)))
		}
		if r.MaxLength != nil && n > *r.MaxLength {
			errs = multierr.Append(errs, violation(label, p.Name, RuleMaxLength,
				fmt.Sprintf("length %d above maximum %d", n, *r.MaxLength)))
		}
		if p.pattern != nil && !p.pattern.MatchString(s) {
			errs = multierr.Append(errs, violation(label, p.Name, RulePattern,
				fmt.Sprintf("value does not match pattern %s", r.Pattern)))
		}
		if len(r.Enum) > 0 && !containsString(r.Enum, s) {
			errs = multierr.Append(errs, violation(label, p.Name, RuleEnum,
				fmt.Sprintf("value %q is not one of [%s]", s, strings.Join(r.Enum, ", "))))
		}
	}

	if f, ok := asFloat(v); ok {
		if r.MinValue != nil && f < *r.MinValue {
			errs = multierr.Append(errs, violation(label, p.Name, RuleMinValue,
				fmt.Sprintf("value %v below minimum %v", f, *r.MinValue)))
		}
		if r.MaxValue != nil && f > *r.MaxValue {
			errs = multierr.Append(errs, violation(label, p.Name, RuleMaxValue,
				fmt.Sprintf("value %v above maximum %v", f, *r.MaxValue)))
		}
	}

	return errs
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
