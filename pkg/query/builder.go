package query

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/orneryd/grom/pkg/graph"
)

// Builder assembles a pipeline step by step. Construction problems are
// deferred: every method returns the builder for chaining and Plan reports
// everything collected, so call sites stay fluent.
type Builder struct {
	steps []Step
	errs  []error
}

// Nodes starts a pipeline over every node carrying the label. An empty
// label matches all nodes.
func Nodes(label string) *Builder {
	return &Builder{steps: []Step{Source{Label: label}}}
}

// Relationships starts a pipeline over every relationship of the type. An
// empty type matches all relationships.
func Relationships(relType string) *Builder {
	return &Builder{steps: []Step{Source{Rel: true, Label: relType}}}
}

// PathSegments starts a pipeline over every (start, relationship, end)
// triple matching the pattern.
func PathSegments(startLabel, relType, endLabel string, dir graph.Direction) *Builder {
	return &Builder{steps: []Step{Segments{
		StartLabel: startLabel,
		RelType:    relType,
		EndLabel:   endLabel,
		Direction:  dir,
	}}}
}

// JoinOn combines two pipelines on a property equality. Each side must be a
// source optionally followed by filters; richer sides have no translation.
func JoinOn(left, right *Builder, on Expr) *Builder {
	b := &Builder{}
	lp, err := left.Plan()
	if err != nil {
		b.errs = append(b.errs, err)
	}
	rp, err := right.Plan()
	if err != nil {
		b.errs = append(b.errs, err)
	}
	if on == nil {
		b.errs = append(b.errs, b.invalid("join requires an on-predicate"))
	}
	b.steps = []Step{Join{Left: lp, Right: rp, On: on}}
	return b
}

func (b *Builder) invalid(format string, a ...any) error {
	return &graph.Error{Code: graph.EInvalid, Op: "query.Plan", Msg: fmt.Sprintf(format, a...)}
}

// Where keeps the elements satisfying pred. Consecutive calls conjoin.
func (b *Builder) Where(pred Expr) *Builder {
	if pred == nil {
		return b
	}
	b.steps = append(b.steps, Filter{Pred: pred})
	return b
}

// TraverseOption adjusts a traversal step.
type TraverseOption func(*Traverse) error

// WithDepth sets an exact hop count.
func WithDepth(d int) TraverseOption {
	return func(t *Traverse) error {
		if d < 0 {
			return fmt.Errorf("traversal depth must not be negative, got %d", d)
		}
		t.MinDepth, t.MaxDepth = d, d
		return nil
	}
}

// WithDepthRange sets an inclusive hop range. A minimum of 0 includes the
// start node itself.
func WithDepthRange(min, max int) TraverseOption {
	return func(t *Traverse) error {
		if min < 0 {
			return fmt.Errorf("traversal depth must not be negative, got %d", min)
		}
		if max < min {
			return fmt.Errorf("traversal depth range %d..%d is inverted", min, max)
		}
		t.MinDepth, t.MaxDepth = min, max
		return nil
	}
}

// WithDirection sets the walk direction. The default is Outgoing.
func WithDirection(d graph.Direction) TraverseOption {
	return func(t *Traverse) error {
		t.Direction = d
		return nil
	}
}

// Reversed swaps the start and end roles of the traversal. Options apply in
// order, so Reversed after WithDirection flips that direction, while
// WithDirection after Reversed overrides it.
func Reversed() TraverseOption {
	return func(t *Traverse) error {
		t.Direction = t.Direction.Reverse()
		return nil
	}
}

// WithYield selects what the traversal produces.
func WithYield(y Yield) TraverseOption {
	return func(t *Traverse) error {
		t.Yield = y
		return nil
	}
}

// Traverse expands relationships of relType from the current node set to
// nodes labeled target ("" matches any). Defaults: outgoing, exactly one
// hop, yielding end nodes.
func (b *Builder) Traverse(relType, target string, opts ...TraverseOption) *Builder {
	t := Traverse{
		RelType:   relType,
		Target:    target,
		Direction: graph.Outgoing,
		MinDepth:  1,
		MaxDepth:  1,
	}
	for _, opt := range opts {
		if err := opt(&t); err != nil {
			b.errs = append(b.errs, b.invalid("%v", err))
		}
	}
	b.steps = append(b.steps, t)
	return b
}

// Select shapes the output records.
func (b *Builder) Select(fields ...Field) *Builder {
	if len(fields) == 0 {
		b.errs = append(b.errs, b.invalid("select requires at least one field"))
		return b
	}
	b.steps = append(b.steps, Project{Fields: fields})
	return b
}

// GroupBy groups by key expressions and aggregates within each group.
func (b *Builder) GroupBy(keys []Field, aggs ...Aggregate) *Builder {
	if len(aggs) == 0 {
		b.errs = append(b.errs, b.invalid("group by requires at least one aggregate"))
		return b
	}
	b.steps = append(b.steps, GroupBy{Keys: keys, Aggs: aggs})
	return b
}

// Distinct eliminates duplicate records.
func (b *Builder) Distinct() *Builder {
	b.steps = append(b.steps, Distinct{})
	return b
}

// OrderBy sorts ascending by key. Add keys with ThenBy.
func (b *Builder) OrderBy(key Expr) *Builder { return b.orderBy(key, false, false) }

// OrderByDesc sorts descending by key.
func (b *Builder) OrderByDesc(key Expr) *Builder { return b.orderBy(key, true, false) }

// ThenBy adds a subsequent ascending ordering key.
func (b *Builder) ThenBy(key Expr) *Builder { return b.orderBy(key, false, true) }

// ThenByDesc adds a subsequent descending ordering key.
func (b *Builder) ThenByDesc(key Expr) *Builder { return b.orderBy(key, true, true) }

func (b *Builder) orderBy(key Expr, desc, then bool) *Builder {
	if key == nil {
		b.errs = append(b.errs, b.invalid("ordering key must not be nil"))
		return b
	}
	last := len(b.steps) - 1
	if then {
		if last < 0 {
			b.errs = append(b.errs, b.invalid("ThenBy requires a preceding OrderBy"))
			return b
		}
		ob, ok := b.steps[last].(OrderBy)
		if !ok {
			b.errs = append(b.errs, b.invalid("ThenBy requires a preceding OrderBy"))
			return b
		}
		ob.Keys = append(ob.Keys, SortKey{Expr: key, Desc: desc})
		b.steps[last] = ob
		return b
	}
	b.steps = append(b.steps, OrderBy{Keys: []SortKey{{Expr: key, Desc: desc}}})
	return b
}

// Skip drops the first n records.
func (b *Builder) Skip(n int64) *Builder {
	if n < 0 {
		b.errs = append(b.errs, b.invalid("skip count must not be negative, got %d", n))
		return b
	}
	b.steps = append(b.steps, Skip{N: n})
	return b
}

// Take keeps at most n records.
func (b *Builder) Take(n int64) *Builder {
	if n < 0 {
		b.errs = append(b.errs, b.invalid("take count must not be negative, got %d", n))
		return b
	}
	b.steps = append(b.steps, Take{N: n})
	return b
}

// Plan validates the assembled pipeline and freezes it. The builder may
// keep being used afterwards; the returned plan never changes.
func (b *Builder) Plan() (*Plan, error) {
	errs := append([]error(nil), b.errs...)

	if len(b.steps) == 0 {
		errs = append(errs, b.invalid("empty pipeline"))
	}

	var nodeRoot bool
	if len(b.steps) > 0 {
		if src, ok := b.steps[0].(Source); ok {
			nodeRoot = !src.Rel
		}
	}

	var (
		shaped   bool // Project or GroupBy seen
		ordered  bool
		skipped  bool
		taken    bool
		distinct bool
	)
	for i, s := range b.steps {
		switch s.(type) {
		case Source, Segments, Join:
			if i != 0 {
				errs = append(errs, b.invalid("pipeline source must come first"))
			}
		case Filter, Traverse:
			if _, isTraverse := s.(Traverse); isTraverse && !nodeRoot {
				errs = append(errs, b.invalid("traversal requires a node source"))
			}
			if shaped {
				errs = append(errs, b.invalid("filters and traversals must precede projection or grouping"))
			}
			if ordered || skipped || taken {
				errs = append(errs, b.invalid("filters and traversals must precede ordering and pagination"))
			}
		case Project, GroupBy:
			if shaped {
				errs = append(errs, b.invalid("at most one projection or grouping per pipeline"))
			}
			if ordered || skipped || taken {
				errs = append(errs, b.invalid("projection must precede ordering and pagination"))
			}
			shaped = true
		case Distinct:
			if distinct {
				errs = append(errs, b.invalid("at most one distinct per pipeline"))
			}
			if ordered || skipped || taken {
				errs = append(errs, b.invalid("distinct must precede ordering and pagination"))
			}
			distinct = true
		case OrderBy:
			if ordered {
				errs = append(errs, b.invalid("at most one ordering per pipeline; use ThenBy for more keys"))
			}
			if skipped || taken {
				errs = append(errs, b.invalid("ordering must precede pagination"))
			}
			ordered = true
		case Skip:
			if skipped {
				errs = append(errs, b.invalid("at most one skip per pipeline"))
			}
			if taken {
				errs = append(errs, b.invalid("skip must precede take"))
			}
			skipped = true
		case Take:
			if taken {
				errs = append(errs, b.invalid("at most one take per pipeline"))
			}
			taken = true
		}
	}

	if combined := multierr.Combine(errs...); combined != nil {
		if len(errs) == 1 {
			return nil, errs[0]
		}
		return nil, &graph.Error{Code: graph.EInvalid, Op: "query.Plan",
			Msg: "pipeline is not well-formed", Err: combined}
	}

	steps := make([]Step, len(b.steps))
	copy(steps, b.steps)
	return &Plan{Steps: steps}, nil
}
