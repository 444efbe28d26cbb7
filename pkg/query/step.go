// Package query defines the intermediate representation for graph queries:
// a pipeline of steps rooted at a source, plus the expression trees that
// filter and project its elements.
//
// Plans are built with the fluent Builder and are immutable once
// constructed; compilers walk them without mutation, so a plan can be
// compiled from any number of goroutines.
//
// Example:
//
//	plan, err := query.Nodes("Person").
//		Where(query.Eq(query.Property("name"), query.Value("Alice"))).
//		Traverse("KNOWS", "Person", query.WithDepthRange(1, 2)).
//		OrderBy(query.Property("name")).
//		Take(10).
//		Plan()
package query

import "github.com/orneryd/grom/pkg/graph"

// Step is one stage of a query pipeline.
//
// This is a sealed interface - only types in this package implement it.
//
// Step types:
//   - Source: all nodes with a label, or all relationships of a type
//   - Segments: (start, relationship, end) triples of a pattern
//   - Join: two pipelines combined on a property equality
//   - Filter: predicate over the current elements
//   - Traverse: relationship expansion from the current node set
//   - Project: shape the output records
//   - GroupBy: grouped aggregation
//   - Distinct: duplicate elimination
//   - OrderBy, Skip, Take: ordering and pagination
type Step interface {
	stepNode() // Marker method - seals interface to this package
}

// Source begins a pipeline at every node carrying a label, or at every
// relationship of a type when Rel is set. An empty Label matches all.
type Source struct {
	Rel   bool
	Label string
}

func (Source) stepNode() {}

// Segments begins a pipeline at every (start, relationship, end) triple
// matching the pattern. Projections address the parts with RefStart,
// RefRel, and RefEnd.
type Segments struct {
	StartLabel string
	RelType    string
	EndLabel   string
	Direction  graph.Direction
}

func (Segments) stepNode() {}

// Join combines two pipelines on a property equality. Sides are restricted
// to source-and-filter pipelines; the output record carries the left and
// right elements under RefLeft and RefRight.
type Join struct {
	Left, Right *Plan
	On          Expr
}

func (Join) stepNode() {}

// Filter keeps the elements satisfying a predicate. Consecutive filters
// conjoin: Filter(a) then Filter(b) is exactly Filter(And(a, b)).
type Filter struct {
	Pred Expr
}

func (Filter) stepNode() {}

// Yield selects what a traversal produces.
type Yield int

const (
	// YieldEndNodes produces the nodes reached. The default.
	YieldEndNodes Yield = iota
	// YieldRelationships produces the relationships walked.
	YieldRelationships
	// YieldSegments produces (start, relationship, end) triples.
	YieldSegments
)

// Traverse expands relationships from the current node set.
//
// Depth bounds are inclusive hop counts; MinDepth 0 includes the start node
// itself. The default is exactly one hop. Traversal never deduplicates:
// distinct paths to the same element yield it repeatedly unless an explicit
// Distinct step follows.
type Traverse struct {
	RelType   string
	Target    string // target node label, "" matches any
	Direction graph.Direction
	MinDepth  int
	MaxDepth  int
	Yield     Yield
}

func (Traverse) stepNode() {}

// Project shapes the output records.
type Project struct {
	Fields []Field
}

func (Project) stepNode() {}

// AggFn enumerates aggregate functions.
type AggFn int

const (
	AggCount AggFn = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

// String returns the function name in the target dialect.
func (f AggFn) String() string {
	switch f {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggAvg:
		return "avg"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	default:
		return "?"
	}
}

// Aggregate names one aggregated value. Arg is nil for AggCount, which
// counts records.
type Aggregate struct {
	Name string
	Fn   AggFn
	Arg  Expr
}

// GroupBy groups the current elements by key expressions and aggregates
// within each group.
type GroupBy struct {
	Keys []Field
	Aggs []Aggregate
}

func (GroupBy) stepNode() {}

// Distinct eliminates duplicate records.
type Distinct struct{}

func (Distinct) stepNode() {}

// SortKey is one ordering key.
type SortKey struct {
	Expr Expr
	Desc bool
}

// OrderBy sorts the records by one or more keys.
type OrderBy struct {
	Keys []SortKey
}

func (OrderBy) stepNode() {}

// Skip drops the first N records.
type Skip struct {
	N int64
}

func (Skip) stepNode() {}

// Take keeps at most N records.
type Take struct {
	N int64
}

func (Take) stepNode() {}

// Plan is a fully built pipeline: Steps[0] is the root (Source, Segments,
// or Join) and the rest apply in order. Plans are immutable; build them
// with the Builder.
type Plan struct {
	Steps []Step
}
