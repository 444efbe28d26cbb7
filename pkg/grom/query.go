package grom

import (
	"context"
	"fmt"
	"reflect"

	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/query"
	"github.com/orneryd/grom/pkg/schema"
)

// Queryable executes compiled plans. Both Graph and Tx satisfy it, so the
// typed query functions work inside and outside transactions.
type Queryable interface {
	Run(ctx context.Context, plan *query.Plan) (*graph.Rows, error)
}

// NodesOf starts a node pipeline whose label comes from T's struct
// descriptor, so queries stay in sync with the entity declaration. Like
// schema.MustStruct it panics when T is not a well-formed entity struct.
func NodesOf[T graph.NodeEntity]() *query.Builder {
	d, err := descriptorOf[T]()
	if err != nil {
		panic(err)
	}
	return query.Nodes(d.Label)
}

// RelationshipsOf starts a relationship pipeline typed from T's struct
// descriptor. Panics when T is not a well-formed entity struct.
func RelationshipsOf[T graph.RelationshipEntity]() *query.Builder {
	d, err := descriptorOf[T]()
	if err != nil {
		panic(err)
	}
	return query.Relationships(d.Label)
}

// QueryNodes runs a node-yielding plan and decodes every row into a new T.
// T must be a pointer entity type, *graph.DynamicNode included.
func QueryNodes[T graph.NodeEntity](ctx context.Context, q Queryable, plan *query.Plan) ([]T, error) {
	const op = "grom.QueryNodes"
	rows, err := q.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	col, err := singleColumn(op, rows)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, rows.Len())
	for i := range rows.Records {
		v := rows.Records[i][col]
		nv, ok := v.(*graph.NodeValue)
		if !ok {
			return nil, &graph.Error{Code: graph.EInvalid, Op: op,
				Msg: fmt.Sprintf("row %d holds %T, not a node; shaped plans return records, not entities", i, v)}
		}
		e, err := newEntity[T]()
		if err != nil {
			return nil, &graph.Error{Op: op, Err: err}
		}
		if err := decodeNodeValue(nv, e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// QueryRelationships runs a relationship-yielding plan and decodes every
// row into a new T.
func QueryRelationships[T graph.RelationshipEntity](ctx context.Context, q Queryable, plan *query.Plan) ([]T, error) {
	const op = "grom.QueryRelationships"
	rows, err := q.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	col, err := singleColumn(op, rows)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, rows.Len())
	for i := range rows.Records {
		v := rows.Records[i][col]
		rv, ok := v.(*graph.RelValue)
		if !ok {
			return nil, &graph.Error{Code: graph.EInvalid, Op: op,
				Msg: fmt.Sprintf("row %d holds %T, not a relationship", i, v)}
		}
		e, err := newEntity[T]()
		if err != nil {
			return nil, &graph.Error{Op: op, Err: err}
		}
		if err := decodeRelValue(rv, e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// PathSegment is one decoded (start, relationship, end) triple.
type PathSegment[S graph.NodeEntity, R graph.RelationshipEntity, E graph.NodeEntity] struct {
	Start S
	Rel   R
	End   E
}

// QuerySegments runs a segment-yielding plan and decodes each triple.
func QuerySegments[S graph.NodeEntity, R graph.RelationshipEntity, E graph.NodeEntity](
	ctx context.Context, q Queryable, plan *query.Plan,
) ([]PathSegment[S, R, E], error) {
	const op = "grom.QuerySegments"
	rows, err := q.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	out := make([]PathSegment[S, R, E], 0, rows.Len())
	for i := range rows.Records {
		rec := rows.Records[i]
		nv, ok := rec["start"].(*graph.NodeValue)
		if !ok {
			return nil, segErr(op, i, "start", rec["start"])
		}
		rv, ok := rec["rel"].(*graph.RelValue)
		if !ok {
			return nil, segErr(op, i, "rel", rec["rel"])
		}
		ev, ok := rec["end"].(*graph.NodeValue)
		if !ok {
			return nil, segErr(op, i, "end", rec["end"])
		}
		var seg PathSegment[S, R, E]
		if seg.Start, err = newEntity[S](); err != nil {
			return nil, &graph.Error{Op: op, Err: err}
		}
		if seg.Rel, err = newEntity[R](); err != nil {
			return nil, &graph.Error{Op: op, Err: err}
		}
		if seg.End, err = newEntity[E](); err != nil {
			return nil, &graph.Error{Op: op, Err: err}
		}
		if err := decodeNodeValue(nv, seg.Start); err != nil {
			return nil, err
		}
		if err := decodeRelValue(rv, seg.Rel); err != nil {
			return nil, err
		}
		if err := decodeNodeValue(ev, seg.End); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

// FirstNode runs the plan limited to one row and decodes it. It returns
// ENotFound when nothing matches.
func FirstNode[T graph.NodeEntity](ctx context.Context, q Queryable, plan *query.Plan) (T, error) {
	var zero T
	out, err := QueryNodes[T](ctx, q, limitPlan(plan, 1))
	if err != nil {
		return zero, err
	}
	if len(out) == 0 {
		return zero, &graph.Error{Code: graph.ENotFound, Op: "grom.FirstNode", Msg: "no nodes matched"}
	}
	return out[0], nil
}

// FirstNodeOrZero is FirstNode returning the zero value instead of
// ENotFound when nothing matches.
func FirstNodeOrZero[T graph.NodeEntity](ctx context.Context, q Queryable, plan *query.Plan) (T, error) {
	var zero T
	out, err := QueryNodes[T](ctx, q, limitPlan(plan, 1))
	if err != nil || len(out) == 0 {
		return zero, err
	}
	return out[0], nil
}

// SingleNode decodes the one node the plan matches. ENotFound when the
// result is empty, EInvalid when it holds more than one row.
func SingleNode[T graph.NodeEntity](ctx context.Context, q Queryable, plan *query.Plan) (T, error) {
	const op = "grom.SingleNode"
	var zero T
	out, err := QueryNodes[T](ctx, q, limitPlan(plan, 2))
	if err != nil {
		return zero, err
	}
	switch len(out) {
	case 0:
		return zero, &graph.Error{Code: graph.ENotFound, Op: op, Msg: "no nodes matched"}
	case 1:
		return out[0], nil
	default:
		return zero, &graph.Error{Code: graph.EInvalid, Op: op, Msg: "more than one node matched"}
	}
}

// SingleNodeOrZero is SingleNode returning the zero value instead of
// ENotFound when nothing matches. More than one row is still EInvalid.
func SingleNodeOrZero[T graph.NodeEntity](ctx context.Context, q Queryable, plan *query.Plan) (T, error) {
	var zero T
	out, err := QueryNodes[T](ctx, q, limitPlan(plan, 2))
	if err != nil || len(out) == 0 {
		return zero, err
	}
	if len(out) > 1 {
		return zero, &graph.Error{Code: graph.EInvalid, Op: "grom.SingleNodeOrZero",
			Msg: "more than one node matched"}
	}
	return out[0], nil
}

// Count reports how many records the plan yields. Plans that are pure
// match pipelines count inside the store; anything shaped, ordered, or
// paginated runs as written and counts the rows.
func Count(ctx context.Context, q Queryable, plan *query.Plan) (int64, error) {
	if counted, ok := countingPlan(plan); ok {
		rows, err := q.Run(ctx, counted)
		if err != nil {
			return 0, err
		}
		if rows.Len() == 1 {
			if n, ok := rows.Records[0]["total"].(int64); ok {
				return n, nil
			}
		}
		return 0, &graph.Error{Op: "grom.Count", Msg: "count query returned an unexpected shape"}
	}
	rows, err := q.Run(ctx, plan)
	if err != nil {
		return 0, err
	}
	return int64(rows.Len()), nil
}

// Any reports whether the plan yields at least one record.
func Any(ctx context.Context, q Queryable, plan *query.Plan) (bool, error) {
	rows, err := q.Run(ctx, limitPlan(plan, 1))
	if err != nil {
		return false, err
	}
	return rows.Len() > 0, nil
}

// limitPlan derives a plan capped at n rows, folding into an existing
// Take when the plan already has one.
func limitPlan(p *query.Plan, n int64) *query.Plan {
	steps := make([]query.Step, 0, len(p.Steps)+1)
	for _, s := range p.Steps {
		if t, ok := s.(query.Take); ok {
			if t.N < n {
				n = t.N
			}
			continue
		}
		steps = append(steps, s)
	}
	return &query.Plan{Steps: append(steps, query.Take{N: n})}
}

// countingPlan rewrites a pure match pipeline into a count aggregate.
// Shaping, distinct, ordering, and pagination all change what a row
// means, so those plans must run as written.
func countingPlan(p *query.Plan) (*query.Plan, bool) {
	for _, s := range p.Steps {
		switch s.(type) {
		case query.Source, query.Segments, query.Join, query.Filter, query.Traverse:
		default:
			return nil, false
		}
	}
	steps := make([]query.Step, len(p.Steps), len(p.Steps)+1)
	copy(steps, p.Steps)
	steps = append(steps, query.GroupBy{
		Aggs: []query.Aggregate{{Name: "total", Fn: query.AggCount}},
	})
	return &query.Plan{Steps: steps}, true
}

func segErr(op string, row int, col string, v any) error {
	return &graph.Error{Code: graph.EInvalid, Op: op,
		Msg: fmt.Sprintf("row %d column %q holds %T; plan does not yield segments", row, col, v)}
}

// singleColumn picks the entity column of an unshaped result.
func singleColumn(op string, rows *graph.Rows) (string, error) {
	if rows == nil || len(rows.Columns) != 1 {
		n := 0
		if rows != nil {
			n = len(rows.Columns)
		}
		return "", &graph.Error{Code: graph.EInvalid, Op: op,
			Msg: fmt.Sprintf("expected a single entity column, result has %d", n)}
	}
	return rows.Columns[0], nil
}

// newEntity allocates a fresh T, which must be a pointer type.
func newEntity[T any]() (T, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return zero, &graph.Error{Code: graph.EInvalid,
			Msg: fmt.Sprintf("entity type %T must be a pointer to struct", zero)}
	}
	return reflect.New(t.Elem()).Interface().(T), nil
}

func descriptorOf[T any]() (*schema.Descriptor, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Pointer {
		return nil, &graph.Error{Code: graph.EInvalid,
			Msg: fmt.Sprintf("entity type %T must be a pointer to struct", zero)}
	}
	return schema.TypeDescriptor(t.Elem())
}
