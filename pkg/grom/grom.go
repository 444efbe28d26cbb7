// Package grom is the object-graph mapping layer: typed and dynamic
// entities persisted to a graph store through compiled pattern queries.
//
// A Graph wraps a statement runner (pkg/memstore provides embedded ones)
// together with an optional schema registry. Writes are validated against
// registered descriptors before anything is serialized; reads decode rows
// back into entities.
//
// Example Usage:
//
//	type Person struct {
//		graph.Node `grom:"Person"`
//		Name string `grom:"name,required"`
//		Age  int    `grom:"age,min=0"`
//	}
//
//	reg := schema.NewRegistry(schema.MustStruct[Person]())
//	store := memstore.New(memstore.WithRegistry(reg))
//	g, err := grom.New(memstore.NewClient(store), grom.WithRegistry(reg))
//	...
//	alice := &Person{Name: "Alice", Age: 30}
//	err = g.CreateNode(ctx, alice) // alice.ID is now assigned
//
//	plan, _ := query.Nodes("Person").
//		Where(query.Gt(query.Property("age"), query.Value(21))).
//		OrderBy(query.Property("name")).
//		Plan()
//	adults, err := grom.QueryNodes[*Person](ctx, g, plan)
package grom

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/orneryd/grom/pkg/cypher"
	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/query"
	"github.com/orneryd/grom/pkg/schema"
)

// Graph is the mapping facade over one storage client. It is safe for
// concurrent use; per-transaction work goes through Begin.
type Graph struct {
	store    cypher.Runner
	registry *schema.Registry
	logger   *zap.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithRegistry attaches the schema registry consulted on every write. A
// Graph without one performs no validation.
func WithRegistry(reg *schema.Registry) Option {
	return func(g *Graph) { g.registry = reg }
}

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Graph over a statement runner.
func New(store cypher.Runner, opts ...Option) (*Graph, error) {
	if store == nil {
		return nil, &graph.Error{Code: graph.EInvalid, Op: "grom.New", Msg: "nil storage client"}
	}
	g := &Graph{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Initialize builds the attached registry's schema collection. Idempotent,
// and a no-op without a registry.
func (g *Graph) Initialize() error {
	if g.registry == nil {
		return nil
	}
	return g.registry.Initialize()
}

// Registry returns the attached schema registry, if any.
func (g *Graph) Registry() *schema.Registry { return g.registry }

// CreateNode persists a new node entity and assigns its ID. The entity must
// not have been persisted before.
func (g *Graph) CreateNode(ctx context.Context, e graph.NodeEntity) error {
	return g.createNode(ctx, g.store, e)
}

// CreateRelationship persists a new relationship entity between two existing
// nodes. Endpoints must already carry IDs; Relate binds them from entities.
func (g *Graph) CreateRelationship(ctx context.Context, e graph.RelationshipEntity) error {
	return g.createRelationship(ctx, g.store, e)
}

// Relate persists rel between two already persisted nodes, binding its
// endpoints from their IDs.
func (g *Graph) Relate(ctx context.Context, start graph.NodeEntity, rel graph.RelationshipEntity, end graph.NodeEntity) error {
	return g.relate(ctx, g.store, start, rel, end)
}

// GetNode loads the node with the given ID into out.
func (g *Graph) GetNode(ctx context.Context, id string, out graph.NodeEntity) error {
	return g.getNode(ctx, g.store, id, out)
}

// GetRelationship loads the relationship with the given ID into out.
func (g *Graph) GetRelationship(ctx context.Context, id string, out graph.RelationshipEntity) error {
	return g.getRelationship(ctx, g.store, id, out)
}

// UpdateNode replaces the stored properties of an already persisted node
// with the entity's current ones.
func (g *Graph) UpdateNode(ctx context.Context, e graph.NodeEntity) error {
	return g.updateNode(ctx, g.store, e)
}

// UpdateRelationship replaces the stored properties of an already persisted
// relationship.
func (g *Graph) UpdateRelationship(ctx context.Context, e graph.RelationshipEntity) error {
	return g.updateRelationship(ctx, g.store, e)
}

// DeleteNode removes a node and every relationship attached to it. Deleting
// an absent node is a no-op.
func (g *Graph) DeleteNode(ctx context.Context, id string) error {
	return g.run1(ctx, g.store, "grom.DeleteNode", cypher.DeleteNode(id))
}

// DeleteRelationship removes a relationship. Deleting an absent one is a
// no-op.
func (g *Graph) DeleteRelationship(ctx context.Context, id string) error {
	return g.run1(ctx, g.store, "grom.DeleteRelationship", cypher.DeleteRelationship(id))
}

// Run compiles a plan and executes it, returning raw rows. Typed decoding
// goes through QueryNodes, QueryRelationships, and QuerySegments.
func (g *Graph) Run(ctx context.Context, plan *query.Plan) (*graph.Rows, error) {
	return g.runPlan(ctx, g.store, plan)
}

// Materialize turns a node row value into its most derived registered
// entity type: a node stored as [Employee, Person] and read back through a
// Person query still decodes as *Employee. Without a registered struct
// descriptor it falls back to a DynamicNode.
func (g *Graph) Materialize(nv *graph.NodeValue) (graph.NodeEntity, error) {
	if nv == nil {
		return nil, &graph.Error{Code: graph.EInvalid, Op: "grom.Materialize", Msg: "nil node value"}
	}
	if g.registry != nil {
		if d, ok := g.registry.MostDerived(nv.Labels); ok && d.GoType != nil {
			out, ok := reflect.New(d.GoType).Interface().(graph.NodeEntity)
			if ok {
				if err := decodeNodeValue(nv, out); err != nil {
					return nil, err
				}
				return out, nil
			}
		}
	}
	dyn := &graph.DynamicNode{}
	if err := decodeNodeValue(nv, dyn); err != nil {
		return nil, err
	}
	return dyn, nil
}

// ---------------------------------------------------------------------------
// Core operations, shared between Graph and Tx
// ---------------------------------------------------------------------------

func (g *Graph) createNode(ctx context.Context, run cypher.Runner, e graph.NodeEntity) error {
	const op = "grom.CreateNode"
	if err := ctx.Err(); err != nil {
		return err
	}
	enc, err := encodeNodeEntity(e)
	if err != nil {
		return err
	}
	if e.EntityID() != "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "entity already has an id"}
	}
	if err := g.validateNodeBag(enc.labels, enc.props); err != nil {
		return &graph.Error{Op: op, Err: err}
	}
	st, err := cypher.CreateNode(enc.labels, enc.props)
	if err != nil {
		return err
	}
	rows, err := run.Run(ctx, st)
	if err != nil {
		return err
	}
	id, ok := firstString(rows, "id")
	if !ok {
		return &graph.Error{Code: graph.EInternal, Op: op, Msg: "store returned no id"}
	}
	e.BindID(id)
	g.logger.Debug("created node", zap.String("id", id), zap.Strings("labels", enc.labels))
	return nil
}

func (g *Graph) createRelationship(ctx context.Context, run cypher.Runner, e graph.RelationshipEntity) error {
	const op = "grom.CreateRelationship"
	if err := ctx.Err(); err != nil {
		return err
	}
	enc, err := encodeRelEntity(e)
	if err != nil {
		return err
	}
	if e.EntityID() != "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "entity already has an id"}
	}
	start, end := e.Endpoints()
	if start == "" || end == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "relationship endpoints are not bound"}
	}
	if err := g.validateRelBag(enc.relType, enc.props); err != nil {
		return &graph.Error{Op: op, Err: err}
	}
	st, err := cypher.CreateRelationship(enc.relType, start, end, enc.props)
	if err != nil {
		return err
	}
	rows, err := run.Run(ctx, st)
	if err != nil {
		return err
	}
	id, ok := firstString(rows, "id")
	if !ok {
		return &graph.Error{Code: graph.ENotFound, Op: op,
			Msg: fmt.Sprintf("start node %s or end node %s does not exist", start, end)}
	}
	e.BindID(id)
	g.logger.Debug("created relationship",
		zap.String("id", id), zap.String("type", enc.relType),
		zap.String("start", start), zap.String("end", end))
	return nil
}

func (g *Graph) relate(ctx context.Context, run cypher.Runner, start graph.NodeEntity, rel graph.RelationshipEntity, end graph.NodeEntity) error {
	const op = "grom.Relate"
	if start == nil || rel == nil || end == nil {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil entity"}
	}
	if start.EntityID() == "" || end.EntityID() == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "endpoint entities must be persisted first"}
	}
	rel.BindEndpoints(start.EntityID(), end.EntityID())
	return g.createRelationship(ctx, run, rel)
}

func (g *Graph) getNode(ctx context.Context, run cypher.Runner, id string, out graph.NodeEntity) error {
	const op = "grom.GetNode"
	if err := ctx.Err(); err != nil {
		return err
	}
	if out == nil {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil decode target"}
	}
	rows, err := run.Run(ctx, cypher.NodeByID(id))
	if err != nil {
		return err
	}
	v, ok := rows.Value(0, "n")
	if !ok {
		return &graph.Error{Code: graph.ENotFound, Op: op, Msg: "node " + id + " does not exist"}
	}
	nv, ok := v.(*graph.NodeValue)
	if !ok {
		return &graph.Error{Code: graph.EInternal, Op: op, Msg: fmt.Sprintf("store returned %T, not a node", v)}
	}
	return decodeNodeValue(nv, out)
}

func (g *Graph) getRelationship(ctx context.Context, run cypher.Runner, id string, out graph.RelationshipEntity) error {
	const op = "grom.GetRelationship"
	if err := ctx.Err(); err != nil {
		return err
	}
	if out == nil {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil decode target"}
	}
	rows, err := run.Run(ctx, cypher.RelationshipByID(id))
	if err != nil {
		return err
	}
	v, ok := rows.Value(0, "r")
	if !ok {
		return &graph.Error{Code: graph.ENotFound, Op: op, Msg: "relationship " + id + " does not exist"}
	}
	rv, ok := v.(*graph.RelValue)
	if !ok {
		return &graph.Error{Code: graph.EInternal, Op: op, Msg: fmt.Sprintf("store returned %T, not a relationship", v)}
	}
	return decodeRelValue(rv, out)
}

func (g *Graph) updateNode(ctx context.Context, run cypher.Runner, e graph.NodeEntity) error {
	const op = "grom.UpdateNode"
	if err := ctx.Err(); err != nil {
		return err
	}
	enc, err := encodeNodeEntity(e)
	if err != nil {
		return err
	}
	if e.EntityID() == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "entity has not been persisted"}
	}
	if err := g.validateNodeBag(enc.labels, enc.props); err != nil {
		return &graph.Error{Op: op, Err: err}
	}
	st, err := cypher.UpdateNode(e.EntityID(), enc.props)
	if err != nil {
		return err
	}
	rows, err := run.Run(ctx, st)
	if err != nil {
		return err
	}
	if _, ok := firstString(rows, "id"); !ok {
		return &graph.Error{Code: graph.ENotFound, Op: op, Msg: "node " + e.EntityID() + " does not exist"}
	}
	return nil
}

func (g *Graph) updateRelationship(ctx context.Context, run cypher.Runner, e graph.RelationshipEntity) error {
	const op = "grom.UpdateRelationship"
	if err := ctx.Err(); err != nil {
		return err
	}
	enc, err := encodeRelEntity(e)
	if err != nil {
		return err
	}
	if e.EntityID() == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "entity has not been persisted"}
	}
	if err := g.validateRelBag(enc.relType, enc.props); err != nil {
		return &graph.Error{Op: op, Err: err}
	}
	st, err := cypher.UpdateRelationship(e.EntityID(), enc.props)
	if err != nil {
		return err
	}
	rows, err := run.Run(ctx, st)
	if err != nil {
		return err
	}
	if _, ok := firstString(rows, "id"); !ok {
		return &graph.Error{Code: graph.ENotFound, Op: op, Msg: "relationship " + e.EntityID() + " does not exist"}
	}
	return nil
}

func (g *Graph) run1(ctx context.Context, run cypher.Runner, op string, st *cypher.Statement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := run.Run(ctx, st); err != nil {
		return &graph.Error{Op: op, Err: err}
	}
	return nil
}

func (g *Graph) runPlan(ctx context.Context, run cypher.Runner, plan *query.Plan) (*graph.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := cypher.Compile(plan)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("run query", zap.String("text", st.Text))
	return run.Run(ctx, st)
}

// validateNodeBag checks a node's property bag against the descriptor for
// its most derived registered label. No registered schema means no
// validation, the open-world fallback.
func (g *Graph) validateNodeBag(labels []string, props map[string]any) error {
	if g.registry == nil {
		return nil
	}
	d, ok := g.registry.MostDerived(labels)
	if !ok {
		return nil
	}
	return d.Validate(props)
}

func (g *Graph) validateRelBag(relType string, props map[string]any) error {
	if g.registry == nil {
		return nil
	}
	d, ok := g.registry.Relationship(relType)
	if !ok {
		return nil
	}
	return d.Validate(props)
}

func firstString(rows *graph.Rows, column string) (string, bool) {
	v, ok := rows.Value(0, column)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
