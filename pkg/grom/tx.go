package grom

import (
	"context"

	"github.com/orneryd/grom/pkg/cypher"
	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/query"
)

// TxState is the lifecycle position of a Tx.
type TxState int

const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
	TxDisposed
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	case TxDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Tx is one unit of work against the graph. Writes buffer in the underlying
// session and become visible to other readers only on Commit; reads within
// the transaction see its own writes. A Tx moves through exactly one of
// Commit, Rollback, or Dispose and is dead afterwards. It is not safe for
// concurrent use.
type Tx struct {
	g       *Graph
	session cypher.Session
	state   TxState
}

// Begin opens a transaction. The Graph's storage client must support
// transactions (memstore.Client does over a transactional engine).
func (g *Graph) Begin(ctx context.Context) (*Tx, error) {
	const op = "grom.Begin"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, ok := g.store.(cypher.Beginner)
	if !ok {
		return nil, &graph.Error{Code: graph.EUnsupported, Op: op, Msg: "storage client does not support transactions"}
	}
	s, err := b.Begin(ctx)
	if err != nil {
		return nil, &graph.Error{Op: op, Err: err}
	}
	return &Tx{g: g, session: s, state: TxActive}, nil
}

// State reports where the transaction is in its lifecycle.
func (tx *Tx) State() TxState { return tx.state }

func (tx *Tx) guard(op string) error {
	if tx.state != TxActive {
		return &graph.Error{Code: graph.ETxState, Op: op,
			Msg: "transaction is " + tx.state.String()}
	}
	return nil
}

// Commit validates and publishes the transaction's buffered writes
// atomically. On a validation or conflict failure nothing is published and
// the transaction ends rolled back.
func (tx *Tx) Commit(ctx context.Context) error {
	const op = "grom.Tx.Commit"
	if err := tx.guard(op); err != nil {
		return err
	}
	if err := tx.session.Commit(ctx); err != nil {
		tx.state = TxRolledBack
		return err
	}
	tx.state = TxCommitted
	return nil
}

// Rollback discards every buffered write.
func (tx *Tx) Rollback(ctx context.Context) error {
	const op = "grom.Tx.Rollback"
	if err := tx.guard(op); err != nil {
		return err
	}
	tx.state = TxRolledBack
	return tx.session.Rollback(ctx)
}

// Dispose releases the transaction, rolling it back if still active. Safe
// to call more than once and after Commit or Rollback, which makes it the
// defer companion of Begin. The transaction always ends disposed; writes
// already committed stay committed.
func (tx *Tx) Dispose() {
	active := tx.state == TxActive
	tx.state = TxDisposed
	if active {
		_ = tx.session.Rollback(context.Background())
	}
}

// CreateNode is Graph.CreateNode inside the transaction.
func (tx *Tx) CreateNode(ctx context.Context, e graph.NodeEntity) error {
	if err := tx.guard("grom.Tx.CreateNode"); err != nil {
		return err
	}
	return tx.g.createNode(ctx, tx.session, e)
}

// CreateRelationship is Graph.CreateRelationship inside the transaction.
func (tx *Tx) CreateRelationship(ctx context.Context, e graph.RelationshipEntity) error {
	if err := tx.guard("grom.Tx.CreateRelationship"); err != nil {
		return err
	}
	return tx.g.createRelationship(ctx, tx.session, e)
}

// Relate is Graph.Relate inside the transaction.
func (tx *Tx) Relate(ctx context.Context, start graph.NodeEntity, rel graph.RelationshipEntity, end graph.NodeEntity) error {
	if err := tx.guard("grom.Tx.Relate"); err != nil {
		return err
	}
	return tx.g.relate(ctx, tx.session, start, rel, end)
}

// GetNode is Graph.GetNode inside the transaction; it sees the
// transaction's own uncommitted writes.
func (tx *Tx) GetNode(ctx context.Context, id string, out graph.NodeEntity) error {
	if err := tx.guard("grom.Tx.GetNode"); err != nil {
		return err
	}
	return tx.g.getNode(ctx, tx.session, id, out)
}

// GetRelationship is Graph.GetRelationship inside the transaction.
func (tx *Tx) GetRelationship(ctx context.Context, id string, out graph.RelationshipEntity) error {
	if err := tx.guard("grom.Tx.GetRelationship"); err != nil {
		return err
	}
	return tx.g.getRelationship(ctx, tx.session, id, out)
}

// UpdateNode is Graph.UpdateNode inside the transaction.
func (tx *Tx) UpdateNode(ctx context.Context, e graph.NodeEntity) error {
	if err := tx.guard("grom.Tx.UpdateNode"); err != nil {
		return err
	}
	return tx.g.updateNode(ctx, tx.session, e)
}

// UpdateRelationship is Graph.UpdateRelationship inside the transaction.
func (tx *Tx) UpdateRelationship(ctx context.Context, e graph.RelationshipEntity) error {
	if err := tx.guard("grom.Tx.UpdateRelationship"); err != nil {
		return err
	}
	return tx.g.updateRelationship(ctx, tx.session, e)
}

// DeleteNode is Graph.DeleteNode inside the transaction.
func (tx *Tx) DeleteNode(ctx context.Context, id string) error {
	const op = "grom.Tx.DeleteNode"
	if err := tx.guard(op); err != nil {
		return err
	}
	return tx.g.run1(ctx, tx.session, op, cypher.DeleteNode(id))
}

// DeleteRelationship is Graph.DeleteRelationship inside the transaction.
func (tx *Tx) DeleteRelationship(ctx context.Context, id string) error {
	const op = "grom.Tx.DeleteRelationship"
	if err := tx.guard(op); err != nil {
		return err
	}
	return tx.g.run1(ctx, tx.session, op, cypher.DeleteRelationship(id))
}

// Run is Graph.Run inside the transaction.
func (tx *Tx) Run(ctx context.Context, plan *query.Plan) (*graph.Rows, error) {
	if err := tx.guard("grom.Tx.Run"); err != nil {
		return nil, err
	}
	return tx.g.runPlan(ctx, tx.session, plan)
}
