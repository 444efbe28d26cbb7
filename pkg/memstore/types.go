// Package memstore provides the embedded storage engines behind the mapping
// layer.
//
// Two engines implement the same Engine interface:
//   - Store: in-memory maps with secondary indexes, for tests and small
//     working sets
//   - BadgerStore: persistent disk-backed storage on BadgerDB, optionally
//     encrypted at rest
//
// Both are safe for concurrent use. On top of either engine, Client accepts
// compiled statements (the pkg/cypher dialect), executes them, and returns
// wire-neutral rows. Store additionally supports buffered transactions with
// read-your-writes visibility.
//
// When a schema registry is attached, every mutation is validated against
// the descriptor for its labels, and unique and node-key constraints are
// enforced store-wide.
package memstore

import (
	"time"

	"github.com/orneryd/grom/pkg/graph"
)

// Node is a stored node. Props hold canonical scalar values under flat,
// possibly dotted, names.
type Node struct {
	ID      string
	Labels  []string
	Props   map[string]any
	Created time.Time
	Updated time.Time
}

// Relationship is a stored relationship between two nodes.
type Relationship struct {
	ID      string
	Type    string
	StartID string
	EndID   string
	Props   map[string]any
	Created time.Time
	Updated time.Time
}

// Engine is the storage surface the statement executor runs against.
//
// Engines assign an ID to created elements when the caller leaves it empty,
// and stamp Created/Updated timestamps. Returned values are deep copies;
// mutating them never affects stored state.
type Engine interface {
	CreateNode(n *Node) error
	GetNode(id string) (*Node, error)
	UpdateNode(n *Node) error
	DeleteNode(id string) error

	CreateRelationship(r *Relationship) error
	GetRelationship(id string) (*Relationship, error)
	UpdateRelationship(r *Relationship) error
	DeleteRelationship(id string) error

	// GetNodesByLabel returns nodes carrying the label, or every node when
	// label is empty. Label matching is exact and case-sensitive.
	GetNodesByLabel(label string) ([]*Node, error)

	// GetRelationshipsByType returns relationships of the type, or every
	// relationship when relType is empty.
	GetRelationshipsByType(relType string) ([]*Relationship, error)

	GetOutgoing(nodeID string) ([]*Relationship, error)
	GetIncoming(nodeID string) ([]*Relationship, error)

	Close() error
}

func copyProps(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if ss, ok := v.([]string); ok {
			v = append([]string(nil), ss...)
		}
		out[k] = v
	}
	return out
}

func copyNode(n *Node) *Node {
	return &Node{
		ID:      n.ID,
		Labels:  append([]string(nil), n.Labels...),
		Props:   copyProps(n.Props),
		Created: n.Created,
		Updated: n.Updated,
	}
}

func copyRelationship(r *Relationship) *Relationship {
	return &Relationship{
		ID:      r.ID,
		Type:    r.Type,
		StartID: r.StartID,
		EndID:   r.EndID,
		Props:   copyProps(r.Props),
		Created: r.Created,
		Updated: r.Updated,
	}
}

func errClosed(op string) error {
	return &graph.Error{Code: graph.EInternal, Op: op, Msg: "store is closed"}
}

func errNotFound(op, kind, id string) error {
	return &graph.Error{Code: graph.ENotFound, Op: op, Msg: kind + " " + id + " does not exist"}
}
