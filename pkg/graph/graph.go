// Package graph defines the entity model shared by every layer of grom.
//
// Entities are plain Go structs. A node type embeds graph.Node and names its
// label in the embed tag; a relationship type embeds graph.Relationship and
// names its type the same way. Property metadata (storage name, required,
// unique, key, validation bounds) rides on field tags and is interpreted by
// the schema package.
//
// Design Principles:
//   - Entities are dumb data; behavior lives in the mapping layers
//   - IDs are opaque strings, assigned exactly once at creation
//   - Dynamic entities (label and property set supplied at call time) share
//     the same contracts as statically declared ones
//
// Example Usage:
//
//	type Person struct {
//		graph.Node `grom:"Person"`
//		Name  string `grom:"name,required"`
//		Email string `grom:"email,unique"`
//		Age   int    `grom:"age"`
//	}
//
//	type Knows struct {
//		graph.Relationship `grom:"KNOWS"`
//		Since int `grom:"since"`
//	}
package graph

import "github.com/google/uuid"

// Direction selects which way a traversal walks relationships.
type Direction int

const (
	// Outgoing follows relationships from start node to end node.
	Outgoing Direction = iota
	// Incoming follows relationships from end node to start node.
	Incoming
	// Both follows relationships regardless of orientation.
	Both
)

// String returns the lowercase name used in logs and error messages.
func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	case Both:
		return "both"
	default:
		return "unknown"
	}
}

// Reverse returns the opposite direction. Both reverses to itself.
func (d Direction) Reverse() Direction {
	switch d {
	case Outgoing:
		return Incoming
	case Incoming:
		return Outgoing
	default:
		return Both
	}
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}

// Entity is the contract every mapped object satisfies. Both marker structs
// and the dynamic entity types implement it.
//
// An entity's ID is assigned once, at creation time. BindID on an entity
// that already carries an ID is a no-op; identity never changes after the
// first write.
type Entity interface {
	EntityID() string
	BindID(id string)
}

// NodeEntity marks types persisted as graph nodes. Implemented by embedding
// Node, or by DynamicNode.
type NodeEntity interface {
	Entity
	isNode()
}

// RelationshipEntity marks types persisted as graph relationships.
// Implemented by embedding Relationship, or by DynamicRelationship.
//
// Relationships are directed: Endpoints returns (start, end) in storage
// orientation. Query-time direction is a traversal concern, not an entity
// one.
type RelationshipEntity interface {
	Entity
	isRelationship()
	Endpoints() (start, end string)
	BindEndpoints(start, end string)
}

// Node is the embeddable base for statically declared node entities.
// The label comes from the embed tag:
//
//	type Movie struct {
//		graph.Node `grom:"Movie"`
//		Title string `grom:"title,required"`
//	}
type Node struct {
	ID string `grom:"-" json:"id"`
}

// EntityID returns the assigned identifier, or "" before first persistence.
func (n *Node) EntityID() string { return n.ID }

// BindID assigns the identifier if none is set.
func (n *Node) BindID(id string) {
	if n.ID == "" {
		n.ID = id
	}
}

func (n *Node) isNode() {}

// Relationship is the embeddable base for statically declared relationship
// entities. The relationship type comes from the embed tag:
//
//	type WorksFor struct {
//		graph.Relationship `grom:"WORKS_FOR"`
//		Role string `grom:"role"`
//	}
type Relationship struct {
	ID      string `grom:"-" json:"id"`
	StartID string `grom:"-" json:"startId"`
	EndID   string `grom:"-" json:"endId"`
}

// EntityID returns the assigned identifier, or "" before first persistence.
func (r *Relationship) EntityID() string { return r.ID }

// BindID assigns the identifier if none is set.
func (r *Relationship) BindID(id string) {
	if r.ID == "" {
		r.ID = id
	}
}

func (r *Relationship) isRelationship() {}

// Endpoints returns the start and end node IDs in storage orientation.
func (r *Relationship) Endpoints() (string, string) { return r.StartID, r.EndID }

// BindEndpoints assigns endpoints that are not already set.
func (r *Relationship) BindEndpoints(start, end string) {
	if r.StartID == "" {
		r.StartID = start
	}
	if r.EndID == "" {
		r.EndID = end
	}
}

// DynamicNode is a node whose labels and properties are supplied at call
// time instead of being declared on a struct. If a schema is registered for
// any of its labels, writes are validated against it exactly as for static
// entities.
type DynamicNode struct {
	ID     string         `json:"id"`
	Labels []string       `json:"labels"`
	Props  map[string]any `json:"properties"`
}

// EntityID returns the assigned identifier, or "" before first persistence.
func (n *DynamicNode) EntityID() string { return n.ID }

// BindID assigns the identifier if none is set.
func (n *DynamicNode) BindID(id string) {
	if n.ID == "" {
		n.ID = id
	}
}

func (n *DynamicNode) isNode() {}

// DynamicRelationship is a relationship whose type and properties are
// supplied at call time.
type DynamicRelationship struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	StartID string         `json:"startId"`
	EndID   string         `json:"endId"`
	Props   map[string]any `json:"properties"`
}

// EntityID returns the assigned identifier, or "" before first persistence.
func (r *DynamicRelationship) EntityID() string { return r.ID }

// BindID assigns the identifier if none is set.
func (r *DynamicRelationship) BindID(id string) {
	if r.ID == "" {
		r.ID = id
	}
}

func (r *DynamicRelationship) isRelationship() {}

// Endpoints returns the start and end node IDs in storage orientation.
func (r *DynamicRelationship) Endpoints() (string, string) { return r.StartID, r.EndID }

// BindEndpoints assigns endpoints that are not already set.
func (r *DynamicRelationship) BindEndpoints(start, end string) {
	if r.StartID == "" {
		r.StartID = start
	}
	if r.EndID == "" {
		r.EndID = end
	}
}
