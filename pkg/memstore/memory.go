package memstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/schema"
)

// Store is a thread-safe in-memory graph engine.
//
// Nodes and relationships live in maps guarded by one RWMutex, with
// secondary indexes for labels, relationship types, and adjacency. Label
// matching is exact and case-sensitive. All reads return deep copies.
//
// With a registry attached (WithRegistry), mutations are validated against
// the descriptor for their labels and unique and node-key constraints are
// enforced across the store. Without one, the store is schemaless.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	rels  map[string]*Relationship

	nodesByLabel map[string]map[string]struct{}
	relsByType   map[string]map[string]struct{}
	outgoing     map[string]map[string]struct{}
	incoming     map[string]map[string]struct{}

	// constraints maps a claim key (unique value or node-key tuple) to the
	// node that owns it.
	constraints map[string]string

	registry *schema.Registry
	closed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithRegistry attaches a schema registry. Mutations are then validated and
// unique and node-key constraints enforced.
func WithRegistry(reg *schema.Registry) Option {
	return func(s *Store) { s.registry = reg }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		nodes:        make(map[string]*Node),
		rels:         make(map[string]*Relationship),
		nodesByLabel: make(map[string]map[string]struct{}),
		relsByType:   make(map[string]map[string]struct{}),
		outgoing:     make(map[string]map[string]struct{}),
		incoming:     make(map[string]map[string]struct{}),
		constraints:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateNode stores a new node. An empty ID is assigned; a duplicate ID is
// a conflict.
func (s *Store) CreateNode(n *Node) error {
	const op = "memstore.CreateNode"
	if n == nil {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil node"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	return s.createNodeLocked(op, n)
}

func (s *Store) createNodeLocked(op string, n *Node) error {
	if n.ID == "" {
		n.ID = graph.NewID()
	}
	if _, exists := s.nodes[n.ID]; exists {
		return &graph.Error{Code: graph.EConflict, Op: op, Msg: "node " + n.ID + " already exists"}
	}
	now := time.Now().UTC()
	if n.Created.IsZero() {
		n.Created = now
	}
	n.Updated = now

	if err := validateNode(s.registry, n); err != nil {
		return err
	}
	if err := s.checkClaimsLocked(op, n, ""); err != nil {
		return err
	}

	s.putNodeLocked(copyNode(n))
	return nil
}

// putNodeLocked stores the node and maintains label indexes and constraint
// claims. The caller hands over ownership of stored.
func (s *Store) putNodeLocked(stored *Node) {
	s.nodes[stored.ID] = stored
	for _, label := range stored.Labels {
		if s.nodesByLabel[label] == nil {
			s.nodesByLabel[label] = make(map[string]struct{})
		}
		s.nodesByLabel[label][stored.ID] = struct{}{}
	}
	s.registerClaimsLocked(stored)
}

// unindexNodeLocked drops the node's label index entries and constraint
// claims without touching the nodes map or attached relationships.
func (s *Store) unindexNodeLocked(n *Node) {
	for _, label := range n.Labels {
		if idx := s.nodesByLabel[label]; idx != nil {
			delete(idx, n.ID)
		}
	}
	s.releaseClaimsLocked(n)
}

// GetNode returns a copy of the node with the given ID.
func (s *Store) GetNode(id string) (*Node, error) {
	const op = "memstore.GetNode"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(op)
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil, errNotFound(op, "node", id)
	}
	return copyNode(n), nil
}

// UpdateNode replaces the stored node's labels and properties.
func (s *Store) UpdateNode(n *Node) error {
	const op = "memstore.UpdateNode"
	if n == nil || n.ID == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "node ID is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	return s.updateNodeLocked(op, n)
}

func (s *Store) updateNodeLocked(op string, n *Node) error {
	existing, ok := s.nodes[n.ID]
	if !ok {
		return errNotFound(op, "node", n.ID)
	}

	if err := validateNode(s.registry, n); err != nil {
		return err
	}
	if err := s.checkClaimsLocked(op, n, n.ID); err != nil {
		return err
	}

	s.unindexNodeLocked(existing)
	stored := copyNode(n)
	stored.Created = existing.Created
	stored.Updated = time.Now().UTC()
	s.putNodeLocked(stored)
	return nil
}

// DeleteNode removes the node and every relationship attached to it.
func (s *Store) DeleteNode(id string) error {
	const op = "memstore.DeleteNode"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	return s.deleteNodeLocked(op, id)
}

func (s *Store) deleteNodeLocked(op, id string) error {
	n, ok := s.nodes[id]
	if !ok {
		return errNotFound(op, "node", id)
	}
	s.removeNodeLocked(n)
	return nil
}

// removeNodeLocked drops the node, its indexes and claims, and every
// relationship attached to it.
func (s *Store) removeNodeLocked(n *Node) {
	s.unindexNodeLocked(n)
	for relID := range s.outgoing[n.ID] {
		s.detachRelLocked(relID)
	}
	for relID := range s.incoming[n.ID] {
		s.detachRelLocked(relID)
	}
	delete(s.outgoing, n.ID)
	delete(s.incoming, n.ID)
	delete(s.nodes, n.ID)
}

// detachRelLocked removes a relationship and its index entries.
func (s *Store) detachRelLocked(relID string) {
	r, ok := s.rels[relID]
	if !ok {
		return
	}
	if idx := s.relsByType[r.Type]; idx != nil {
		delete(idx, relID)
	}
	if idx := s.outgoing[r.StartID]; idx != nil {
		delete(idx, relID)
	}
	if idx := s.incoming[r.EndID]; idx != nil {
		delete(idx, relID)
	}
	delete(s.rels, relID)
}

// CreateRelationship stores a new relationship. Both endpoints must exist.
func (s *Store) CreateRelationship(r *Relationship) error {
	const op = "memstore.CreateRelationship"
	if r == nil {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil relationship"}
	}
	if r.Type == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "relationship type is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	return s.createRelationshipLocked(op, r)
}

func (s *Store) createRelationshipLocked(op string, r *Relationship) error {
	if r.ID == "" {
		r.ID = graph.NewID()
	}
	if _, exists := s.rels[r.ID]; exists {
		return &graph.Error{Code: graph.EConflict, Op: op, Msg: "relationship " + r.ID + " already exists"}
	}
	if _, ok := s.nodes[r.StartID]; !ok {
		return errNotFound(op, "start node", r.StartID)
	}
	if _, ok := s.nodes[r.EndID]; !ok {
		return errNotFound(op, "end node", r.EndID)
	}
	if err := validateRel(s.registry, r); err != nil {
		return err
	}

	now := time.Now().UTC()
	if r.Created.IsZero() {
		r.Created = now
	}
	r.Updated = now

	s.putRelLocked(copyRelationship(r))
	return nil
}

// putRelLocked stores the relationship and maintains the type and adjacency
// indexes. The caller hands over ownership of stored.
func (s *Store) putRelLocked(stored *Relationship) {
	s.rels[stored.ID] = stored
	if s.relsByType[stored.Type] == nil {
		s.relsByType[stored.Type] = make(map[string]struct{})
	}
	s.relsByType[stored.Type][stored.ID] = struct{}{}
	if s.outgoing[stored.StartID] == nil {
		s.outgoing[stored.StartID] = make(map[string]struct{})
	}
	s.outgoing[stored.StartID][stored.ID] = struct{}{}
	if s.incoming[stored.EndID] == nil {
		s.incoming[stored.EndID] = make(map[string]struct{})
	}
	s.incoming[stored.EndID][stored.ID] = struct{}{}
}

// GetRelationship returns a copy of the relationship with the given ID.
func (s *Store) GetRelationship(id string) (*Relationship, error) {
	const op = "memstore.GetRelationship"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(op)
	}
	r, ok := s.rels[id]
	if !ok {
		return nil, errNotFound(op, "relationship", id)
	}
	return copyRelationship(r), nil
}

// UpdateRelationship replaces the relationship's properties. Endpoints and
// type are fixed at creation and preserved.
func (s *Store) UpdateRelationship(r *Relationship) error {
	const op = "memstore.UpdateRelationship"
	if r == nil || r.ID == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "relationship ID is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	return s.updateRelationshipLocked(op, r)
}

func (s *Store) updateRelationshipLocked(op string, r *Relationship) error {
	existing, ok := s.rels[r.ID]
	if !ok {
		return errNotFound(op, "relationship", r.ID)
	}
	probe := copyRelationship(existing)
	probe.Props = copyProps(r.Props)
	if err := validateRel(s.registry, probe); err != nil {
		return err
	}
	probe.Updated = time.Now().UTC()
	s.rels[r.ID] = probe
	return nil
}

// DeleteRelationship removes the relationship.
func (s *Store) DeleteRelationship(id string) error {
	const op = "memstore.DeleteRelationship"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	if _, ok := s.rels[id]; !ok {
		return errNotFound(op, "relationship", id)
	}
	s.detachRelLocked(id)
	return nil
}

// GetNodesByLabel returns nodes carrying the label, or every node when the
// label is empty, sorted by ID.
func (s *Store) GetNodesByLabel(label string) ([]*Node, error) {
	const op = "memstore.GetNodesByLabel"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(op)
	}

	var out []*Node
	if label == "" {
		out = make([]*Node, 0, len(s.nodes))
		for _, n := range s.nodes {
			out = append(out, copyNode(n))
		}
	} else {
		ids := s.nodesByLabel[label]
		out = make([]*Node, 0, len(ids))
		for id := range ids {
			out = append(out, copyNode(s.nodes[id]))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetRelationshipsByType returns relationships of the given type, or every
// relationship when relType is empty, sorted by ID.
func (s *Store) GetRelationshipsByType(relType string) ([]*Relationship, error) {
	const op = "memstore.GetRelationshipsByType"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(op)
	}

	var out []*Relationship
	if relType == "" {
		out = make([]*Relationship, 0, len(s.rels))
		for _, r := range s.rels {
			out = append(out, copyRelationship(r))
		}
	} else {
		ids := s.relsByType[relType]
		out = make([]*Relationship, 0, len(ids))
		for id := range ids {
			out = append(out, copyRelationship(s.rels[id]))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetOutgoing returns relationships starting at the node, sorted by ID.
func (s *Store) GetOutgoing(nodeID string) ([]*Relationship, error) {
	const op = "memstore.GetOutgoing"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(op)
	}
	return s.adjacentLocked(s.outgoing[nodeID]), nil
}

// GetIncoming returns relationships ending at the node, sorted by ID.
func (s *Store) GetIncoming(nodeID string) ([]*Relationship, error) {
	const op = "memstore.GetIncoming"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(op)
	}
	return s.adjacentLocked(s.incoming[nodeID]), nil
}

func (s *Store) adjacentLocked(ids map[string]struct{}) []*Relationship {
	out := make([]*Relationship, 0, len(ids))
	for id := range ids {
		out = append(out, copyRelationship(s.rels[id]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close marks the store closed. Further operations fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ---------------------------------------------------------------------------
// Schema validation and constraint claims
// ---------------------------------------------------------------------------

// validateNode checks a node's properties against the descriptor for its
// most derived label. Nodes without a registered descriptor pass.
func validateNode(reg *schema.Registry, n *Node) error {
	if reg == nil || len(n.Labels) == 0 {
		return nil
	}
	desc, ok := reg.MostDerived(n.Labels)
	if !ok {
		return nil
	}
	return desc.Validate(n.Props)
}

func validateRel(reg *schema.Registry, r *Relationship) error {
	if reg == nil {
		return nil
	}
	desc, ok := reg.Relationship(r.Type)
	if !ok {
		return nil
	}
	return desc.Validate(r.Props)
}

// claim is one uniqueness assertion a node makes: a single unique property
// value or a whole node-key tuple.
type claim struct {
	key       string
	violation schema.Violation
}

// claimsFor collects the constraint claims of a node under every label that
// declares constraints for it.
func claimsFor(reg *schema.Registry, n *Node) []claim {
	if reg == nil {
		return nil
	}
	var claims []claim
	for _, label := range n.Labels {
		desc, ok := reg.Node(label)
		if !ok {
			continue
		}
		for _, name := range desc.UniqueProperties() {
			v, ok := n.Props[name]
			if !ok || v == nil {
				continue
			}
			claims = append(claims, claim{
				key: "u\x00" + label + "\x00" + name + "\x00" + valueKey(v),
				violation: schema.Violation{
					Label:      label,
					Properties: []string{name},
					Rule:       schema.RuleUnique,
					Detail:     "value is already taken",
				},
			})
		}
		keyProps := desc.KeyProperties()
		if len(keyProps) == 0 {
			continue
		}
		parts := make([]string, 0, len(keyProps))
		complete := true
		for _, name := range keyProps {
			v, ok := n.Props[name]
			if !ok || v == nil {
				complete = false
				break
			}
			parts = append(parts, valueKey(v))
		}
		if !complete {
			continue
		}
		claims = append(claims, claim{
			key: "k\x00" + label + "\x00" + strings.Join(parts, "\x00"),
			violation: schema.Violation{
				Label:      label,
				Properties: keyProps,
				Rule:       schema.RuleNodeKey,
				Detail:     "node key is already taken",
			},
		})
	}
	return claims
}

// checkClaimsLocked verifies the node's claims are free, ignoring entries
// owned by excludeID.
func (s *Store) checkClaimsLocked(op string, n *Node, excludeID string) error {
	for _, c := range claimsFor(s.registry, n) {
		owner, taken := s.constraints[c.key]
		if taken && owner != excludeID {
			v := c.violation
			return &graph.Error{Code: graph.EConflict, Op: op, Msg: v.Error()}
		}
	}
	return nil
}

func (s *Store) registerClaimsLocked(n *Node) {
	for _, c := range claimsFor(s.registry, n) {
		s.constraints[c.key] = n.ID
	}
}

func (s *Store) releaseClaimsLocked(n *Node) {
	for _, c := range claimsFor(s.registry, n) {
		if s.constraints[c.key] == n.ID {
			delete(s.constraints, c.key)
		}
	}
}

// valueKey renders a canonical value as a deterministic, type-tagged string
// for constraint claims.
func valueKey(v any) string {
	switch t := v.(type) {
	case string:
		return "s:" + t
	case int64:
		return "i:" + strconv.FormatInt(t, 10)
	case float64:
		return "f:" + strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(t)
	case time.Time:
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	case []string:
		return "l:" + strings.Join(t, "\x1f")
	default:
		return fmt.Sprintf("?:%v", t)
	}
}
