package memstore

import (
	"sort"
	"sync"
	"time"

	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/schema"
)

// EngineTx is a buffered write transaction: an Engine whose writes become
// visible to other readers only on Commit.
type EngineTx interface {
	Engine
	Commit() error
	Rollback() error
}

// committer applies a staged batch atomically against its engine's state.
type committer interface {
	commitTxn(op string, t *Txn) error
}

// Txn stages writes over a base engine with read-your-writes.
//
// Writes are buffered in the transaction and applied by Commit, all or
// nothing. Reads through the transaction observe its own staged writes. A
// transaction is one-shot: after Commit or Rollback every operation fails.
//
// Descriptor validation runs when a write is staged, so malformed entities
// fail fast. Uniqueness and node-key claims depend on global state and are
// checked at commit, against the engine and the staged writes together.
type Txn struct {
	base      Engine
	registry  *schema.Registry
	committer committer

	mu   sync.Mutex
	done bool

	pendingNodes map[string]*Node
	createdNodes map[string]struct{}
	pendingRels  map[string]*Relationship
	createdRels  map[string]struct{}
	deletedNodes map[string]struct{}
	deletedRels  map[string]struct{}
}

func newTxn(base Engine, reg *schema.Registry, c committer) *Txn {
	return &Txn{
		base:         base,
		registry:     reg,
		committer:    c,
		pendingNodes: make(map[string]*Node),
		createdNodes: make(map[string]struct{}),
		pendingRels:  make(map[string]*Relationship),
		createdRels:  make(map[string]struct{}),
		deletedNodes: make(map[string]struct{}),
		deletedRels:  make(map[string]struct{}),
	}
}

// Begin opens a transaction over the store.
func (s *Store) Begin() (EngineTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("memstore.Begin")
	}
	return newTxn(s, s.registry, s), nil
}

func errTxDone(op string) error {
	return &graph.Error{Code: graph.ETxState, Op: op, Msg: "transaction is already finished"}
}

// CreateNode stages a node creation.
func (t *Txn) CreateNode(n *Node) error {
	const op = "memstore.Txn.CreateNode"
	if n == nil {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil node"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone(op)
	}

	if n.ID == "" {
		n.ID = graph.NewID()
	}
	if t.nodeExists(n.ID) {
		return &graph.Error{Code: graph.EConflict, Op: op, Msg: "node " + n.ID + " already exists"}
	}
	if err := validateNode(t.registry, n); err != nil {
		return err
	}

	now := time.Now().UTC()
	staged := copyNode(n)
	staged.Created = now
	staged.Updated = now
	n.Created = now
	n.Updated = now
	t.pendingNodes[staged.ID] = staged
	t.createdNodes[staged.ID] = struct{}{}
	return nil
}

// GetNode returns the node as this transaction sees it.
func (t *Txn) GetNode(id string) (*Node, error) {
	const op = "memstore.Txn.GetNode"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, errTxDone(op)
	}
	if _, gone := t.deletedNodes[id]; gone {
		return nil, errNotFound(op, "node", id)
	}
	if staged, ok := t.pendingNodes[id]; ok {
		return copyNode(staged), nil
	}
	return t.base.GetNode(id)
}

// UpdateNode stages a replacement of the node's labels and properties.
func (t *Txn) UpdateNode(n *Node) error {
	const op = "memstore.Txn.UpdateNode"
	if n == nil || n.ID == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "node ID is required"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone(op)
	}

	current, err := t.effectiveNode(op, n.ID)
	if err != nil {
		return err
	}
	if err := validateNode(t.registry, n); err != nil {
		return err
	}

	staged := copyNode(n)
	staged.Created = current.Created
	staged.Updated = time.Now().UTC()
	t.pendingNodes[staged.ID] = staged
	return nil
}

// DeleteNode stages removal of the node and, at commit, every relationship
// attached to it.
func (t *Txn) DeleteNode(id string) error {
	const op = "memstore.Txn.DeleteNode"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone(op)
	}
	if _, err := t.effectiveNode(op, id); err != nil {
		return err
	}

	t.dropStagedRelsTouching(id)
	if _, created := t.createdNodes[id]; created {
		delete(t.pendingNodes, id)
		delete(t.createdNodes, id)
		return nil
	}
	delete(t.pendingNodes, id)
	t.deletedNodes[id] = struct{}{}
	return nil
}

// dropStagedRelsTouching discards staged relationships that start or end at
// the node.
func (t *Txn) dropStagedRelsTouching(nodeID string) {
	for relID, r := range t.pendingRels {
		if r.StartID == nodeID || r.EndID == nodeID {
			delete(t.pendingRels, relID)
			delete(t.createdRels, relID)
		}
	}
}

// CreateRelationship stages a relationship creation. Both endpoints must
// exist as this transaction sees them.
func (t *Txn) CreateRelationship(r *Relationship) error {
	const op = "memstore.Txn.CreateRelationship"
	if r == nil {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil relationship"}
	}
	if r.Type == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "relationship type is required"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone(op)
	}

	if r.ID == "" {
		r.ID = graph.NewID()
	}
	if t.relExists(r.ID) {
		return &graph.Error{Code: graph.EConflict, Op: op, Msg: "relationship " + r.ID + " already exists"}
	}
	if !t.nodeExists(r.StartID) {
		return errNotFound(op, "start node", r.StartID)
	}
	if !t.nodeExists(r.EndID) {
		return errNotFound(op, "end node", r.EndID)
	}
	if err := validateRel(t.registry, r); err != nil {
		return err
	}

	now := time.Now().UTC()
	staged := copyRelationship(r)
	staged.Created = now
	staged.Updated = now
	r.Created = now
	r.Updated = now
	t.pendingRels[staged.ID] = staged
	t.createdRels[staged.ID] = struct{}{}
	return nil
}

// GetRelationship returns the relationship as this transaction sees it.
func (t *Txn) GetRelationship(id string) (*Relationship, error) {
	const op = "memstore.Txn.GetRelationship"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, errTxDone(op)
	}
	return t.effectiveRelCopy(op, id)
}

func (t *Txn) effectiveRelCopy(op, id string) (*Relationship, error) {
	if _, gone := t.deletedRels[id]; gone {
		return nil, errNotFound(op, "relationship", id)
	}
	if staged, ok := t.pendingRels[id]; ok {
		if !t.nodeExists(staged.StartID) || !t.nodeExists(staged.EndID) {
			return nil, errNotFound(op, "relationship", id)
		}
		return copyRelationship(staged), nil
	}
	r, err := t.base.GetRelationship(id)
	if err != nil {
		return nil, err
	}
	if !t.nodeExists(r.StartID) || !t.nodeExists(r.EndID) {
		return nil, errNotFound(op, "relationship", id)
	}
	return r, nil
}

// UpdateRelationship stages a replacement of the relationship's properties.
// Endpoints and type are fixed at creation and preserved.
func (t *Txn) UpdateRelationship(r *Relationship) error {
	const op = "memstore.Txn.UpdateRelationship"
	if r == nil || r.ID == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "relationship ID is required"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone(op)
	}

	current, err := t.effectiveRelCopy(op, r.ID)
	if err != nil {
		return err
	}
	current.Props = copyProps(r.Props)
	if err := validateRel(t.registry, current); err != nil {
		return err
	}
	current.Updated = time.Now().UTC()
	t.pendingRels[current.ID] = current
	return nil
}

// DeleteRelationship stages removal of the relationship.
func (t *Txn) DeleteRelationship(id string) error {
	const op = "memstore.Txn.DeleteRelationship"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone(op)
	}
	if _, err := t.effectiveRelCopy(op, id); err != nil {
		return err
	}

	if _, created := t.createdRels[id]; created {
		delete(t.pendingRels, id)
		delete(t.createdRels, id)
		return nil
	}
	delete(t.pendingRels, id)
	t.deletedRels[id] = struct{}{}
	return nil
}

// GetNodesByLabel merges the base view with staged writes.
func (t *Txn) GetNodesByLabel(label string) ([]*Node, error) {
	const op = "memstore.Txn.GetNodesByLabel"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, errTxDone(op)
	}

	base, err := t.base.GetNodesByLabel(label)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(base)+len(t.pendingNodes))
	for _, n := range base {
		if _, gone := t.deletedNodes[n.ID]; gone {
			continue
		}
		if _, replaced := t.pendingNodes[n.ID]; replaced {
			continue
		}
		out = append(out, n)
	}
	for _, staged := range t.pendingNodes {
		if label == "" || hasLabel(staged, label) {
			out = append(out, copyNode(staged))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func hasLabel(n *Node, label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// GetRelationshipsByType merges the base view with staged writes.
func (t *Txn) GetRelationshipsByType(relType string) ([]*Relationship, error) {
	const op = "memstore.Txn.GetRelationshipsByType"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, errTxDone(op)
	}

	base, err := t.base.GetRelationshipsByType(relType)
	if err != nil {
		return nil, err
	}
	return t.mergeRels(base, func(r *Relationship) bool {
		return relType == "" || r.Type == relType
	}), nil
}

// GetOutgoing merges the base view with staged writes.
func (t *Txn) GetOutgoing(nodeID string) ([]*Relationship, error) {
	const op = "memstore.Txn.GetOutgoing"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, errTxDone(op)
	}

	base, err := t.base.GetOutgoing(nodeID)
	if err != nil {
		return nil, err
	}
	return t.mergeRels(base, func(r *Relationship) bool {
		return r.StartID == nodeID
	}), nil
}

// GetIncoming merges the base view with staged writes.
func (t *Txn) GetIncoming(nodeID string) ([]*Relationship, error) {
	const op = "memstore.Txn.GetIncoming"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, errTxDone(op)
	}

	base, err := t.base.GetIncoming(nodeID)
	if err != nil {
		return nil, err
	}
	return t.mergeRels(base, func(r *Relationship) bool {
		return r.EndID == nodeID
	}), nil
}

// mergeRels filters the base relationships through this transaction's staged
// deletes and replacements, then appends matching staged entries.
func (t *Txn) mergeRels(base []*Relationship, match func(*Relationship) bool) []*Relationship {
	out := make([]*Relationship, 0, len(base)+len(t.pendingRels))
	for _, r := range base {
		if _, gone := t.deletedRels[r.ID]; gone {
			continue
		}
		if _, replaced := t.pendingRels[r.ID]; replaced {
			continue
		}
		if !t.nodeExists(r.StartID) || !t.nodeExists(r.EndID) {
			continue
		}
		out = append(out, r)
	}
	for _, staged := range t.pendingRels {
		if match(staged) && t.nodeExists(staged.StartID) && t.nodeExists(staged.EndID) {
			out = append(out, copyRelationship(staged))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// nodeExists reports whether the node is visible to this transaction.
func (t *Txn) nodeExists(id string) bool {
	if _, gone := t.deletedNodes[id]; gone {
		return false
	}
	if _, ok := t.pendingNodes[id]; ok {
		return true
	}
	_, err := t.base.GetNode(id)
	return err == nil
}

// relExists reports whether the relationship is visible to this transaction.
func (t *Txn) relExists(id string) bool {
	if _, gone := t.deletedRels[id]; gone {
		return false
	}
	if _, ok := t.pendingRels[id]; ok {
		return true
	}
	_, err := t.base.GetRelationship(id)
	return err == nil
}

// effectiveNode returns the node as this transaction sees it, an internal
// variant of GetNode that does not copy staged entries.
func (t *Txn) effectiveNode(op, id string) (*Node, error) {
	if _, gone := t.deletedNodes[id]; gone {
		return nil, errNotFound(op, "node", id)
	}
	if staged, ok := t.pendingNodes[id]; ok {
		return staged, nil
	}
	return t.base.GetNode(id)
}

// Close rolls the transaction back if it is still open. It satisfies Engine
// so compiled statements can run inside a transaction.
func (t *Txn) Close() error {
	err := t.Rollback()
	if err != nil && graph.ErrorCode(err) == graph.ETxState {
		return nil
	}
	return err
}

// Rollback discards every staged write.
func (t *Txn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone("memstore.Txn.Rollback")
	}
	t.finishLocked()
	return nil
}

func (t *Txn) finishLocked() {
	t.done = true
	t.pendingNodes = nil
	t.createdNodes = nil
	t.pendingRels = nil
	t.createdRels = nil
	t.deletedNodes = nil
	t.deletedRels = nil
}

// Commit applies every staged write atomically. The whole batch is validated
// against the engine's current state before anything is written; the first
// conflict aborts the commit and leaves the engine untouched. The
// transaction is finished either way.
func (t *Txn) Commit() error {
	const op = "memstore.Txn.Commit"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone(op)
	}
	defer t.finishLocked()
	return t.committer.commitTxn(op, t)
}

// ---------------------------------------------------------------------------
// Store commit
// ---------------------------------------------------------------------------

// commitTxn applies a staged batch under the store lock.
func (s *Store) commitTxn(op string, t *Txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	if err := s.checkCommitLocked(op, t); err != nil {
		return err
	}
	s.applyCommitLocked(t)
	return nil
}

// checkCommitLocked validates the staged batch against the store's current
// state. It must cover everything applyCommitLocked assumes.
func (s *Store) checkCommitLocked(op string, t *Txn) error {
	for _, id := range sortedIDs(t.deletedRels) {
		if _, ok := s.rels[id]; !ok {
			return &graph.Error{Code: graph.EConflict, Op: op,
				Msg: "relationship " + id + " was removed by another transaction"}
		}
	}
	for _, id := range sortedIDs(t.deletedNodes) {
		if _, ok := s.nodes[id]; !ok {
			return &graph.Error{Code: graph.EConflict, Op: op,
				Msg: "node " + id + " was removed by another transaction"}
		}
	}

	exists := func(id string) bool {
		if _, ok := t.pendingNodes[id]; ok {
			return true
		}
		if _, gone := t.deletedNodes[id]; gone {
			return false
		}
		_, ok := s.nodes[id]
		return ok
	}

	// Claim keys freed by this batch: old versions of updated nodes and
	// deleted nodes give their values up.
	released := make(map[string]struct{})
	for id := range t.deletedNodes {
		for _, c := range claimsFor(s.registry, s.nodes[id]) {
			released[c.key] = struct{}{}
		}
	}
	for id := range t.pendingNodes {
		if _, created := t.createdNodes[id]; created {
			continue
		}
		if old, ok := s.nodes[id]; ok {
			for _, c := range claimsFor(s.registry, old) {
				released[c.key] = struct{}{}
			}
		}
	}

	scratch := make(map[string]string)
	for _, id := range sortedNodeIDs(t.pendingNodes) {
		staged := t.pendingNodes[id]
		_, created := t.createdNodes[id]
		_, stored := s.nodes[id]
		if created && stored {
			return &graph.Error{Code: graph.EConflict, Op: op, Msg: "node " + id + " already exists"}
		}
		if !created && !stored {
			return &graph.Error{Code: graph.EConflict, Op: op,
				Msg: "node " + id + " was removed by another transaction"}
		}
		if err := validateNode(s.registry, staged); err != nil {
			return err
		}
		for _, c := range claimsFor(s.registry, staged) {
			if owner, taken := s.constraints[c.key]; taken && owner != id {
				if _, freed := released[c.key]; !freed {
					return &graph.Error{Code: graph.EConflict, Op: op, Msg: c.violation.Error()}
				}
			}
			if prev, taken := scratch[c.key]; taken && prev != id {
				return &graph.Error{Code: graph.EConflict, Op: op, Msg: c.violation.Error()}
			}
			scratch[c.key] = id
		}
	}

	for _, id := range sortedRelIDs(t.pendingRels) {
		staged := t.pendingRels[id]
		_, created := t.createdRels[id]
		_, stored := s.rels[id]
		if created && stored {
			return &graph.Error{Code: graph.EConflict, Op: op, Msg: "relationship " + id + " already exists"}
		}
		if !created && !stored {
			return &graph.Error{Code: graph.EConflict, Op: op,
				Msg: "relationship " + id + " was removed by another transaction"}
		}
		if !exists(staged.StartID) {
			return errNotFound(op, "start node", staged.StartID)
		}
		if !exists(staged.EndID) {
			return errNotFound(op, "end node", staged.EndID)
		}
		if err := validateRel(s.registry, staged); err != nil {
			return err
		}
	}
	return nil
}

// applyCommitLocked writes the staged batch into the store. The batch has
// already been validated; nothing here can fail.
func (s *Store) applyCommitLocked(t *Txn) {
	for _, id := range sortedIDs(t.deletedRels) {
		s.detachRelLocked(id)
	}
	for _, id := range sortedIDs(t.deletedNodes) {
		if n, ok := s.nodes[id]; ok {
			s.removeNodeLocked(n)
		}
	}
	for _, id := range sortedNodeIDs(t.pendingNodes) {
		staged := copyNode(t.pendingNodes[id])
		if existing, ok := s.nodes[id]; ok {
			s.unindexNodeLocked(existing)
			staged.Created = existing.Created
		}
		s.putNodeLocked(staged)
	}
	for _, id := range sortedRelIDs(t.pendingRels) {
		staged := copyRelationship(t.pendingRels[id])
		if existing, ok := s.rels[id]; ok {
			staged.Type = existing.Type
			staged.StartID = existing.StartID
			staged.EndID = existing.EndID
			staged.Created = existing.Created
			s.rels[id] = staged
			continue
		}
		s.putRelLocked(staged)
	}
}

func sortedIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedNodeIDs(m map[string]*Node) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedRelIDs(m map[string]*Relationship) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
