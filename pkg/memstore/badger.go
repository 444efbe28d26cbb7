package memstore

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/schema"
)

// Key prefixes for the BadgerDB layout. Single-byte prefixes keep keys
// short; composite index keys separate their parts with 0x00.
const (
	prefixNode     = byte(0x01) // 0x01 + nodeID -> storedNode JSON
	prefixRel      = byte(0x02) // 0x02 + relID -> storedRel JSON
	prefixLabelIdx = byte(0x03) // 0x03 + label + 0x00 + nodeID -> empty
	prefixOutIdx   = byte(0x04) // 0x04 + nodeID + 0x00 + relID -> empty
	prefixInIdx    = byte(0x05) // 0x05 + nodeID + 0x00 + relID -> empty
	prefixTypeIdx  = byte(0x06) // 0x06 + relType + 0x00 + relID -> empty
	prefixClaimIdx = byte(0x07) // 0x07 + claim key -> owning nodeID
)

// keyDerivationIterations is the PBKDF2 round count for deriving the
// BadgerDB encryption key from a passphrase.
const keyDerivationIterations = 600000

// BadgerStore is a persistent graph engine backed by BadgerDB.
//
// It implements the same Engine surface as the in-memory Store, with the
// same label, adjacency and type indexes kept as key ranges, and the same
// constraint claims when a registry is attached. Every operation runs in a
// BadgerDB transaction, so single calls are atomic; Begin stages a batch
// that commits in one transaction.
//
// Setting a passphrase enables encryption at rest: the BadgerDB data key is
// derived from the passphrase with PBKDF2-SHA256.
type BadgerStore struct {
	db       *badger.DB
	registry *schema.Registry
	logger   *zap.Logger
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in RAM. Useful for tests; nothing is
	// persisted.
	InMemory bool

	// SyncWrites forces an fsync after each write. Slower but durable.
	SyncWrites bool

	// Passphrase enables encryption at rest when non-empty.
	Passphrase string

	// Salt feeds key derivation. A fixed default is used when empty;
	// production deployments should supply their own.
	Salt []byte

	// Registry enables descriptor validation and constraint enforcement.
	Registry *schema.Registry

	// Logger receives BadgerDB's internal log output. Defaults to a
	// no-op logger.
	Logger *zap.Logger
}

// NewBadgerStore opens a persistent store in opts.Dir.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	const op = "memstore.NewBadgerStore"

	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, &graph.Error{Code: graph.EInvalid, Op: op, Msg: "data directory is required"}
		}
		badgerOpts = badger.DefaultOptions(opts.Dir)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	badgerOpts = badgerOpts.WithLogger(badgerZap{logger.Sugar()})

	if opts.Passphrase != "" {
		salt := opts.Salt
		if len(salt) == 0 {
			salt = []byte("grom-badger-key-derivation-salt")
		}
		key := pbkdf2.Key([]byte(opts.Passphrase), salt, keyDerivationIterations, 32, sha256.New)
		badgerOpts = badgerOpts.WithEncryptionKey(key)
	}

	// Sized for embedded use rather than a dedicated database host. The
	// index cache must be non-zero when encryption is enabled.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, &graph.Error{Code: graph.EInternal, Op: op, Msg: "opening badger", Err: err}
	}
	return &BadgerStore{db: db, registry: opts.Registry, logger: logger}, nil
}

// NewBadgerStoreInMemory opens a throwaway in-memory store for tests.
func NewBadgerStoreInMemory(reg *schema.Registry) (*BadgerStore, error) {
	return NewBadgerStore(BadgerOptions{InMemory: true, Registry: reg})
}

// badgerZap adapts a zap logger to badger.Logger.
type badgerZap struct {
	s *zap.SugaredLogger
}

func (l badgerZap) Errorf(format string, args ...any)   { l.s.Errorf(format, args...) }
func (l badgerZap) Warningf(format string, args ...any) { l.s.Warnf(format, args...) }
func (l badgerZap) Infof(format string, args ...any)    { l.s.Debugf(format, args...) }
func (l badgerZap) Debugf(format string, args ...any)   { l.s.Debugf(format, args...) }

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

func nodeKey(id string) []byte {
	return append([]byte{prefixNode}, id...)
}

func relKey(id string) []byte {
	return append([]byte{prefixRel}, id...)
}

func indexKey(prefix byte, part, id string) []byte {
	key := make([]byte, 0, 1+len(part)+1+len(id))
	key = append(key, prefix)
	key = append(key, part...)
	key = append(key, 0x00)
	key = append(key, id...)
	return key
}

func indexPrefix(prefix byte, part string) []byte {
	key := make([]byte, 0, 1+len(part)+1)
	key = append(key, prefix)
	key = append(key, part...)
	key = append(key, 0x00)
	return key
}

func claimIdxKey(key string) []byte {
	return append([]byte{prefixClaimIdx}, key...)
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

// taggedValue is the JSON form of one property value. Plain JSON would decode
// integers as float64 and timestamps as strings, so values carry a kind tag
// and int64 rides as a string to keep full precision.
type taggedValue struct {
	Kind string   `json:"k"`
	Str  string   `json:"s,omitempty"`
	Num  float64  `json:"n,omitempty"`
	Bool bool     `json:"b,omitempty"`
	List []string `json:"l,omitempty"`
}

type storedNode struct {
	ID      string                 `json:"id"`
	Labels  []string               `json:"labels"`
	Props   map[string]taggedValue `json:"props,omitempty"`
	Created int64                  `json:"created"`
	Updated int64                  `json:"updated"`
}

type storedRel struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	StartID string                 `json:"start"`
	EndID   string                 `json:"end"`
	Props   map[string]taggedValue `json:"props,omitempty"`
	Created int64                  `json:"created"`
	Updated int64                  `json:"updated"`
}

func encodeValue(v any) (taggedValue, error) {
	nv, err := graph.NormalizeValue(v)
	if err != nil {
		return taggedValue{}, err
	}
	switch t := nv.(type) {
	case string:
		return taggedValue{Kind: "s", Str: t}, nil
	case int64:
		return taggedValue{Kind: "i", Str: strconv.FormatInt(t, 10)}, nil
	case float64:
		return taggedValue{Kind: "f", Num: t}, nil
	case bool:
		return taggedValue{Kind: "b", Bool: t}, nil
	case time.Time:
		return taggedValue{Kind: "t", Str: t.UTC().Format(time.RFC3339Nano)}, nil
	case []string:
		return taggedValue{Kind: "l", List: t}, nil
	default:
		return taggedValue{}, &graph.Error{Code: graph.EInvalid,
			Msg: "property values must be flattened scalars"}
	}
}

func decodeValue(tv taggedValue) (any, error) {
	switch tv.Kind {
	case "s":
		return tv.Str, nil
	case "i":
		return strconv.ParseInt(tv.Str, 10, 64)
	case "f":
		return tv.Num, nil
	case "b":
		return tv.Bool, nil
	case "t":
		return time.Parse(time.RFC3339Nano, tv.Str)
	case "l":
		if tv.List == nil {
			return []string{}, nil
		}
		return tv.List, nil
	default:
		return nil, &graph.Error{Code: graph.EInternal, Msg: "unknown stored value kind " + strconv.Quote(tv.Kind)}
	}
}

func encodeProps(props map[string]any) (map[string]taggedValue, error) {
	if len(props) == 0 {
		return nil, nil
	}
	out := make(map[string]taggedValue, len(props))
	for k, v := range props {
		tv, err := encodeValue(v)
		if err != nil {
			return nil, &graph.Error{Msg: "property " + strconv.Quote(k), Err: err}
		}
		out[k] = tv
	}
	return out, nil
}

func decodeProps(stored map[string]taggedValue) (map[string]any, error) {
	out := make(map[string]any, len(stored))
	for k, tv := range stored {
		v, err := decodeValue(tv)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func encodeNode(n *Node) ([]byte, error) {
	props, err := encodeProps(n.Props)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedNode{
		ID:      n.ID,
		Labels:  n.Labels,
		Props:   props,
		Created: n.Created.UnixNano(),
		Updated: n.Updated.UnixNano(),
	})
}

func decodeNode(data []byte) (*Node, error) {
	var sn storedNode
	if err := json.Unmarshal(data, &sn); err != nil {
		return nil, err
	}
	props, err := decodeProps(sn.Props)
	if err != nil {
		return nil, err
	}
	return &Node{
		ID:      sn.ID,
		Labels:  sn.Labels,
		Props:   props,
		Created: nanoTime(sn.Created),
		Updated: nanoTime(sn.Updated),
	}, nil
}

func encodeRel(r *Relationship) ([]byte, error) {
	props, err := encodeProps(r.Props)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedRel{
		ID:      r.ID,
		Type:    r.Type,
		StartID: r.StartID,
		EndID:   r.EndID,
		Props:   props,
		Created: r.Created.UnixNano(),
		Updated: r.Updated.UnixNano(),
	})
}

func decodeRel(data []byte) (*Relationship, error) {
	var sr storedRel
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, err
	}
	props, err := decodeProps(sr.Props)
	if err != nil {
		return nil, err
	}
	return &Relationship{
		ID:      sr.ID,
		Type:    sr.Type,
		StartID: sr.StartID,
		EndID:   sr.EndID,
		Props:   props,
		Created: nanoTime(sr.Created),
		Updated: nanoTime(sr.Updated),
	}, nil
}

func nanoTime(ns int64) time.Time {
	if ns <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// ---------------------------------------------------------------------------
// Node operations
// ---------------------------------------------------------------------------

// CreateNode stores a new node. An empty ID is assigned; a duplicate ID is
// a conflict.
func (b *BadgerStore) CreateNode(n *Node) error {
	const op = "memstore.BadgerStore.CreateNode"
	if n == nil {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil node"}
	}

	if n.ID == "" {
		n.ID = graph.NewID()
	}
	now := time.Now().UTC()
	if n.Created.IsZero() {
		n.Created = now
	}
	n.Updated = now

	err := b.db.Update(func(txn *badger.Txn) error {
		return b.createNodeTxn(op, txn, n)
	})
	return b.wrap(op, err)
}

func (b *BadgerStore) createNodeTxn(op string, txn *badger.Txn, n *Node) error {
	key := nodeKey(n.ID)
	if _, err := txn.Get(key); err == nil {
		return &graph.Error{Code: graph.EConflict, Op: op, Msg: "node " + n.ID + " already exists"}
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	if err := validateNode(b.registry, n); err != nil {
		return err
	}
	if err := b.checkClaimsTxn(op, txn, n, ""); err != nil {
		return err
	}
	return b.putNodeTxn(txn, n)
}

// putNodeTxn writes the node record, its label index entries and its claims.
func (b *BadgerStore) putNodeTxn(txn *badger.Txn, n *Node) error {
	data, err := encodeNode(n)
	if err != nil {
		return err
	}
	if err := txn.Set(nodeKey(n.ID), data); err != nil {
		return err
	}
	for _, label := range n.Labels {
		if err := txn.Set(indexKey(prefixLabelIdx, label, n.ID), nil); err != nil {
			return err
		}
	}
	for _, c := range claimsFor(b.registry, n) {
		if err := txn.Set(claimIdxKey(c.key), []byte(n.ID)); err != nil {
			return err
		}
	}
	return nil
}

// unindexNodeTxn removes the node's label index entries and the claims it
// owns, leaving the node record alone.
func (b *BadgerStore) unindexNodeTxn(txn *badger.Txn, n *Node) error {
	for _, label := range n.Labels {
		if err := txn.Delete(indexKey(prefixLabelIdx, label, n.ID)); err != nil {
			return err
		}
	}
	for _, c := range claimsFor(b.registry, n) {
		owner, err := b.claimOwnerTxn(txn, c.key)
		if err != nil {
			return err
		}
		if owner == n.ID {
			if err := txn.Delete(claimIdxKey(c.key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *BadgerStore) claimOwnerTxn(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get(claimIdxKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var owner string
	err = item.Value(func(val []byte) error {
		owner = string(val)
		return nil
	})
	return owner, err
}

func (b *BadgerStore) checkClaimsTxn(op string, txn *badger.Txn, n *Node, excludeID string) error {
	for _, c := range claimsFor(b.registry, n) {
		owner, err := b.claimOwnerTxn(txn, c.key)
		if err != nil {
			return err
		}
		if owner != "" && owner != excludeID {
			v := c.violation
			return &graph.Error{Code: graph.EConflict, Op: op, Msg: v.Error()}
		}
	}
	return nil
}

// GetNode returns the node with the given ID.
func (b *BadgerStore) GetNode(id string) (*Node, error) {
	const op = "memstore.BadgerStore.GetNode"
	var n *Node
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = b.getNodeTxn(op, txn, id)
		return err
	})
	if err != nil {
		return nil, b.wrap(op, err)
	}
	return n, nil
}

func (b *BadgerStore) getNodeTxn(op string, txn *badger.Txn, id string) (*Node, error) {
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errNotFound(op, "node", id)
	}
	if err != nil {
		return nil, err
	}
	var n *Node
	err = item.Value(func(val []byte) error {
		var derr error
		n, derr = decodeNode(val)
		return derr
	})
	return n, err
}

// UpdateNode replaces the stored node's labels and properties.
func (b *BadgerStore) UpdateNode(n *Node) error {
	const op = "memstore.BadgerStore.UpdateNode"
	if n == nil || n.ID == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "node ID is required"}
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return b.updateNodeTxn(op, txn, n)
	})
	return b.wrap(op, err)
}

func (b *BadgerStore) updateNodeTxn(op string, txn *badger.Txn, n *Node) error {
	existing, err := b.getNodeTxn(op, txn, n.ID)
	if err != nil {
		return err
	}
	if err := validateNode(b.registry, n); err != nil {
		return err
	}
	if err := b.checkClaimsTxn(op, txn, n, n.ID); err != nil {
		return err
	}
	if err := b.unindexNodeTxn(txn, existing); err != nil {
		return err
	}
	stored := copyNode(n)
	stored.Created = existing.Created
	stored.Updated = time.Now().UTC()
	return b.putNodeTxn(txn, stored)
}

// DeleteNode removes the node and every relationship attached to it.
func (b *BadgerStore) DeleteNode(id string) error {
	const op = "memstore.BadgerStore.DeleteNode"
	err := b.db.Update(func(txn *badger.Txn) error {
		return b.deleteNodeTxn(op, txn, id)
	})
	return b.wrap(op, err)
}

func (b *BadgerStore) deleteNodeTxn(op string, txn *badger.Txn, id string) error {
	n, err := b.getNodeTxn(op, txn, id)
	if err != nil {
		return err
	}
	for _, relID := range scanIndex(txn, indexPrefix(prefixOutIdx, id)) {
		if err := b.deleteRelTxn(op, txn, relID); err != nil {
			return err
		}
	}
	for _, relID := range scanIndex(txn, indexPrefix(prefixInIdx, id)) {
		if err := b.deleteRelTxn(op, txn, relID); err != nil {
			return err
		}
	}
	if err := b.unindexNodeTxn(txn, n); err != nil {
		return err
	}
	return txn.Delete(nodeKey(id))
}

// ---------------------------------------------------------------------------
// Relationship operations
// ---------------------------------------------------------------------------

// CreateRelationship stores a new relationship. Both endpoints must exist.
func (b *BadgerStore) CreateRelationship(r *Relationship) error {
	const op = "memstore.BadgerStore.CreateRelationship"
	if r == nil {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "nil relationship"}
	}
	if r.Type == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "relationship type is required"}
	}

	if r.ID == "" {
		r.ID = graph.NewID()
	}
	now := time.Now().UTC()
	if r.Created.IsZero() {
		r.Created = now
	}
	r.Updated = now

	err := b.db.Update(func(txn *badger.Txn) error {
		return b.createRelTxn(op, txn, r)
	})
	return b.wrap(op, err)
}

func (b *BadgerStore) createRelTxn(op string, txn *badger.Txn, r *Relationship) error {
	if _, err := txn.Get(relKey(r.ID)); err == nil {
		return &graph.Error{Code: graph.EConflict, Op: op, Msg: "relationship " + r.ID + " already exists"}
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	if _, err := txn.Get(nodeKey(r.StartID)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errNotFound(op, "start node", r.StartID)
		}
		return err
	}
	if _, err := txn.Get(nodeKey(r.EndID)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errNotFound(op, "end node", r.EndID)
		}
		return err
	}
	if err := validateRel(b.registry, r); err != nil {
		return err
	}
	return b.putRelTxn(txn, r)
}

// putRelTxn writes the relationship record and its type and adjacency index
// entries.
func (b *BadgerStore) putRelTxn(txn *badger.Txn, r *Relationship) error {
	data, err := encodeRel(r)
	if err != nil {
		return err
	}
	if err := txn.Set(relKey(r.ID), data); err != nil {
		return err
	}
	if err := txn.Set(indexKey(prefixTypeIdx, r.Type, r.ID), nil); err != nil {
		return err
	}
	if err := txn.Set(indexKey(prefixOutIdx, r.StartID, r.ID), nil); err != nil {
		return err
	}
	return txn.Set(indexKey(prefixInIdx, r.EndID, r.ID), nil)
}

func (b *BadgerStore) deleteRelTxn(op string, txn *badger.Txn, id string) error {
	r, err := b.getRelTxn(op, txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(indexKey(prefixTypeIdx, r.Type, r.ID)); err != nil {
		return err
	}
	if err := txn.Delete(indexKey(prefixOutIdx, r.StartID, r.ID)); err != nil {
		return err
	}
	if err := txn.Delete(indexKey(prefixInIdx, r.EndID, r.ID)); err != nil {
		return err
	}
	return txn.Delete(relKey(id))
}

// GetRelationship returns the relationship with the given ID.
func (b *BadgerStore) GetRelationship(id string) (*Relationship, error) {
	const op = "memstore.BadgerStore.GetRelationship"
	var r *Relationship
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = b.getRelTxn(op, txn, id)
		return err
	})
	if err != nil {
		return nil, b.wrap(op, err)
	}
	return r, nil
}

func (b *BadgerStore) getRelTxn(op string, txn *badger.Txn, id string) (*Relationship, error) {
	item, err := txn.Get(relKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errNotFound(op, "relationship", id)
	}
	if err != nil {
		return nil, err
	}
	var r *Relationship
	err = item.Value(func(val []byte) error {
		var derr error
		r, derr = decodeRel(val)
		return derr
	})
	return r, err
}

// UpdateRelationship replaces the relationship's properties. Endpoints and
// type are fixed at creation and preserved.
func (b *BadgerStore) UpdateRelationship(r *Relationship) error {
	const op = "memstore.BadgerStore.UpdateRelationship"
	if r == nil || r.ID == "" {
		return &graph.Error{Code: graph.EInvalid, Op: op, Msg: "relationship ID is required"}
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		existing, err := b.getRelTxn(op, txn, r.ID)
		if err != nil {
			return err
		}
		probe := copyRelationship(existing)
		probe.Props = copyProps(r.Props)
		if err := validateRel(b.registry, probe); err != nil {
			return err
		}
		probe.Updated = time.Now().UTC()
		data, err := encodeRel(probe)
		if err != nil {
			return err
		}
		return txn.Set(relKey(probe.ID), data)
	})
	return b.wrap(op, err)
}

// DeleteRelationship removes the relationship.
func (b *BadgerStore) DeleteRelationship(id string) error {
	const op = "memstore.BadgerStore.DeleteRelationship"
	err := b.db.Update(func(txn *badger.Txn) error {
		return b.deleteRelTxn(op, txn, id)
	})
	return b.wrap(op, err)
}

// ---------------------------------------------------------------------------
// Scans
// ---------------------------------------------------------------------------

// scanIndex collects the trailing ID of every index key under the prefix.
func scanIndex(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		ids = append(ids, string(key[len(prefix):]))
	}
	return ids
}

// GetNodesByLabel returns nodes carrying the label, or every node when the
// label is empty, sorted by ID.
func (b *BadgerStore) GetNodesByLabel(label string) ([]*Node, error) {
	const op = "memstore.BadgerStore.GetNodesByLabel"
	var out []*Node
	err := b.db.View(func(txn *badger.Txn) error {
		if label == "" {
			nodes, err := b.scanAllNodes(txn)
			out = nodes
			return err
		}
		for _, id := range scanIndex(txn, indexPrefix(prefixLabelIdx, label)) {
			n, err := b.getNodeTxn(op, txn, id)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	if err != nil {
		return nil, b.wrap(op, err)
	}
	return out, nil
}

func (b *BadgerStore) scanAllNodes(txn *badger.Txn) ([]*Node, error) {
	prefix := []byte{prefixNode}
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []*Node
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var n *Node
		err := it.Item().Value(func(val []byte) error {
			var derr error
			n, derr = decodeNode(val)
			return derr
		})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// GetRelationshipsByType returns relationships of the given type, or every
// relationship when relType is empty, sorted by ID.
func (b *BadgerStore) GetRelationshipsByType(relType string) ([]*Relationship, error) {
	const op = "memstore.BadgerStore.GetRelationshipsByType"
	var out []*Relationship
	err := b.db.View(func(txn *badger.Txn) error {
		if relType == "" {
			rels, err := b.scanAllRels(txn)
			out = rels
			return err
		}
		for _, id := range scanIndex(txn, indexPrefix(prefixTypeIdx, relType)) {
			r, err := b.getRelTxn(op, txn, id)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, b.wrap(op, err)
	}
	return out, nil
}

func (b *BadgerStore) scanAllRels(txn *badger.Txn) ([]*Relationship, error) {
	prefix := []byte{prefixRel}
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []*Relationship
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var r *Relationship
		err := it.Item().Value(func(val []byte) error {
			var derr error
			r, derr = decodeRel(val)
			return derr
		})
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// GetOutgoing returns relationships starting at the node, sorted by ID.
func (b *BadgerStore) GetOutgoing(nodeID string) ([]*Relationship, error) {
	return b.adjacent("memstore.BadgerStore.GetOutgoing", prefixOutIdx, nodeID)
}

// GetIncoming returns relationships ending at the node, sorted by ID.
func (b *BadgerStore) GetIncoming(nodeID string) ([]*Relationship, error) {
	return b.adjacent("memstore.BadgerStore.GetIncoming", prefixInIdx, nodeID)
}

func (b *BadgerStore) adjacent(op string, prefix byte, nodeID string) ([]*Relationship, error) {
	var out []*Relationship
	err := b.db.View(func(txn *badger.Txn) error {
		for _, id := range scanIndex(txn, indexPrefix(prefix, nodeID)) {
			r, err := b.getRelTxn(op, txn, id)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, b.wrap(op, err)
	}
	return out, nil
}

// Close releases the database. Further operations fail.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// wrap maps raw badger errors to internal errors, leaving already-classified
// errors alone.
func (b *BadgerStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *graph.Error
	if errors.As(err, &gerr) {
		return err
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return errClosed(op)
	}
	return &graph.Error{Code: graph.EInternal, Op: op, Err: err}
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// Begin opens a buffered transaction whose commit applies in one BadgerDB
// transaction. Very large batches can exceed BadgerDB's transaction size
// limit and fail at commit.
func (b *BadgerStore) Begin() (EngineTx, error) {
	if b.db.IsClosed() {
		return nil, errClosed("memstore.BadgerStore.Begin")
	}
	return newTxn(b, b.registry, b), nil
}

// commitTxn applies a staged batch inside a single BadgerDB transaction.
func (b *BadgerStore) commitTxn(op string, t *Txn) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := b.checkCommitTxn(op, txn, t); err != nil {
			return err
		}
		return b.applyCommitTxn(op, txn, t)
	})
	return b.wrap(op, err)
}

// checkCommitTxn validates the staged batch against current state, mirroring
// the in-memory store's commit checks.
func (b *BadgerStore) checkCommitTxn(op string, txn *badger.Txn, t *Txn) error {
	hasKey := func(key []byte) (bool, error) {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}

	for _, id := range sortedIDs(t.deletedRels) {
		ok, err := hasKey(relKey(id))
		if err != nil {
			return err
		}
		if !ok {
			return &graph.Error{Code: graph.EConflict, Op: op,
				Msg: "relationship " + id + " was removed by another transaction"}
		}
	}
	for _, id := range sortedIDs(t.deletedNodes) {
		ok, err := hasKey(nodeKey(id))
		if err != nil {
			return err
		}
		if !ok {
			return &graph.Error{Code: graph.EConflict, Op: op,
				Msg: "node " + id + " was removed by another transaction"}
		}
	}

	exists := func(id string) (bool, error) {
		if _, ok := t.pendingNodes[id]; ok {
			return true, nil
		}
		if _, gone := t.deletedNodes[id]; gone {
			return false, nil
		}
		return hasKey(nodeKey(id))
	}

	released := make(map[string]struct{})
	collectReleased := func(id string) error {
		old, err := b.getNodeTxn(op, txn, id)
		if err != nil {
			return err
		}
		for _, c := range claimsFor(b.registry, old) {
			released[c.key] = struct{}{}
		}
		return nil
	}
	for id := range t.deletedNodes {
		if err := collectReleased(id); err != nil {
			return err
		}
	}
	for id := range t.pendingNodes {
		if _, created := t.createdNodes[id]; created {
			continue
		}
		if err := collectReleased(id); err != nil {
			return err
		}
	}

	scratch := make(map[string]string)
	for _, id := range sortedNodeIDs(t.pendingNodes) {
		staged := t.pendingNodes[id]
		_, created := t.createdNodes[id]
		stored, err := hasKey(nodeKey(id))
		if err != nil {
			return err
		}
		if created && stored {
			return &graph.Error{Code: graph.EConflict, Op: op, Msg: "node " + id + " already exists"}
		}
		if !created && !stored {
			return &graph.Error{Code: graph.EConflict, Op: op,
				Msg: "node " + id + " was removed by another transaction"}
		}
		if err := validateNode(b.registry, staged); err != nil {
			return err
		}
		for _, c := range claimsFor(b.registry, staged) {
			owner, err := b.claimOwnerTxn(txn, c.key)
			if err != nil {
				return err
			}
			if owner != "" && owner != id {
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
		stored, err := hasKey(relKey(id))
		if err != nil {
			return err
		}
		if created && stored {
			return &graph.Error{Code: graph.EConflict, Op: op, Msg: "relationship " + id + " already exists"}
		}
		if !created && !stored {
			return &graph.Error{Code: graph.EConflict, Op: op,
				Msg: "relationship " + id + " was removed by another transaction"}
		}
		if ok, err := exists(staged.StartID); err != nil {
			return err
		} else if !ok {
			return errNotFound(op, "start node", staged.StartID)
		}
		if ok, err := exists(staged.EndID); err != nil {
			return err
		} else if !ok {
			return errNotFound(op, "end node", staged.EndID)
		}
		if err := validateRel(b.registry, staged); err != nil {
			return err
		}
	}
	return nil
}

// applyCommitTxn writes the staged batch. The batch has been validated, so
// only storage errors can surface here, and they abort the whole BadgerDB
// transaction.
func (b *BadgerStore) applyCommitTxn(op string, txn *badger.Txn, t *Txn) error {
	for _, id := range sortedIDs(t.deletedRels) {
		if err := b.deleteRelTxn(op, txn, id); err != nil {
			return err
		}
	}
	for _, id := range sortedIDs(t.deletedNodes) {
		if err := b.deleteNodeTxn(op, txn, id); err != nil {
			return err
		}
	}
	for _, id := range sortedNodeIDs(t.pendingNodes) {
		staged := copyNode(t.pendingNodes[id])
		if _, created := t.createdNodes[id]; !created {
			existing, err := b.getNodeTxn(op, txn, id)
			if err != nil {
				return err
			}
			if err := b.unindexNodeTxn(txn, existing); err != nil {
				return err
			}
			staged.Created = existing.Created
		}
		if err := b.putNodeTxn(txn, staged); err != nil {
			return err
		}
	}
	for _, id := range sortedRelIDs(t.pendingRels) {
		staged := copyRelationship(t.pendingRels[id])
		if _, created := t.createdRels[id]; !created {
			existing, err := b.getRelTxn(op, txn, id)
			if err != nil {
				return err
			}
			staged.Type = existing.Type
			staged.StartID = existing.StartID
			staged.EndID = existing.EndID
			staged.Created = existing.Created
			data, err := encodeRel(staged)
			if err != nil {
				return err
			}
			if err := txn.Set(relKey(id), data); err != nil {
				return err
			}
			continue
		}
		if err := b.putRelTxn(txn, staged); err != nil {
			return err
		}
	}
	return nil
}
