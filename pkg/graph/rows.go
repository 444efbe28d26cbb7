package graph

// Wire-neutral result values. Storage clients translate their native rows
// into these shapes so the mapping layer can decode entities without
// knowing which engine produced them.

// NodeValue is a node as returned from a query.
type NodeValue struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// RelValue is a relationship as returned from a query.
type RelValue struct {
	ID      string
	Type    string
	StartID string
	EndID   string
	Props   map[string]any
}

// Record is one result row, keyed by column name. Values are canonical
// scalars, *NodeValue, *RelValue, or lists of those.
type Record map[string]any

// Rows is an ordered result set.
type Rows struct {
	Columns []string
	Records []Record
}

// Value returns the named column of record i.
func (r *Rows) Value(i int, column string) (any, bool) {
	if r == nil || i < 0 || i >= len(r.Records) {
		return nil, false
	}
	v, ok := r.Records[i][column]
	return v, ok
}

// First returns the first record, or nil when the set is empty.
func (r *Rows) First() Record {
	if r == nil || len(r.Records) == 0 {
		return nil
	}
	return r.Records[0]
}

// Len returns the number of records.
func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Records)
}
