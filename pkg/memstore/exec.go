package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/orneryd/grom/pkg/graph"
)

// The statement executor: one parsed statement evaluated clause by clause
// against an engine. Reading clauses transform a working set of variable
// bindings; writing clauses stage creations so a trailing SET lands before
// the element is validated and persisted.

// binding maps pattern variables to their matched values: *Node,
// *Relationship, []*Relationship for variable-length hops, or scalars
// introduced by WITH and UNWIND.
type binding map[string]any

func (b binding) clone() binding {
	out := make(binding, len(b)+2)
	for k, v := range b {
		out[k] = v
	}
	return out
}

// pendingCreate is a staged element. Relationships resolve their endpoint
// IDs at flush time, after the endpoint nodes have been assigned theirs.
type pendingCreate struct {
	node       *Node
	rel        *Relationship
	start, end *Node
}

type executor struct {
	eng    Engine
	params map[string]any

	pending []pendingCreate
	// staged marks elements created but not yet flushed, so SET rewrites
	// them in place instead of issuing an engine update.
	staged map[any]bool
}

func (ex *executor) errf(op, format string, a ...any) error {
	return &graph.Error{Code: graph.EInvalid, Op: op, Msg: fmt.Sprintf(format, a...)}
}

func (ex *executor) exec(ctx context.Context, ast *stmtAST) (*graph.Rows, error) {
	rows := []binding{{}}

	for i := 0; i < len(ast.clauses); i++ {
		// Cancellation is honored between clauses, never mid-clause.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		switch cl := ast.clauses[i].(type) {
		case matchClause:
			if err = ex.flush(); err != nil {
				return nil, err
			}
			rows, err = ex.match(rows, cl)
		case whereClause:
			rows, err = ex.filter(rows, cl.cond)
		case unwindClause:
			rows, err = ex.unwind(rows, cl)
		case withClause:
			rows, err = ex.with(rows, cl)
		case createClause:
			rows, err = ex.create(rows, cl)
		case setClause:
			err = ex.set(rows, cl)
		case deleteClause:
			if err = ex.flush(); err != nil {
				return nil, err
			}
			err = ex.delete(rows, cl)
		case returnClause:
			if err = ex.flush(); err != nil {
				return nil, err
			}
			return ex.ret(rows, cl, ast.clauses[i+1:])
		case orderClause, skipClause, limitClause:
			err = ex.errf("memstore.exec", "ORDER BY, SKIP and LIMIT must follow RETURN")
		default:
			err = ex.errf("memstore.exec", "unsupported clause %T", cl)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := ex.flush(); err != nil {
		return nil, err
	}
	return &graph.Rows{}, nil
}

// flush persists staged creations in order: nodes first so relationship
// endpoints resolve. Engine validation and constraint checks run here, after
// any SET has put the final property bag in place.
func (ex *executor) flush() error {
	for _, p := range ex.pending {
		if p.node != nil {
			if err := ex.eng.CreateNode(p.node); err != nil {
				return err
			}
			delete(ex.staged, p.node)
			continue
		}
		p.rel.StartID = p.start.ID
		p.rel.EndID = p.end.ID
		if err := ex.eng.CreateRelationship(p.rel); err != nil {
			return err
		}
		delete(ex.staged, p.rel)
	}
	ex.pending = nil
	return nil
}

// ---------------------------------------------------------------------------
// MATCH
// ---------------------------------------------------------------------------

func (ex *executor) match(rows []binding, mc matchClause) ([]binding, error) {
	for _, pat := range mc.patterns {
		var next []binding
		for _, b := range rows {
			expanded, err := ex.matchPattern(b, pat)
			if err != nil {
				return nil, err
			}
			next = append(next, expanded...)
		}
		rows = next
	}
	return rows, nil
}

type matchState struct {
	b    binding
	node *Node
}

func (ex *executor) matchPattern(b binding, pat pattern) ([]binding, error) {
	states, err := ex.startStates(b, pat.start)
	if err != nil {
		return nil, err
	}
	for _, h := range pat.hops {
		var next []matchState
		for _, st := range states {
			expanded, err := ex.expandHop(st, h)
			if err != nil {
				return nil, err
			}
			next = append(next, expanded...)
		}
		states = next
	}
	out := make([]binding, len(states))
	for i, st := range states {
		out[i] = st.b
	}
	return out, nil
}

func (ex *executor) startStates(b binding, np nodePat) ([]matchState, error) {
	if np.variable != "" {
		if bound, ok := b[np.variable]; ok {
			n, ok := bound.(*Node)
			if !ok {
				return nil, ex.errf("memstore.match", "variable %s is not a node", np.variable)
			}
			ok, err := ex.nodeMatches(b, np, n)
			if err != nil || !ok {
				return nil, err
			}
			return []matchState{{b: b, node: n}}, nil
		}
	}

	label := ""
	if len(np.labels) > 0 {
		label = np.labels[0]
	}
	candidates, err := ex.eng.GetNodesByLabel(label)
	if err != nil {
		return nil, err
	}

	var states []matchState
	for _, n := range candidates {
		ok, err := ex.nodeMatches(b, np, n)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		nb := b
		if np.variable != "" {
			nb = b.clone()
			nb[np.variable] = n
		}
		states = append(states, matchState{b: nb, node: n})
	}
	return states, nil
}

func (ex *executor) nodeMatches(b binding, np nodePat, n *Node) (bool, error) {
	for _, label := range np.labels {
		if !hasLabel(n, label) {
			return false, nil
		}
	}
	return ex.propsMatch(b, np.props, n.Props)
}

func (ex *executor) propsMatch(b binding, want map[string]expr, have map[string]any) (bool, error) {
	for name, e := range want {
		v, err := ex.eval(b, e)
		if err != nil {
			return false, err
		}
		if !valuesEqual(have[name], v) {
			return false, nil
		}
	}
	return true, nil
}

// step is one directed hop available from a node.
type step struct {
	rel *Relationship
	to  string
}

func (ex *executor) stepsFrom(nodeID string, rp relPat) ([]step, error) {
	var steps []step
	if rp.direction == graph.Outgoing || rp.direction == graph.Both {
		rels, err := ex.eng.GetOutgoing(nodeID)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			steps = append(steps, step{rel: r, to: r.EndID})
		}
	}
	if rp.direction == graph.Incoming || rp.direction == graph.Both {
		rels, err := ex.eng.GetIncoming(nodeID)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			// A self-loop already appeared on the outgoing side.
			if rp.direction == graph.Both && r.StartID == r.EndID {
				continue
			}
			steps = append(steps, step{rel: r, to: r.StartID})
		}
	}
	if rp.relType == "" {
		return steps, nil
	}
	filtered := steps[:0]
	for _, s := range steps {
		if s.rel.Type == rp.relType {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

func (ex *executor) expandHop(st matchState, h hop) ([]matchState, error) {
	if h.rel.varLength() {
		return ex.expandVarLength(st, h)
	}

	steps, err := ex.stepsFrom(st.node.ID, h.rel)
	if err != nil {
		return nil, err
	}

	var out []matchState
	for _, s := range steps {
		ok, err := ex.relMatches(st.b, h.rel, s.rel)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if h.rel.variable != "" {
			if bound, has := st.b[h.rel.variable]; has {
				br, isRel := bound.(*Relationship)
				if !isRel || br.ID != s.rel.ID {
					continue
				}
			}
		}
		end, err := ex.eng.GetNode(s.to)
		if err != nil {
			return nil, err
		}
		node, ok, err := ex.checkEnd(st.b, h.to, end)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		nb := st.b.clone()
		if h.rel.variable != "" {
			nb[h.rel.variable] = s.rel
		}
		if h.to.variable != "" {
			nb[h.to.variable] = node
		}
		out = append(out, matchState{b: nb, node: node})
	}
	return out, nil
}

// expandVarLength enumerates every path whose hop count falls inside the
// declared range. Relationship uniqueness within one path bounds the walk,
// so cyclic graphs terminate; the same end node is still reported once per
// distinct path, deduplication being the caller's concern.
func (ex *executor) expandVarLength(st matchState, h hop) ([]matchState, error) {
	var out []matchState

	emit := func(end *Node, path []*Relationship) error {
		node, ok, err := ex.checkEnd(st.b, h.to, end)
		if err != nil || !ok {
			return err
		}
		nb := st.b.clone()
		if h.rel.variable != "" {
			nb[h.rel.variable] = append([]*Relationship(nil), path...)
		}
		if h.to.variable != "" {
			nb[h.to.variable] = node
		}
		out = append(out, matchState{b: nb, node: node})
		return nil
	}

	if h.rel.minDepth == 0 {
		if err := emit(st.node, nil); err != nil {
			return nil, err
		}
	}

	used := make(map[string]bool)
	var path []*Relationship
	var walk func(cur *Node) error
	walk = func(cur *Node) error {
		depth := int64(len(path))
		if h.rel.maxDepth != unboundedDepth && depth == h.rel.maxDepth {
			return nil
		}
		steps, err := ex.stepsFrom(cur.ID, h.rel)
		if err != nil {
			return err
		}
		for _, s := range steps {
			if used[s.rel.ID] {
				continue
			}
			ok, err := ex.relMatches(st.b, h.rel, s.rel)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			next, err := ex.eng.GetNode(s.to)
			if err != nil {
				return err
			}
			used[s.rel.ID] = true
			path = append(path, s.rel)
			if int64(len(path)) >= h.rel.minDepth {
				if err := emit(next, path); err != nil {
					return err
				}
			}
			if err := walk(next); err != nil {
				return err
			}
			path = path[:len(path)-1]
			delete(used, s.rel.ID)
		}
		return nil
	}
	if err := walk(st.node); err != nil {
		return nil, err
	}
	return out, nil
}

func (ex *executor) relMatches(b binding, rp relPat, r *Relationship) (bool, error) {
	return ex.propsMatch(b, rp.props, r.Props)
}

// checkEnd checks the end node against the target pattern. When the target
// variable is already bound, the reached node must be that node.
func (ex *executor) checkEnd(b binding, np nodePat, end *Node) (*Node, bool, error) {
	if np.variable != "" {
		if bound, has := b[np.variable]; has {
			bn, isNode := bound.(*Node)
			if !isNode || bn.ID != end.ID {
				return nil, false, nil
			}
			end = bn
		}
	}
	ok, err := ex.nodeMatches(b, np, end)
	if err != nil || !ok {
		return nil, false, err
	}
	return end, true, nil
}

// ---------------------------------------------------------------------------
// WHERE, UNWIND, WITH
// ---------------------------------------------------------------------------

func (ex *executor) filter(rows []binding, cond expr) ([]binding, error) {
	out := rows[:0]
	for _, b := range rows {
		v, err := ex.eval(b, cond)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (ex *executor) unwind(rows []binding, cl unwindClause) ([]binding, error) {
	var out []binding
	for _, b := range rows {
		v, err := ex.eval(b, cl.list)
		if err != nil {
			return nil, err
		}
		for _, item := range asList(v) {
			nb := b.clone()
			nb[cl.alias] = item
			out = append(out, nb)
		}
	}
	return out, nil
}

// asList views a value as UNWIND does: lists expand, null vanishes, and a
// scalar is a one-element list.
func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []*Relationship:
		out := make([]any, len(t))
		for i, r := range t {
			out[i] = r
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []any:
		return t
	default:
		return []any{v}
	}
}

func (ex *executor) with(rows []binding, cl withClause) ([]binding, error) {
	for _, item := range cl.items {
		if ex.containsAggregate(item.expr) {
			return nil, &graph.Error{Code: graph.EUnsupported, Op: "memstore.exec",
				Msg: "aggregates are supported in RETURN only"}
		}
	}
	out := make([]binding, 0, len(rows))
	for _, b := range rows {
		nb := make(binding, len(cl.items))
		for _, item := range cl.items {
			v, err := ex.eval(b, item.expr)
			if err != nil {
				return nil, err
			}
			nb[item.name()] = v
		}
		if cl.where != nil {
			v, err := ex.eval(nb, cl.where)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				continue
			}
		}
		out = append(out, nb)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// CREATE, SET, DELETE
// ---------------------------------------------------------------------------

func (ex *executor) create(rows []binding, cl createClause) ([]binding, error) {
	const op = "memstore.exec"
	if ex.staged == nil {
		ex.staged = make(map[any]bool)
	}
	out := make([]binding, 0, len(rows))
	for _, b := range rows {
		b = b.clone()
		for _, pat := range cl.patterns {
			start, err := ex.createNodePat(b, pat.start)
			if err != nil {
				return nil, err
			}
			for _, h := range pat.hops {
				if h.rel.varLength() {
					return nil, ex.errf(op, "CREATE cannot use variable-length relationships")
				}
				if h.rel.relType == "" {
					return nil, ex.errf(op, "CREATE relationships need a type")
				}
				if h.rel.direction == graph.Both {
					return nil, ex.errf(op, "CREATE relationships must be directed")
				}
				end, err := ex.createNodePat(b, h.to)
				if err != nil {
					return nil, err
				}
				props, err := ex.evalPropMap(b, h.rel.props)
				if err != nil {
					return nil, err
				}
				r := &Relationship{Type: h.rel.relType, Props: props}
				p := pendingCreate{rel: r, start: start, end: end}
				if h.rel.direction == graph.Incoming {
					p.start, p.end = end, start
				}
				ex.pending = append(ex.pending, p)
				ex.staged[r] = true
				if h.rel.variable != "" {
					b[h.rel.variable] = r
				}
				start = end
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// createNodePat resolves one node of a CREATE pattern: an already bound
// variable reuses its node, anything else stages a new one.
func (ex *executor) createNodePat(b binding, np nodePat) (*Node, error) {
	if np.variable != "" {
		if bound, ok := b[np.variable]; ok {
			n, isNode := bound.(*Node)
			if !isNode {
				return nil, ex.errf("memstore.exec", "variable %s is not a node", np.variable)
			}
			return n, nil
		}
	}
	props, err := ex.evalPropMap(b, np.props)
	if err != nil {
		return nil, err
	}
	n := &Node{Labels: append([]string(nil), np.labels...), Props: props}
	ex.pending = append(ex.pending, pendingCreate{node: n})
	ex.staged[n] = true
	if np.variable != "" {
		b[np.variable] = n
	}
	return n, nil
}

func (ex *executor) evalPropMap(b binding, props map[string]expr) (map[string]any, error) {
	bag := make(map[string]any, len(props))
	for name, e := range props {
		v, err := ex.eval(b, e)
		if err != nil {
			return nil, err
		}
		bag[name] = v
	}
	return graph.FlattenProps(bag)
}

func (ex *executor) set(rows []binding, cl setClause) error {
	const op = "memstore.exec"
	seen := make(map[string]bool)
	for _, b := range rows {
		target, ok := b[cl.target]
		if !ok {
			return ex.errf(op, "SET target %s is not bound", cl.target)
		}
		raw, err := ex.eval(b, cl.value)
		if err != nil {
			return err
		}
		bag, ok := raw.(map[string]any)
		if !ok {
			return ex.errf(op, "SET %s = needs a property map, got %T", cl.target, raw)
		}
		props, err := graph.FlattenProps(bag)
		if err != nil {
			return err
		}

		switch t := target.(type) {
		case *Node:
			t.Props = props
			if ex.staged[t] || seen["n"+t.ID] {
				continue
			}
			seen["n"+t.ID] = true
			if err := ex.eng.UpdateNode(t); err != nil {
				return err
			}
		case *Relationship:
			t.Props = props
			if ex.staged[t] || seen["r"+t.ID] {
				continue
			}
			seen["r"+t.ID] = true
			if err := ex.eng.UpdateRelationship(t); err != nil {
				return err
			}
		default:
			return ex.errf(op, "SET target %s is not a node or relationship", cl.target)
		}
	}
	return nil
}

func (ex *executor) delete(rows []binding, cl deleteClause) error {
	const op = "memstore.exec"
	seen := make(map[string]bool)
	for _, b := range rows {
		for _, name := range cl.targets {
			target, ok := b[name]
			if !ok {
				return ex.errf(op, "DELETE target %s is not bound", name)
			}
			switch t := target.(type) {
			case *Node:
				if seen["n"+t.ID] {
					continue
				}
				seen["n"+t.ID] = true
				if !cl.detach {
					if err := ex.requireDetached(op, t.ID); err != nil {
						return err
					}
				}
				if err := ex.eng.DeleteNode(t.ID); err != nil {
					return err
				}
			case *Relationship:
				if seen["r"+t.ID] {
					continue
				}
				seen["r"+t.ID] = true
				if err := ex.eng.DeleteRelationship(t.ID); err != nil {
					return err
				}
			case []*Relationship:
				for _, r := range t {
					if seen["r"+r.ID] {
						continue
					}
					seen["r"+r.ID] = true
					if err := ex.eng.DeleteRelationship(r.ID); err != nil {
						return err
					}
				}
			default:
				return ex.errf(op, "DELETE target %s is not a node or relationship", name)
			}
		}
	}
	return nil
}

func (ex *executor) requireDetached(op, nodeID string) error {
	out, err := ex.eng.GetOutgoing(nodeID)
	if err != nil {
		return err
	}
	in, err := ex.eng.GetIncoming(nodeID)
	if err != nil {
		return err
	}
	if len(out)+len(in) > 0 {
		return &graph.Error{Code: graph.EConflict, Op: op,
			Msg: "node " + nodeID + " still has relationships; use DETACH DELETE"}
	}
	return nil
}

// ---------------------------------------------------------------------------
// RETURN
// ---------------------------------------------------------------------------

// outRow pairs an output record with the binding it came from. The binding
// stays available so ORDER BY can reference match variables; grouped rows
// drop it.
type outRow struct {
	b   binding
	out []any
}

func (ex *executor) ret(rows []binding, cl returnClause, rest []clause) (*graph.Rows, error) {
	var (
		order *orderClause
		skip  *skipClause
		limit *limitClause
	)
	for _, c := range rest {
		switch t := c.(type) {
		case orderClause:
			if order != nil {
				return nil, ex.errf("memstore.exec", "duplicate ORDER BY")
			}
			o := t
			order = &o
		case skipClause:
			if skip != nil {
				return nil, ex.errf("memstore.exec", "duplicate SKIP")
			}
			s := t
			skip = &s
		case limitClause:
			if limit != nil {
				return nil, ex.errf("memstore.exec", "duplicate LIMIT")
			}
			l := t
			limit = &l
		default:
			return nil, ex.errf("memstore.exec", "RETURN must be the final reading clause")
		}
	}

	columns := make([]string, len(cl.items))
	for i, item := range cl.items {
		columns[i] = item.name()
	}

	var outRows []outRow
	var err error
	if ex.anyAggregate(cl.items) {
		outRows, err = ex.grouped(rows, cl.items)
	} else {
		outRows, err = ex.projected(rows, cl.items)
	}
	if err != nil {
		return nil, err
	}

	if cl.distinct {
		outRows = distinctRows(outRows)
	}
	if order != nil {
		if err := ex.sortRows(outRows, columns, order.keys); err != nil {
			return nil, err
		}
	}
	if outRows, err = ex.paginate(outRows, skip, limit); err != nil {
		return nil, err
	}

	result := &graph.Rows{Columns: columns, Records: make([]graph.Record, len(outRows))}
	for i, row := range outRows {
		rec := make(graph.Record, len(columns))
		for j, col := range columns {
			rec[col] = wireValue(row.out[j])
		}
		result.Records[i] = rec
	}
	return result, nil
}

func (ex *executor) projected(rows []binding, items []returnItem) ([]outRow, error) {
	out := make([]outRow, 0, len(rows))
	for _, b := range rows {
		vals := make([]any, len(items))
		for i, item := range items {
			v, err := ex.eval(b, item.expr)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		out = append(out, outRow{b: b, out: vals})
	}
	return out, nil
}

// grouped implements implicit aggregation: the non-aggregate return items
// form the grouping key, aggregates compute within each group. Groups keep
// first-seen order.
func (ex *executor) grouped(rows []binding, items []returnItem) ([]outRow, error) {
	type group struct {
		keyVals []any
		rows    []binding
	}
	var ordered []*group
	index := make(map[string]*group)

	for _, b := range rows {
		var keyVals []any
		var keyParts []string
		for _, item := range items {
			if ex.containsAggregate(item.expr) {
				continue
			}
			v, err := ex.eval(b, item.expr)
			if err != nil {
				return nil, err
			}
			keyVals = append(keyVals, v)
			keyParts = append(keyParts, canonKey(v))
		}
		key := strings.Join(keyParts, "\x00")
		g, ok := index[key]
		if !ok {
			g = &group{keyVals: keyVals}
			index[key] = g
			ordered = append(ordered, g)
		}
		g.rows = append(g.rows, b)
	}

	// Aggregating an empty input still yields one row, so count() is 0,
	// not absent. Only legal when there is no grouping key.
	if len(ordered) == 0 {
		allAgg := true
		for _, item := range items {
			if !ex.containsAggregate(item.expr) {
				allAgg = false
			}
		}
		if allAgg {
			ordered = append(ordered, &group{})
		}
	}

	out := make([]outRow, 0, len(ordered))
	for _, g := range ordered {
		vals := make([]any, len(items))
		ki := 0
		for i, item := range items {
			if ex.containsAggregate(item.expr) {
				v, err := ex.aggregate(g.rows, item.expr)
				if err != nil {
					return nil, err
				}
				vals[i] = v
				continue
			}
			vals[i] = g.keyVals[ki]
			ki++
		}
		out = append(out, outRow{out: vals})
	}
	return out, nil
}

var aggregateFns = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
}

func (ex *executor) anyAggregate(items []returnItem) bool {
	for _, item := range items {
		if ex.containsAggregate(item.expr) {
			return true
		}
	}
	return false
}

func (ex *executor) containsAggregate(e expr) bool {
	switch t := e.(type) {
	case callExpr:
		if aggregateFns[t.fn] {
			return true
		}
		for _, a := range t.args {
			if ex.containsAggregate(a) {
				return true
			}
		}
	case binExpr:
		return ex.containsAggregate(t.l) || ex.containsAggregate(t.r)
	case notExpr:
		return ex.containsAggregate(t.x)
	case negExpr:
		return ex.containsAggregate(t.x)
	case propExpr:
		return ex.containsAggregate(t.base)
	case caseExpr:
		for _, wt := range t.whens {
			if ex.containsAggregate(wt.when) || ex.containsAggregate(wt.then) {
				return true
			}
		}
		if t.els != nil {
			return ex.containsAggregate(t.els)
		}
	case mapExpr:
		for _, v := range t.vals {
			if ex.containsAggregate(v) {
				return true
			}
		}
	}
	return false
}

// aggregate evaluates an aggregate call over the group's rows. Null
// arguments are skipped, matching Cypher: count ignores them, sum of
// nothing is 0, min/max/avg of nothing are null.
func (ex *executor) aggregate(rows []binding, e expr) (any, error) {
	call, ok := e.(callExpr)
	if !ok || !aggregateFns[call.fn] {
		return nil, &graph.Error{Code: graph.EUnsupported, Op: "memstore.exec",
			Msg: "aggregates cannot nest inside other expressions"}
	}

	if call.fn == "count" && call.star {
		return int64(len(rows)), nil
	}
	if len(call.args) != 1 {
		return nil, ex.errf("memstore.exec", "%s takes one argument", call.fn)
	}

	var vals []any
	for _, b := range rows {
		v, err := ex.eval(b, call.args[0])
		if err != nil {
			return nil, err
		}
		if v != nil {
			vals = append(vals, v)
		}
	}

	switch call.fn {
	case "count":
		return int64(len(vals)), nil
	case "sum":
		var fsum float64
		var isum int64
		allInt := true
		for _, v := range vals {
			f, ok := asFloat(v)
			if !ok {
				return nil, ex.errf("memstore.exec", "sum over non-numeric value %T", v)
			}
			fsum += f
			if i, ok := v.(int64); ok {
				isum += i
			} else {
				allInt = false
			}
		}
		if allInt {
			return isum, nil
		}
		return fsum, nil
	case "avg":
		if len(vals) == 0 {
			return nil, nil
		}
		var sum float64
		for _, v := range vals {
			f, ok := asFloat(v)
			if !ok {
				return nil, ex.errf("memstore.exec", "avg over non-numeric value %T", v)
			}
			sum += f
		}
		return sum / float64(len(vals)), nil
	case "min", "max":
		if len(vals) == 0 {
			return nil, nil
		}
		best := vals[0]
		for _, v := range vals[1:] {
			c := compareValues(v, best)
			if (call.fn == "min" && c < 0) || (call.fn == "max" && c > 0) {
				best = v
			}
		}
		return best, nil
	}
	return nil, ex.errf("memstore.exec", "unknown aggregate %s", call.fn)
}

func distinctRows(rows []outRow) []outRow {
	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, r := range rows {
		parts := make([]string, len(r.out))
		for i, v := range r.out {
			parts[i] = canonKey(v)
		}
		key := strings.Join(parts, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// sortRows orders rows by the keys, stable so equal keys keep their input
// order. Key expressions see the row's match variables plus the output
// columns by name.
func (ex *executor) sortRows(rows []outRow, columns []string, keys []sortKey) error {
	type sortable struct {
		row  outRow
		keys []any
	}
	prepared := make([]sortable, len(rows))
	for i, r := range rows {
		env := make(binding, len(r.b)+len(columns))
		for k, v := range r.b {
			env[k] = v
		}
		for j, col := range columns {
			env[col] = r.out[j]
		}
		vals := make([]any, len(keys))
		for j, k := range keys {
			v, err := ex.eval(env, k.expr)
			if err != nil {
				return err
			}
			vals[j] = v
		}
		prepared[i] = sortable{row: r, keys: vals}
	}

	sort.SliceStable(prepared, func(i, j int) bool {
		for k, key := range keys {
			c := compareValues(prepared[i].keys[k], prepared[j].keys[k])
			if c == 0 {
				continue
			}
			if key.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	for i := range prepared {
		rows[i] = prepared[i].row
	}
	return nil
}

func (ex *executor) paginate(rows []outRow, skip *skipClause, limit *limitClause) ([]outRow, error) {
	if skip != nil {
		n, err := ex.countOf(skip.count, "SKIP")
		if err != nil {
			return nil, err
		}
		if n >= int64(len(rows)) {
			rows = nil
		} else {
			rows = rows[n:]
		}
	}
	if limit != nil {
		n, err := ex.countOf(limit.count, "LIMIT")
		if err != nil {
			return nil, err
		}
		if n < int64(len(rows)) {
			rows = rows[:n]
		}
	}
	return rows, nil
}

func (ex *executor) countOf(e expr, kw string) (int64, error) {
	v, err := ex.eval(binding{}, e)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok || n < 0 {
		return 0, ex.errf("memstore.exec", "%s needs a non-negative integer, got %v", kw, v)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Value plumbing
// ---------------------------------------------------------------------------

// wireValue converts matched elements to the wire-neutral row types.
func wireValue(v any) any {
	switch t := v.(type) {
	case *Node:
		return &graph.NodeValue{
			ID:     t.ID,
			Labels: append([]string(nil), t.Labels...),
			Props:  copyProps(t.Props),
		}
	case *Relationship:
		return &graph.RelValue{
			ID:      t.ID,
			Type:    t.Type,
			StartID: t.StartID,
			EndID:   t.EndID,
			Props:   copyProps(t.Props),
		}
	case []*Relationship:
		out := make([]any, len(t))
		for i, r := range t {
			out[i] = wireValue(r)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = wireValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = wireValue(item)
		}
		return out
	default:
		return v
	}
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// canonKey renders a value as a deterministic string for grouping and
// distinct. Elements key by identity, scalars by tagged value.
func canonKey(v any) string {
	switch t := v.(type) {
	case nil:
		return "_"
	case *Node:
		return "n:" + t.ID
	case *Relationship:
		return "r:" + t.ID
	case []*Relationship:
		parts := make([]string, len(t))
		for i, r := range t {
			parts[i] = r.ID
		}
		return "rl:" + strings.Join(parts, ",")
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = canonKey(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + canonKey(t[k])
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return valueKey(v)
	}
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		return af == bf
	}
	switch x := a.(type) {
	case []string:
		y, ok := b.([]string)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
		return true
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	default:
		return a == b
	}
}

// compareValues orders two values for ORDER BY and min/max: null first,
// then booleans, numbers, strings (collated), datetimes, and finally
// elements by ID. Mismatched families order by family.
func compareValues(a, b any) int {
	fa, fb := family(a), family(b)
	if fa != fb {
		return fa - fb
	}
	switch fa {
	case famNull:
		return 0
	case famBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case famNumber:
		x, _ := asFloat(a)
		y, _ := asFloat(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case famString:
		return newCollator().CompareString(a.(string), b.(string))
	case famTime:
		x, y := a.(time.Time), b.(time.Time)
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		default:
			return 0
		}
	default:
		return strings.Compare(canonKey(a), canonKey(b))
	}
}

const (
	famNull = iota
	famBool
	famNumber
	famString
	famTime
	famOther
)

func family(v any) int {
	switch v.(type) {
	case nil:
		return famNull
	case bool:
		return famBool
	case int64, float64:
		return famNumber
	case string:
		return famString
	case time.Time:
		return famTime
	default:
		return famOther
	}
}

// newCollator builds a collator per comparison site; collators carry
// internal buffers and are not safe to share across goroutines.
func newCollator() *collate.Collator {
	return collate.New(language.Und)
}

// ---------------------------------------------------------------------------
// Expression evaluation
// ---------------------------------------------------------------------------

func (ex *executor) eval(b binding, e expr) (any, error) {
	const op = "memstore.eval"
	switch t := e.(type) {
	case litExpr:
		return t.v, nil
	case paramExpr:
		v, ok := ex.params[t.name]
		if !ok {
			return nil, ex.errf(op, "missing parameter $%s", t.name)
		}
		return v, nil
	case identExpr:
		v, ok := b[t.name]
		if !ok {
			return nil, ex.errf(op, "unknown variable %s", t.name)
		}
		return v, nil
	case propExpr:
		return ex.evalProp(b, t)
	case binExpr:
		return ex.evalBinary(b, t)
	case notExpr:
		v, err := ex.eval(b, t.x)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case negExpr:
		v, err := ex.eval(b, t.x)
		if err != nil {
			return nil, err
		}
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		case nil:
			return nil, nil
		default:
			return nil, ex.errf(op, "cannot negate %T", v)
		}
	case callExpr:
		if aggregateFns[t.fn] {
			return nil, &graph.Error{Code: graph.EUnsupported, Op: op,
				Msg: "aggregates are supported in RETURN only"}
		}
		return ex.evalCall(b, t)
	case caseExpr:
		for _, wt := range t.whens {
			v, err := ex.eval(b, wt.when)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				return ex.eval(b, wt.then)
			}
		}
		if t.els != nil {
			return ex.eval(b, t.els)
		}
		return nil, nil
	case mapExpr:
		out := make(map[string]any, len(t.keys))
		for i, k := range t.keys {
			v, err := ex.eval(b, t.vals[i])
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, ex.errf(op, "unsupported expression %T", e)
	}
}

func (ex *executor) evalProp(b binding, pe propExpr) (any, error) {
	base, err := ex.eval(b, pe.base)
	if err != nil {
		return nil, err
	}
	switch t := base.(type) {
	case nil:
		return nil, nil
	case *Node:
		return t.Props[pe.name], nil
	case *Relationship:
		return t.Props[pe.name], nil
	case map[string]any:
		return t[pe.name], nil
	case time.Time:
		switch pe.name {
		case "year":
			return int64(t.Year()), nil
		case "month":
			return int64(t.Month()), nil
		case "day":
			return int64(t.Day()), nil
		}
		return nil, ex.errf("memstore.eval", "unknown datetime component %s", pe.name)
	default:
		return nil, ex.errf("memstore.eval", "cannot access .%s on %T", pe.name, base)
	}
}

func (ex *executor) evalBinary(b binding, be binExpr) (any, error) {
	const op = "memstore.eval"

	// AND short-circuits so the right side never runs when the left
	// already settles the result.
	switch be.op {
	case "AND":
		l, err := ex.eval(b, be.l)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := ex.eval(b, be.r)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case "OR":
		l, err := ex.eval(b, be.l)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := ex.eval(b, be.r)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	l, err := ex.eval(b, be.l)
	if err != nil {
		return nil, err
	}
	r, err := ex.eval(b, be.r)
	if err != nil {
		return nil, err
	}

	switch be.op {
	case "=":
		return valuesEqual(l, r), nil
	case "<>":
		return !valuesEqual(l, r), nil
	case "<", "<=", ">", ">=":
		if l == nil || r == nil || family(l) != family(r) {
			return false, nil
		}
		c := compareValues(l, r)
		switch be.op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case "STARTS WITH", "ENDS WITH", "CONTAINS":
		ls, lok := l.(string)
		rs, rok := r.(string)
		if !lok || !rok {
			return false, nil
		}
		switch be.op {
		case "STARTS WITH":
			return strings.HasPrefix(ls, rs), nil
		case "ENDS WITH":
			return strings.HasSuffix(ls, rs), nil
		default:
			return strings.Contains(ls, rs), nil
		}
	case "+", "-", "*", "/", "%", "^":
		return ex.arith(op, be.op, l, r)
	default:
		return nil, ex.errf(op, "unsupported operator %s", be.op)
	}
}

func (ex *executor) arith(op, operator string, l, r any) (any, error) {
	if l == nil || r == nil {
		return nil, nil
	}
	if operator == "+" {
		if ls, ok := l.(string); ok {
			rs, ok := r.(string)
			if !ok {
				return nil, ex.errf(op, "cannot concatenate string and %T", r)
			}
			return ls + rs, nil
		}
	}

	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt && operator != "^" {
		switch operator {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "/":
			if ri == 0 {
				return nil, ex.errf(op, "division by zero")
			}
			return li / ri, nil
		case "%":
			if ri == 0 {
				return nil, ex.errf(op, "division by zero")
			}
			return li % ri, nil
		}
	}

	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return nil, ex.errf(op, "operator %s needs numbers, got %T and %T", operator, l, r)
	}
	switch operator {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, ex.errf(op, "division by zero")
		}
		return lf / rf, nil
	case "%":
		return math.Mod(lf, rf), nil
	default:
		return math.Pow(lf, rf), nil
	}
}

func (ex *executor) evalCall(b binding, call callExpr) (any, error) {
	const op = "memstore.eval"

	args := make([]any, len(call.args))
	for i, a := range call.args {
		v, err := ex.eval(b, a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	arity := func(n int) error {
		if len(args) != n {
			return ex.errf(op, "%s takes %d arguments, got %d", call.fn, n, len(args))
		}
		return nil
	}

	switch call.fn {
	case "id":
		if err := arity(1); err != nil {
			return nil, err
		}
		switch t := args[0].(type) {
		case *Node:
			return t.ID, nil
		case *Relationship:
			return t.ID, nil
		case nil:
			return nil, nil
		}
		return nil, ex.errf(op, "id() needs a node or relationship")
	case "labels":
		if err := arity(1); err != nil {
			return nil, err
		}
		if n, ok := args[0].(*Node); ok {
			return append([]string(nil), n.Labels...), nil
		}
		return nil, ex.errf(op, "labels() needs a node")
	case "type":
		if err := arity(1); err != nil {
			return nil, err
		}
		if r, ok := args[0].(*Relationship); ok {
			return r.Type, nil
		}
		return nil, ex.errf(op, "type() needs a relationship")

	case "toupper", "tolower", "trim":
		if err := arity(1); err != nil {
			return nil, err
		}
		s, ok := args[0].(string)
		if !ok {
			if args[0] == nil {
				return nil, nil
			}
			return nil, ex.errf(op, "%s needs a string", call.fn)
		}
		switch call.fn {
		case "toupper":
			return strings.ToUpper(s), nil
		case "tolower":
			return strings.ToLower(s), nil
		default:
			return strings.TrimSpace(s), nil
		}
	case "substring":
		if len(args) != 2 && len(args) != 3 {
			return nil, ex.errf(op, "substring takes 2 or 3 arguments")
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, ex.errf(op, "substring needs a string")
		}
		start, ok := args[1].(int64)
		if !ok || start < 0 {
			return nil, ex.errf(op, "substring start must be a non-negative integer")
		}
		runes := []rune(s)
		if start >= int64(len(runes)) {
			return "", nil
		}
		rest := runes[start:]
		if len(args) == 3 {
			length, ok := args[2].(int64)
			if !ok || length < 0 {
				return nil, ex.errf(op, "substring length must be a non-negative integer")
			}
			if length < int64(len(rest)) {
				rest = rest[:length]
			}
		}
		return string(rest), nil
	case "replace":
		if err := arity(3); err != nil {
			return nil, err
		}
		s, ok1 := args[0].(string)
		old, ok2 := args[1].(string)
		new, ok3 := args[2].(string)
		if !ok1 || !ok2 || !ok3 {
			return nil, ex.errf(op, "replace needs three strings")
		}
		return strings.ReplaceAll(s, old, new), nil
	case "size":
		if err := arity(1); err != nil {
			return nil, err
		}
		switch t := args[0].(type) {
		case string:
			return int64(len([]rune(t))), nil
		case []string:
			return int64(len(t)), nil
		case []any:
			return int64(len(t)), nil
		case []*Relationship:
			return int64(len(t)), nil
		case nil:
			return nil, nil
		}
		return nil, ex.errf(op, "size() needs a string or list")

	case "abs", "ceil", "floor", "round", "sqrt":
		if err := arity(1); err != nil {
			return nil, err
		}
		if args[0] == nil {
			return nil, nil
		}
		if call.fn == "abs" {
			if i, ok := args[0].(int64); ok {
				if i < 0 {
					return -i, nil
				}
				return i, nil
			}
		}
		f, ok := asFloat(args[0])
		if !ok {
			return nil, ex.errf(op, "%s needs a number", call.fn)
		}
		switch call.fn {
		case "abs":
			return math.Abs(f), nil
		case "ceil":
			return math.Ceil(f), nil
		case "floor":
			return math.Floor(f), nil
		case "round":
			return math.Round(f), nil
		default:
			if f < 0 {
				return nil, ex.errf(op, "sqrt of a negative number")
			}
			return math.Sqrt(f), nil
		}

	case "localdatetime":
		if err := arity(0); err != nil {
			return nil, err
		}
		return time.Now(), nil
	case "datetime":
		if err := arity(0); err != nil {
			return nil, err
		}
		return time.Now().UTC(), nil
	case "date":
		if err := arity(0); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil

	default:
		return nil, ex.errf(op, "unknown function %s", call.fn)
	}
}
