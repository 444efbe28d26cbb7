// Package cypher compiles query plans into Cypher text plus a named
// parameter map.
//
// The compiler walks a plan once, upstream to downstream, and emits one
// clause block per step. Every captured value is lifted into the parameter
// map ($p0, $p1, ...); literals never appear in query text. Aliases come
// from counters scoped to the compilation (n0, n1, ... for nodes, r0, r1,
// ... for relationships), so distinct stages can never collide.
//
// Compilation is pure: it never touches storage, and a plan can be compiled
// concurrently from any number of goroutines. Pipeline shapes without a
// faithful translation are rejected with a "translation not supported"
// error rather than compiled approximately.
package cypher

import (
	"fmt"
	"strings"

	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/query"
)

// Statement is a compiled query: text in the emitted dialect plus its
// parameters.
type Statement struct {
	Text   string
	Params map[string]any
}

// Compile translates a plan into a statement.
func Compile(plan *query.Plan) (*Statement, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return nil, &graph.Error{Code: graph.EInvalid, Op: "cypher.Compile", Msg: "empty plan"}
	}
	c := newCompiler()
	if err := c.walk(plan.Steps); err != nil {
		return nil, err
	}
	return c.statement()
}

// record tracks what shape of value the pipeline currently produces.
type recordKind int

const (
	recNode recordKind = iota
	recRel
	recSegment
	recPair
)

type record struct {
	kind  recordKind
	alias string // recNode, recRel

	start, rel, end string // recSegment
	left, right     string // recPair
}

func (r record) describe() string {
	switch r.kind {
	case recNode:
		return "nodes"
	case recRel:
		return "relationships"
	case recSegment:
		return "segments"
	default:
		return "pairs"
	}
}

type compiler struct {
	lines  []string
	where  []string // conjuncts pending for the current clause block
	params map[string]any

	nodeSeq int
	relSeq  int

	cur record

	// afterUnwind is set while the current block opened with UNWIND,
	// where a bare WHERE is not legal and filters need a WITH hand-off.
	afterUnwind bool

	// Terminal state, rendered after the walk.
	distinct bool
	project  []query.Field
	group    *query.GroupBy
	outNames map[string]bool // names available to ORDER BY after shaping
	orderBy  []string
	skip     *int64
	take     *int64
}

func newCompiler() *compiler {
	return &compiler{params: make(map[string]any)}
}

func unsupported(format string, a ...any) error {
	return &graph.Error{Code: graph.EUnsupported, Op: "cypher.Compile",
		Msg: "translation not supported: " + fmt.Sprintf(format, a...)}
}

func (c *compiler) nextNode() string {
	a := fmt.Sprintf("n%d", c.nodeSeq)
	c.nodeSeq++
	return a
}

func (c *compiler) nextRel() string {
	a := fmt.Sprintf("r%d", c.relSeq)
	c.relSeq++
	return a
}

func (c *compiler) param(v any) (string, error) {
	nv, err := graph.NormalizeValue(v)
	if err != nil {
		return "", err
	}
	if _, isMap := nv.(map[string]any); isMap {
		return "", &graph.Error{Code: graph.EInvalid, Op: "cypher.Compile",
			Msg: "map values cannot be captured in predicates; flatten to scalar properties"}
	}
	name := fmt.Sprintf("p%d", len(c.params))
	c.params[name] = nv
	return "$" + name, nil
}

// flushWhere turns pending conjuncts into a WHERE line. Consecutive filters
// conjoin here, which is what makes Filter(a) then Filter(b) compile
// identically to Filter(And(a, b)). After an UNWIND the predicate rides on
// a WITH, since WHERE only attaches to reading clauses.
func (c *compiler) flushWhere() {
	if len(c.where) == 0 {
		return
	}
	clause := "WHERE " + strings.Join(c.where, " AND ")
	if c.afterUnwind {
		clause = "WITH " + c.cur.alias + " " + clause
		c.afterUnwind = false
	}
	c.lines = append(c.lines, clause)
	c.where = nil
}

func (c *compiler) walk(steps []query.Step) error {
	for i, s := range steps {
		var err error
		switch step := s.(type) {
		case query.Source:
			err = c.compileSource(step)
		case query.Segments:
			err = c.compileSegments(step)
		case query.Join:
			err = c.compileJoin(step)
		case query.Filter:
			err = c.compileFilter(step)
		case query.Traverse:
			err = c.compileTraverse(step)
		case query.Project:
			c.project = step.Fields
			c.outNames = make(map[string]bool, len(step.Fields))
			for _, f := range step.Fields {
				c.outNames[f.Name] = true
			}
		case query.GroupBy:
			g := step
			c.group = &g
			c.outNames = make(map[string]bool, len(g.Keys)+len(g.Aggs))
			for _, k := range g.Keys {
				c.outNames[k.Name] = true
			}
			for _, a := range g.Aggs {
				c.outNames[a.Name] = true
			}
		case query.Distinct:
			c.distinct = true
		case query.OrderBy:
			err = c.compileOrderBy(step)
		case query.Skip:
			n := step.N
			c.skip = &n
		case query.Take:
			n := step.N
			c.take = &n
		default:
			err = unsupported("unknown step %T", s)
		}
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func (c *compiler) compileSource(s query.Source) error {
	if s.Rel {
		alias := c.nextRel()
		c.lines = append(c.lines, fmt.Sprintf("MATCH ()-[%s%s]->()", alias, labelSuffix(s.Label)))
		c.cur = record{kind: recRel, alias: alias}
		return nil
	}
	alias := c.nextNode()
	c.lines = append(c.lines, fmt.Sprintf("MATCH (%s%s)", alias, labelSuffix(s.Label)))
	c.cur = record{kind: recNode, alias: alias}
	return nil
}

func (c *compiler) compileSegments(s query.Segments) error {
	start := c.nextNode()
	rel := c.nextRel()
	end := c.nextNode()
	left, right := arrows(s.Direction)
	c.lines = append(c.lines, fmt.Sprintf("MATCH (%s%s)%s[%s%s]%s(%s%s)",
		start, labelSuffix(s.StartLabel),
		left, rel, labelSuffix(s.RelType), right,
		end, labelSuffix(s.EndLabel)))
	c.cur = record{kind: recSegment, start: start, rel: rel, end: end}
	return nil
}

// compileJoin emits both sides as independent matches and conjoins the
// on-predicate with the right side's filters. Sides richer than a source
// plus filters have no faithful translation.
func (c *compiler) compileJoin(j query.Join) error {
	if j.Left == nil || j.Right == nil {
		return unsupported("join sides must be built pipelines")
	}
	left, err := c.compileJoinSide(j.Left)
	if err != nil {
		return err
	}
	c.flushWhere()
	right, err := c.compileJoinSide(j.Right)
	if err != nil {
		return err
	}
	c.cur = record{kind: recPair, left: left, right: right}
	on, err := c.compileExpr(j.On)
	if err != nil {
		return err
	}
	c.where = append(c.where, on)
	c.flushWhere()
	return nil
}

func (c *compiler) compileJoinSide(p *query.Plan) (string, error) {
	if len(p.Steps) == 0 {
		return "", unsupported("empty join side")
	}
	src, ok := p.Steps[0].(query.Source)
	if !ok || src.Rel {
		return "", unsupported("join sides must start from a node source")
	}
	if err := c.compileSource(src); err != nil {
		return "", err
	}
	for _, s := range p.Steps[1:] {
		f, ok := s.(query.Filter)
		if !ok {
			return "", unsupported("join sides support only filters, found %T", s)
		}
		if err := c.compileFilter(f); err != nil {
			return "", err
		}
	}
	return c.cur.alias, nil
}

func (c *compiler) compileFilter(f query.Filter) error {
	if c.shapedAlready() {
		return unsupported("filter after projection or grouping")
	}
	pred, err := c.compileExpr(f.Pred)
	if err != nil {
		return err
	}
	c.where = append(c.where, pred)
	return nil
}

func (c *compiler) compileTraverse(t query.Traverse) error {
	if c.shapedAlready() {
		return unsupported("traversal after projection or grouping")
	}
	if c.cur.kind != recNode {
		return unsupported("traversal requires a node set, current stage yields %s", c.cur.describe())
	}
	c.flushWhere()

	varLength := !(t.MinDepth == 1 && t.MaxDepth == 1)
	if varLength && t.Yield == query.YieldSegments {
		return unsupported("path segments require a single-hop traversal")
	}

	rel := c.nextRel()
	end := c.nextNode()
	left, right := arrows(t.Direction)
	c.lines = append(c.lines, fmt.Sprintf("MATCH (%s)%s[%s%s%s]%s(%s%s)",
		c.cur.alias, left, rel, labelSuffix(t.RelType), stars(t.MinDepth, t.MaxDepth), right,
		end, labelSuffix(t.Target)))

	switch t.Yield {
	case query.YieldEndNodes:
		c.cur = record{kind: recNode, alias: end}
	case query.YieldRelationships:
		if varLength {
			// The pattern binds the relationship variable to a list of
			// hops; flatten so downstream stages see one relationship per
			// record.
			unwound := c.nextRel()
			c.lines = append(c.lines, fmt.Sprintf("UNWIND %s AS %s", rel, unwound))
			c.cur = record{kind: recRel, alias: unwound}
			c.afterUnwind = true
		} else {
			c.cur = record{kind: recRel, alias: rel}
		}
	case query.YieldSegments:
		c.cur = record{kind: recSegment, start: c.cur.alias, rel: rel, end: end}
	}
	return nil
}

// stars renders the variable-length suffix of a relationship pattern.
// Exactly one hop is the plain pattern; an exact count renders *d; a range
// renders *min..max.
func stars(min, max int) string {
	if min == 1 && max == 1 {
		return ""
	}
	if min == max {
		return fmt.Sprintf("*%d", min)
	}
	return fmt.Sprintf("*%d..%d", min, max)
}

func arrows(d graph.Direction) (left, right string) {
	switch d {
	case graph.Outgoing:
		return "-", "->"
	case graph.Incoming:
		return "<-", "-"
	default:
		return "-", "-"
	}
}

func labelSuffix(label string) string {
	if label == "" {
		return ""
	}
	return ":" + quoteIdent(label)
}

func (c *compiler) shapedAlready() bool {
	return c.project != nil || c.group != nil
}

func (c *compiler) compileOrderBy(ob query.OrderBy) error {
	for _, key := range ob.Keys {
		var rendered string
		if c.outNames != nil {
			// After shaping only projected names exist.
			prop, ok := key.Expr.(query.Prop)
			if !ok || prop.On != query.RefCurrent || !c.outNames[prop.Name] {
				return unsupported("ordering after projection must use projected field names")
			}
			rendered = quoteIdent(prop.Name)
		} else {
			var err error
			rendered, err = c.compileExpr(key.Expr)
			if err != nil {
				return err
			}
		}
		if key.Desc {
			rendered += " DESC"
		}
		c.orderBy = append(c.orderBy, rendered)
	}
	return nil
}

// statement renders the terminal clauses and assembles the final text.
func (c *compiler) statement() (*Statement, error) {
	ret, err := c.renderReturn()
	if err != nil {
		return nil, err
	}
	lines := append(c.lines, ret)

	if len(c.orderBy) > 0 {
		lines = append(lines, "ORDER BY "+strings.Join(c.orderBy, ", "))
	}
	if c.skip != nil {
		lines = append(lines, fmt.Sprintf("SKIP %d", *c.skip))
	}
	if c.take != nil {
		lines = append(lines, fmt.Sprintf("LIMIT %d", *c.take))
	}

	return &Statement{Text: strings.Join(lines, "\n"), Params: c.params}, nil
}

func (c *compiler) renderReturn() (string, error) {
	c.flushWhere()
	kw := "RETURN "
	if c.distinct {
		kw = "RETURN DISTINCT "
	}

	switch {
	case c.group != nil:
		parts := make([]string, 0, len(c.group.Keys)+len(c.group.Aggs))
		for _, k := range c.group.Keys {
			expr, err := c.compileExpr(k.Expr)
			if err != nil {
				return "", err
			}
			parts = append(parts, expr+" AS "+quoteIdent(k.Name))
		}
		for _, a := range c.group.Aggs {
			rendered, err := c.compileAggregate(a)
			if err != nil {
				return "", err
			}
			parts = append(parts, rendered+" AS "+quoteIdent(a.Name))
		}
		return kw + strings.Join(parts, ", "), nil

	case c.project != nil:
		parts := make([]string, 0, len(c.project))
		for _, f := range c.project {
			expr, err := c.compileExpr(f.Expr)
			if err != nil {
				return "", err
			}
			parts = append(parts, expr+" AS "+quoteIdent(f.Name))
		}
		return kw + strings.Join(parts, ", "), nil
	}

	// No shaping: return the current record as-is.
	switch c.cur.kind {
	case recNode, recRel:
		return kw + c.cur.alias, nil
	case recSegment:
		return fmt.Sprintf("%s%s AS start, %s AS rel, %s AS end",
			kw, c.cur.start, c.cur.rel, c.cur.end), nil
	case recPair:
		return fmt.Sprintf("%s%s AS left, %s AS right", kw, c.cur.left, c.cur.right), nil
	default:
		return "", unsupported("nothing to return")
	}
}

func (c *compiler) compileAggregate(a query.Aggregate) (string, error) {
	if a.Fn == query.AggCount && a.Arg == nil {
		target := c.cur.alias
		if c.cur.kind == recSegment {
			target = c.cur.rel
		}
		if c.cur.kind == recPair {
			target = "*"
		}
		if target == "" {
			target = "*"
		}
		return fmt.Sprintf("count(%s)", target), nil
	}
	if a.Arg == nil {
		return "", unsupported("%s aggregate requires an argument", a.Fn)
	}
	arg, err := c.compileExpr(a.Arg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s)", a.Fn, arg), nil
}
