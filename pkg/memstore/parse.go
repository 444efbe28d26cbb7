package memstore

import (
	"strconv"
	"strings"

	"github.com/orneryd/grom/pkg/graph"
)

// The abstract syntax tree for the executable dialect. Statements are a
// flat clause list; the executor validates clause order while assembling
// its pipeline.

type stmtAST struct {
	clauses []clause
}

type clause interface{ isClause() }

type matchClause struct{ patterns []pattern }
type whereClause struct{ cond expr }
type unwindClause struct {
	list  expr
	alias string
}
type withClause struct {
	items []returnItem
	where expr
}
type createClause struct{ patterns []pattern }
type setClause struct {
	target string
	value  expr
}
type deleteClause struct {
	detach  bool
	targets []string
}
type returnClause struct {
	distinct bool
	items    []returnItem
}
type orderClause struct{ keys []sortKey }
type skipClause struct{ count expr }
type limitClause struct{ count expr }

func (matchClause) isClause()  {}
func (whereClause) isClause()  {}
func (unwindClause) isClause() {}
func (withClause) isClause()   {}
func (createClause) isClause() {}
func (setClause) isClause()    {}
func (deleteClause) isClause() {}
func (returnClause) isClause() {}
func (orderClause) isClause()  {}
func (skipClause) isClause()   {}
func (limitClause) isClause()  {}

type returnItem struct {
	expr  expr
	alias string
}

// name is the output column: the alias when given, otherwise the
// expression's written form.
func (it returnItem) name() string {
	if it.alias != "" {
		return it.alias
	}
	return it.expr.text()
}

type sortKey struct {
	expr expr
	desc bool
}

// unboundedDepth marks a variable-length hop with no upper bound.
const unboundedDepth = int64(-1)

type pattern struct {
	start nodePat
	hops  []hop
}

type nodePat struct {
	variable string
	labels   []string
	props    map[string]expr
}

type hop struct {
	rel relPat
	to  nodePat
}

type relPat struct {
	variable  string
	relType   string
	direction graph.Direction
	minDepth  int64
	maxDepth  int64
	props     map[string]expr
}

func (r relPat) varLength() bool {
	return r.minDepth != 1 || r.maxDepth != 1
}

// Expressions. text renders the written form, used for default column names.

type expr interface{ text() string }

type litExpr struct{ v any }

func (e litExpr) text() string {
	switch t := e.v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + t + "'"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return "?"
	}
}

type paramExpr struct{ name string }

func (e paramExpr) text() string { return "$" + e.name }

type identExpr struct{ name string }

func (e identExpr) text() string { return e.name }

type propExpr struct {
	base expr
	name string
}

func (e propExpr) text() string { return e.base.text() + "." + e.name }

type binExpr struct {
	op   string
	l, r expr
}

func (e binExpr) text() string { return e.l.text() + " " + e.op + " " + e.r.text() }

type notExpr struct{ x expr }

func (e notExpr) text() string { return "NOT " + e.x.text() }

type negExpr struct{ x expr }

func (e negExpr) text() string { return "-" + e.x.text() }

type callExpr struct {
	fn   string
	args []expr
	star bool
}

func (e callExpr) text() string {
	if e.star {
		return e.fn + "(*)"
	}
	parts := make([]string, len(e.args))
	for i, a := range e.args {
		parts[i] = a.text()
	}
	return e.fn + "(" + strings.Join(parts, ", ") + ")"
}

type whenThen struct {
	when expr
	then expr
}

type caseExpr struct {
	whens []whenThen
	els   expr
}

func (e caseExpr) text() string { return "CASE" }

type mapExpr struct {
	keys []string
	vals []expr
}

func (e mapExpr) text() string { return "{..}" }

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// parseStatement turns statement text into its clause list.
func parseStatement(text string) (*stmtAST, error) {
	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	var clauses []clause
	for p.peek().typ != tokEOF {
		c, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	if len(clauses) == 0 {
		return nil, p.errorf(p.peek(), "empty statement")
	}
	return &stmtAST{clauses: clauses}, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, msg string) error {
	return &graph.Error{Code: graph.EInvalid, Op: "memstore.parse",
		Msg: msg + " at offset " + strconv.Itoa(t.pos)}
}

func (p *parser) acceptKeyword(kw string) bool {
	if t := p.peek(); t.typ == tokKeyword && t.text == kw {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return p.errorf(p.peek(), kw+" expected")
	}
	return nil
}

func (p *parser) acceptSymbol(s string) bool {
	if t := p.peek(); t.typ == tokSymbol && t.text == s {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectSymbol(s string) error {
	if !p.acceptSymbol(s) {
		return p.errorf(p.peek(), "'"+s+"' expected")
	}
	return nil
}

// expectIdent reads a name. Keywords are allowed where a name is expected,
// so aliases and properties like "end" or "order" parse.
func (p *parser) expectIdent() (string, error) {
	switch t := p.peek(); t.typ {
	case tokIdent:
		p.advance()
		return t.text, nil
	case tokKeyword:
		p.advance()
		return t.raw, nil
	}
	return "", p.errorf(p.peek(), "identifier expected")
}

func (p *parser) parseClause() (clause, error) {
	t := p.peek()
	if t.typ != tokKeyword {
		return nil, p.errorf(t, "clause keyword expected")
	}
	switch t.text {
	case "MATCH":
		p.advance()
		patterns, err := p.parsePatterns()
		if err != nil {
			return nil, err
		}
		return matchClause{patterns: patterns}, nil
	case "WHERE":
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return whereClause{cond: cond}, nil
	case "UNWIND":
		p.advance()
		list, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AS"); err != nil {
			return nil, err
		}
		alias, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return unwindClause{list: list, alias: alias}, nil
	case "WITH":
		p.advance()
		return p.parseWith()
	case "CREATE":
		p.advance()
		patterns, err := p.parsePatterns()
		if err != nil {
			return nil, err
		}
		return createClause{patterns: patterns}, nil
	case "SET":
		p.advance()
		target, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return setClause{target: target, value: value}, nil
	case "DETACH":
		p.advance()
		if err := p.expectKeyword("DELETE"); err != nil {
			return nil, err
		}
		targets, err := p.parseIdentList()
		if err != nil {
			return nil, err
		}
		return deleteClause{detach: true, targets: targets}, nil
	case "DELETE":
		p.advance()
		targets, err := p.parseIdentList()
		if err != nil {
			return nil, err
		}
		return deleteClause{targets: targets}, nil
	case "RETURN":
		p.advance()
		distinct := p.acceptKeyword("DISTINCT")
		items, err := p.parseReturnItems()
		if err != nil {
			return nil, err
		}
		return returnClause{distinct: distinct, items: items}, nil
	case "ORDER":
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		keys, err := p.parseSortKeys()
		if err != nil {
			return nil, err
		}
		return orderClause{keys: keys}, nil
	case "SKIP":
		p.advance()
		count, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return skipClause{count: count}, nil
	case "LIMIT":
		p.advance()
		count, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return limitClause{count: count}, nil
	default:
		return nil, p.errorf(t, "unexpected "+t.text)
	}
}

func (p *parser) parseIdentList() ([]string, error) {
	var out []string
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		out = append(out, name)
		if !p.acceptSymbol(",") {
			return out, nil
		}
	}
}

func (p *parser) parseWith() (clause, error) {
	items, err := p.parseReturnItems()
	if err != nil {
		return nil, err
	}
	var where expr
	if p.acceptKeyword("WHERE") {
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return withClause{items: items, where: where}, nil
}

func (p *parser) parseReturnItems() ([]returnItem, error) {
	var items []returnItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := returnItem{expr: e}
		if p.acceptKeyword("AS") {
			alias, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			item.alias = alias
		}
		items = append(items, item)
		if !p.acceptSymbol(",") {
			return items, nil
		}
	}
}

func (p *parser) parseSortKeys() ([]sortKey, error) {
	var keys []sortKey
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		key := sortKey{expr: e}
		if p.acceptKeyword("DESC") {
			key.desc = true
		} else {
			p.acceptKeyword("ASC")
		}
		keys = append(keys, key)
		if !p.acceptSymbol(",") {
			return keys, nil
		}
	}
}

// ---------------------------------------------------------------------------
// Patterns
// ---------------------------------------------------------------------------

func (p *parser) parsePatterns() ([]pattern, error) {
	var out []pattern
	for {
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		out = append(out, pat)
		if !p.acceptSymbol(",") {
			return out, nil
		}
	}
}

func (p *parser) parsePattern() (pattern, error) {
	start, err := p.parseNodePat()
	if err != nil {
		return pattern{}, err
	}
	pat := pattern{start: start}
	for {
		t := p.peek()
		if t.typ != tokSymbol || (t.text != "-" && t.text != "<") {
			return pat, nil
		}
		rel, err := p.parseRelPat()
		if err != nil {
			return pattern{}, err
		}
		to, err := p.parseNodePat()
		if err != nil {
			return pattern{}, err
		}
		pat.hops = append(pat.hops, hop{rel: rel, to: to})
	}
}

func (p *parser) parseNodePat() (nodePat, error) {
	if err := p.expectSymbol("("); err != nil {
		return nodePat{}, err
	}
	var np nodePat
	if t := p.peek(); t.typ == tokIdent {
		np.variable = t.text
		p.advance()
	}
	for p.acceptSymbol(":") {
		label, err := p.expectIdent()
		if err != nil {
			return nodePat{}, err
		}
		np.labels = append(np.labels, label)
	}
	if p.peek().typ == tokSymbol && p.peek().text == "{" {
		props, err := p.parsePropMap()
		if err != nil {
			return nodePat{}, err
		}
		np.props = props
	}
	if err := p.expectSymbol(")"); err != nil {
		return nodePat{}, err
	}
	return np, nil
}

// parseRelPat reads the relationship between two node patterns:
// -[r:T*1..3]->, <-[r:T]-, -[r]-, or the bare arrows --> / <-- / --.
func (p *parser) parseRelPat() (relPat, error) {
	rp := relPat{direction: graph.Both, minDepth: 1, maxDepth: 1}

	incoming := false
	if p.acceptSymbol("<") {
		incoming = true
	}
	if err := p.expectSymbol("-"); err != nil {
		return relPat{}, err
	}

	if p.acceptSymbol("[") {
		if t := p.peek(); t.typ == tokIdent {
			rp.variable = t.text
			p.advance()
		}
		if p.acceptSymbol(":") {
			relType, err := p.expectIdent()
			if err != nil {
				return relPat{}, err
			}
			rp.relType = relType
		}
		if p.acceptSymbol("*") {
			if err := p.parseDepthRange(&rp); err != nil {
				return relPat{}, err
			}
		}
		if p.peek().typ == tokSymbol && p.peek().text == "{" {
			props, err := p.parsePropMap()
			if err != nil {
				return relPat{}, err
			}
			rp.props = props
		}
		if err := p.expectSymbol("]"); err != nil {
			return relPat{}, err
		}
	}

	if err := p.expectSymbol("-"); err != nil {
		return relPat{}, err
	}
	outgoing := p.acceptSymbol(">")

	switch {
	case incoming && outgoing:
		return relPat{}, p.errorf(p.peek(), "relationship cannot point both ways")
	case incoming:
		rp.direction = graph.Incoming
	case outgoing:
		rp.direction = graph.Outgoing
	}
	return rp, nil
}

// parseDepthRange reads what follows '*': nothing (1..unbounded), a single
// depth, min..max, min.., or ..max.
func (p *parser) parseDepthRange(rp *relPat) error {
	rp.minDepth = 1
	rp.maxDepth = unboundedDepth

	if t := p.peek(); t.typ == tokInt {
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return p.errorf(t, "bad depth")
		}
		p.advance()
		rp.minDepth = n
		rp.maxDepth = n
	}
	if p.acceptSymbol("..") {
		rp.maxDepth = unboundedDepth
		if t := p.peek(); t.typ == tokInt {
			n, err := strconv.ParseInt(t.text, 10, 64)
			if err != nil {
				return p.errorf(t, "bad depth")
			}
			p.advance()
			rp.maxDepth = n
		}
	}
	if rp.maxDepth != unboundedDepth && rp.maxDepth < rp.minDepth {
		return p.errorf(p.peek(), "depth range is inverted")
	}
	return nil
}

func (p *parser) parsePropMap() (map[string]expr, error) {
	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	props := make(map[string]expr)
	if p.acceptSymbol("}") {
		return props, nil
	}
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(":"); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		props[name] = v
		if p.acceptSymbol(",") {
			continue
		}
		if err := p.expectSymbol("}"); err != nil {
			return nil, err
		}
		return props, nil
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (p *parser) parseExpr() (expr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binExpr{op: "OR", l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binExpr{op: "AND", l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseNot() (expr, error) {
	if p.acceptKeyword("NOT") {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notExpr{x: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if t := p.peek(); t.typ == tokSymbol {
		switch t.text {
		case "=", "<>", "<", "<=", ">", ">=":
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return binExpr{op: t.text, l: left, r: right}, nil
		}
	}
	if p.acceptKeyword("STARTS") {
		if err := p.expectKeyword("WITH"); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return binExpr{op: "STARTS WITH", l: left, r: right}, nil
	}
	if p.acceptKeyword("ENDS") {
		if err := p.expectKeyword("WITH"); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return binExpr{op: "ENDS WITH", l: left, r: right}, nil
	}
	if p.acceptKeyword("CONTAINS") {
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return binExpr{op: "CONTAINS", l: left, r: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.typ != tokSymbol || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binExpr{op: t.text, l: left, r: right}
	}
}

func (p *parser) parseMultiplicative() (expr, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.typ != tokSymbol || (t.text != "*" && t.text != "/" && t.text != "%") {
			return left, nil
		}
		p.advance()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = binExpr{op: t.text, l: left, r: right}
	}
}

func (p *parser) parsePower() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.acceptSymbol("^") {
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return binExpr{op: "^", l: left, r: right}, nil
	}
	return left, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.acceptSymbol("-") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negExpr{x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.peek()
	switch t.typ {
	case tokString:
		p.advance()
		return p.parseAccessors(litExpr{v: t.text})
	case tokInt:
		p.advance()
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, p.errorf(t, "bad integer literal")
		}
		return p.parseAccessors(litExpr{v: n})
	case tokFloat:
		p.advance()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "bad float literal")
		}
		return p.parseAccessors(litExpr{v: f})
	case tokParam:
		p.advance()
		return p.parseAccessors(paramExpr{name: t.text})
	case tokKeyword:
		switch t.text {
		case "TRUE":
			p.advance()
			return litExpr{v: true}, nil
		case "FALSE":
			p.advance()
			return litExpr{v: false}, nil
		case "NULL":
			p.advance()
			return litExpr{v: nil}, nil
		case "CASE":
			p.advance()
			return p.parseCase()
		}
		return nil, p.errorf(t, "unexpected "+t.text)
	case tokIdent:
		p.advance()
		if p.peek().typ == tokSymbol && p.peek().text == "(" {
			return p.parseCall(t.text)
		}
		return p.parseAccessors(identExpr{name: t.text})
	case tokSymbol:
		switch t.text {
		case "(":
			p.advance()
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return p.parseAccessors(inner)
		case "{":
			return p.parseMapLiteral()
		}
	}
	return nil, p.errorf(t, "expression expected")
}

// parseAccessors consumes trailing .name accessors.
func (p *parser) parseAccessors(base expr) (expr, error) {
	for p.acceptSymbol(".") {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		base = propExpr{base: base, name: name}
	}
	return base, nil
}

func (p *parser) parseCall(fn string) (expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	call := callExpr{fn: strings.ToLower(fn)}
	if p.acceptSymbol("*") {
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		call.star = true
		return p.parseAccessors(call)
	}
	if p.acceptSymbol(")") {
		return p.parseAccessors(call)
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
		if p.acceptSymbol(",") {
			continue
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return p.parseAccessors(call)
	}
}

func (p *parser) parseCase() (expr, error) {
	var ce caseExpr
	for p.acceptKeyword("WHEN") {
		when, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.whens = append(ce.whens, whenThen{when: when, then: then})
	}
	if len(ce.whens) == 0 {
		return nil, p.errorf(p.peek(), "CASE needs at least one WHEN")
	}
	if p.acceptKeyword("ELSE") {
		els, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.els = els
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return ce, nil
}

func (p *parser) parseMapLiteral() (expr, error) {
	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	var me mapExpr
	if p.acceptSymbol("}") {
		return me, nil
	}
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(":"); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		me.keys = append(me.keys, name)
		me.vals = append(me.vals, v)
		if p.acceptSymbol(",") {
			continue
		}
		if err := p.expectSymbol("}"); err != nil {
			return nil, err
		}
		return me, nil
	}
}
